// Package page implements the mmap-backed log page of spec.md §4.3: a
// single file holding a contiguous run of entries behind a 32-byte
// header {version, reserved, prev_index, reserved, crc}, terminated
// by a 4-byte zero end-marker.
//
// A Page never hands out a reference into its mmap region that could
// outlive the mapping — entry lookups return decoded copies (see
// pkg/entry.Decode), and GetRange returns a bounded sub-slice valid
// only until the next Expand or Close.
package page

import (
	"hash/crc32"
	"os"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/pkg/buffer"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/status"
)

const (
	// HeaderSize is the fixed page header length in bytes.
	HeaderSize = 32
	// EndMarkerSize is the width of the 0x00000000 terminator that
	// follows the last entry on a page.
	EndMarkerSize = 4

	headerVersion = 1

	// MinPageSize is the smallest a page is ever mapped at, per
	// spec.md §4.3 ("mmap with capacity max(requested, existing file
	// size, 32 MiB)").
	MinPageSize = 32 * 1024 * 1024
	// MaxPageSize is the largest a page may grow to.
	MaxPageSize = 1 << 30 // 1 GiB

	diskPageSize = 4096
)

// Page is one mmap-backed region of the two-page log store.
type Page struct {
	path string
	file *os.File
	data []byte // mmap view, len == capacity

	prevIndex uint64
	offsets   []int // offsets[i] = byte offset of entry at logical index prevIndex+i+1
	wpos      int   // write cursor; header ends at HeaderSize, entries start there
	flushed   int   // msync watermark
}

// Open maps path into memory, creating it if necessary. Capacity is
// max(minLen, existing file size, MinPageSize), rounded up to a power
// of two. On header CRC mismatch the page is reinitialized empty with
// prevIndexFallback; on truncated tail, entries are read until the
// first decode failure and the write cursor is left where reading
// stopped (spec.md §4.3, §7 "CRC mismatch on log open").
func Open(path string, minLen int64, prevIndexFallback uint64) (*Page, error) {
	flags := os.O_RDWR | os.O_CREATE
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, status.New(status.KindDiskFatal, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, status.New(status.KindDiskFatal, err)
	}

	capacity := nextPow2(maxInt64(minLen, fi.Size(), MinPageSize))
	if capacity > MaxPageSize {
		capacity = MaxPageSize
	}
	if fi.Size() < capacity {
		if err := f.Truncate(capacity); err != nil {
			f.Close()
			return nil, status.New(status.KindDiskFatal, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, status.New(status.KindDiskFatal, err)
	}

	p := &Page{path: path, file: f, data: data, prevIndex: prevIndexFallback}

	if !p.headerValid() {
		p.writeHeader(prevIndexFallback)
	} else {
		p.prevIndex = readU64(p.data, 8)
	}

	p.scan()
	return p, nil
}

func maxInt64(vs ...int64) int64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func nextPow2(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (p *Page) headerValid() bool {
	if len(p.data) < HeaderSize {
		return false
	}
	header := p.data[:HeaderSize]
	if readU32(header, 0) != headerVersion {
		return false
	}
	want := readU32(header, 28)
	got := headerCRC(header)
	return want == got
}

func headerCRC(header []byte) uint32 {
	return crc32.ChecksumIEEE(header[:28])
}

func (p *Page) writeHeader(prevIndex uint64) {
	header := p.data[:HeaderSize]
	for i := range header {
		header[i] = 0
	}
	putU32(header, 0, headerVersion)
	putU64(header, 8, prevIndex)
	crc := headerCRC(header)
	putU32(header, 28, crc)
	p.prevIndex = prevIndex
	p.wpos = HeaderSize
	p.offsets = nil
	putU32(p.data, p.wpos, 0) // end marker
}

// scan walks entries from HeaderSize until the end-marker or a decode
// failure, rebuilding the offsets index. A partial tail is silently
// dropped: wpos ends at the last good entry boundary.
func (p *Page) scan() {
	p.offsets = p.offsets[:0]
	pos := HeaderSize
	for {
		if pos+EndMarkerSize > len(p.data) {
			break
		}
		if readU32(p.data, pos) == 0 {
			break // end marker (or zeroed tail)
		}
		view := buffer.Wrap(p.data[pos:])
		e, ok := entry.Decode(view)
		if !ok {
			break // CRC mismatch or truncated tail mid-entry
		}
		p.offsets = append(p.offsets, pos)
		pos += int(e.Len)
	}
	p.wpos = pos
	p.flushed = pos
	if p.wpos+EndMarkerSize <= len(p.data) {
		putU32(p.data, p.wpos, 0)
	}
}

// IsEmpty reports whether the page holds no entries.
func (p *Page) IsEmpty() bool { return len(p.offsets) == 0 }

// PrevIndex returns the logical index of the entry immediately before
// the first entry on this page.
func (p *Page) PrevIndex() uint64 { return p.prevIndex }

// EntryCount returns the number of entries currently on the page.
func (p *Page) EntryCount() int { return len(p.offsets) }

// LastIndex returns PrevIndex()+EntryCount() — the logical index of
// the last entry on the page (or PrevIndex() if empty).
func (p *Page) LastIndex() uint64 { return p.prevIndex + uint64(len(p.offsets)) }

// Capacity returns the current mmap size in bytes.
func (p *Page) Capacity() int { return len(p.data) }

// Append writes entryBytes (a fully encoded entry, see pkg/entry.Encode)
// at the current write cursor if it fits, along with a fresh end
// marker. Returns false ("full") if it does not fit; the caller should
// call Expand and retry, or trigger snapshot rotation.
func (p *Page) Append(entryBytes []byte) bool {
	need := len(entryBytes) + EndMarkerSize
	if p.wpos+need > len(p.data) {
		return false
	}
	copy(p.data[p.wpos:], entryBytes)
	p.offsets = append(p.offsets, p.wpos)
	p.wpos += len(entryBytes)
	putU32(p.data, p.wpos, 0)
	return true
}

// Expand doubles the page's capacity (rounded to a power of two, up
// to MaxPageSize) by truncating the backing file and remapping.
// Returns false if the page is already at MaxPageSize.
func (p *Page) Expand() bool {
	if len(p.data) >= MaxPageSize {
		return false
	}
	newCap := len(p.data) * 2
	if newCap > MaxPageSize {
		newCap = MaxPageSize
	}
	if err := p.file.Truncate(int64(newCap)); err != nil {
		log.Errorf("page: expand truncate failed", err)
		return false
	}
	if err := unix.Munmap(p.data); err != nil {
		log.Errorf("page: expand munmap failed", err)
		return false
	}
	data, err := unix.Mmap(int(p.file.Fd()), 0, newCap, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		log.Errorf("page: expand mmap failed", err)
		return false
	}
	p.data = data
	return true
}

// EntryAt decodes and returns the entry at the given logical index.
func (p *Page) EntryAt(index uint64) (entry.Entry, bool) {
	i := int(index - p.prevIndex - 1)
	if i < 0 || i >= len(p.offsets) {
		return entry.Entry{}, false
	}
	view := buffer.Wrap(p.data[p.offsets[i]:])
	return entry.Decode(view)
}

// GetRange returns the raw bytes of entries starting at index, up to
// byteLimit bytes, along with how many whole entries were included.
// The returned slice aliases the mmap region.
func (p *Page) GetRange(index uint64, byteLimit int) (data []byte, entryCount int) {
	i := int(index - p.prevIndex - 1)
	if i < 0 || i >= len(p.offsets) {
		return nil, 0
	}
	start := p.offsets[i]
	end := start
	count := 0
	for j := i; j < len(p.offsets); j++ {
		entryEnd := p.wpos
		if j+1 < len(p.offsets) {
			entryEnd = p.offsets[j+1]
		}
		if entryEnd-start > byteLimit && count > 0 {
			break
		}
		end = entryEnd
		count++
		if entryEnd-start >= byteLimit {
			break
		}
	}
	return p.data[start:end], count
}

// TruncateAfter drops every entry with logical index > index,
// rewinding the write cursor and overwriting the end marker.
func (p *Page) TruncateAfter(index uint64) {
	keep := int(index - p.prevIndex)
	if keep < 0 {
		keep = 0
	}
	if keep >= len(p.offsets) {
		return
	}
	newWpos := HeaderSize
	if keep > 0 {
		newWpos = p.offsets[keep]
	}
	p.offsets = p.offsets[:keep]
	p.wpos = newWpos
	if p.wpos+EndMarkerSize <= len(p.data) {
		putU32(p.data, p.wpos, 0)
	}
	if p.flushed > p.wpos {
		p.flushed = p.wpos
	}
}

// Clear resets the page to empty with a new prevIndex, for reuse after
// its content has been folded into a snapshot.
func (p *Page) Clear(prevIndex uint64) {
	p.writeHeader(prevIndex)
}

// Flush msyncs the page-aligned range [flushed & ~(pagesize-1), wpos)
// and advances the flush watermark. This is the system's only fsync
// cost (spec.md §4.3).
func (p *Page) Flush() error {
	if p.wpos <= p.flushed {
		return nil
	}
	alignedStart := p.flushed &^ (diskPageSize - 1)
	length := p.wpos - alignedStart
	if length <= 0 {
		p.flushed = p.wpos
		return nil
	}
	if alignedStart+length > len(p.data) {
		length = len(p.data) - alignedStart
	}
	if err := unix.Msync(p.data[alignedStart:alignedStart+length], unix.MS_SYNC); err != nil {
		return status.New(status.KindDiskFatal, err)
	}
	p.flushed = p.wpos
	return nil
}

// Close unmaps and closes the backing file.
func (p *Page) Close() error {
	if err := unix.Munmap(p.data); err != nil {
		return err
	}
	return p.file.Close()
}

func readU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func putU32(b []byte, off int, v uint32) {
	b[off+0] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func readU64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}

func putU64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}
