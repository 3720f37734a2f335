package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/resql/resql/pkg/status"
)

// install tracks one in-flight streamed snapshot install on a
// follower: a scratch file assembled offset by offset until the
// leader marks it done.
type install struct {
	term, index uint64
	path        string
	file        *os.File
}

// InstallResult mirrors spec.md §4.6's {ok, done, error} recv() return.
type InstallResult struct {
	OK    bool
	Done  bool
	Error error
}

// Recv writes bytes at offset into the scratch file for (term, index),
// discarding any prior scratch belonging to a different (term, index)
// pair. On done, the scratch file is atomically renamed over the
// canonical snapshot path.
func (e *Engine) Recv(term, index uint64, done bool, offset int64, data []byte) InstallResult {
	if e.installing == nil || e.installing.term != term || e.installing.index != index {
		e.discardInstall()
		scratch := filepath.Join(e.dir, fmt.Sprintf("snapshot.%d.%d.scratch", term, index))
		f, err := os.OpenFile(scratch, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
		if err != nil {
			return InstallResult{OK: false, Error: status.New(status.KindDiskFatal, err)}
		}
		e.installing = &install{term: term, index: index, path: scratch, file: f}
	}

	if len(data) > 0 {
		if _, err := e.installing.file.WriteAt(data, offset); err != nil {
			return InstallResult{OK: false, Error: status.New(status.KindDiskFatal, err)}
		}
	}

	if !done {
		return InstallResult{OK: true, Done: false}
	}

	if err := e.installing.file.Close(); err != nil {
		return InstallResult{OK: false, Error: status.New(status.KindDiskFatal, err)}
	}
	if err := os.Rename(e.installing.path, e.CanonicalPath()); err != nil {
		return InstallResult{OK: false, Error: status.New(status.KindDiskFatal, err)}
	}
	e.installing = nil
	return InstallResult{OK: true, Done: true}
}

// discardInstall drops any in-progress scratch file, used when a new
// install for a different (term, index) supersedes it, or on an
// explicit install failure (spec.md §4.6 "the follower discards the
// scratch file and waits for a new install to start").
func (e *Engine) discardInstall() {
	if e.installing == nil {
		return
	}
	e.installing.file.Close()
	os.Remove(e.installing.path)
	e.installing = nil
}

// DiscardInstall is the exported form, called by the consensus core on
// an install failure signaled from elsewhere in the pipeline.
func (e *Engine) DiscardInstall() { e.discardInstall() }
