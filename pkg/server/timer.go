package server

// TimerID identifies a scheduled callback for cancellation.
type TimerID uint64

type timerEntry struct {
	id       TimerID
	deadline int64 // milliseconds
	fn       func()
	cancelled bool
}

// wheelSlots is the number of buckets in each tier. A timer with a
// deadline more than wheelSlots*tickMS away from now overflows into
// the next tier up, the standard hierarchical-timing-wheel design
// (spec.md §5 "a hierarchical timer wheel").
const wheelSlots = 256

// Wheel is a small hierarchical timer wheel: a handful of tiers, each
// wheelSlots buckets wide, each tier's resolution wider than the one
// below it by wheelSlots. A timer is always filed in the lowest tier
// whose span can still reach its deadline, and cascades down a tier
// each time that tier's wheel fully rotates past it.
type Wheel struct {
	tickMS int64
	now    int64
	tiers  [][]([]*timerEntry)
	nextID TimerID
	byID   map[TimerID]*timerEntry
}

// NewWheel returns a Wheel with the given base tick resolution (the
// server's heartbeat interval is the natural choice) and tierCount
// tiers, each wheelSlots wide.
func NewWheel(tickMS int64, tierCount int) *Wheel {
	if tickMS <= 0 {
		tickMS = 1
	}
	if tierCount <= 0 {
		tierCount = 4
	}
	w := &Wheel{tickMS: tickMS, tiers: make([][]([]*timerEntry), tierCount), byID: make(map[TimerID]*timerEntry)}
	for i := range w.tiers {
		w.tiers[i] = make([][]*timerEntry, wheelSlots)
	}
	return w
}

// Schedule files fn to run no earlier than afterMS milliseconds from
// the wheel's current notion of now.
func (w *Wheel) Schedule(afterMS int64, fn func()) TimerID {
	if afterMS < 0 {
		afterMS = 0
	}
	w.nextID++
	id := w.nextID
	e := &timerEntry{id: id, deadline: w.now + afterMS, fn: fn}
	w.byID[id] = e
	w.file(e)
	return id
}

func (w *Wheel) file(e *timerEntry) {
	remaining := e.deadline - w.now
	if remaining < 0 {
		remaining = 0
	}
	ticks := remaining / w.tickMS
	tier := 0
	span := int64(1)
	for tier < len(w.tiers)-1 && ticks >= wheelSlots*span {
		span *= wheelSlots
		tier++
	}
	slot := (ticks / span) % wheelSlots
	w.tiers[tier][slot] = append(w.tiers[tier][slot], e)
}

// Cancel prevents a scheduled callback from firing. Safe to call
// after it has already fired or been cancelled.
func (w *Wheel) Cancel(id TimerID) {
	if e, ok := w.byID[id]; ok {
		e.cancelled = true
		delete(w.byID, id)
	}
}

// NextDeadline returns the poller timeout (milliseconds) the event
// loop should wait before the next Advance is due, capped at maxMS so
// the loop still wakes for non-timer work periodically.
func (w *Wheel) NextDeadline(nowMS, maxMS int64) int64 {
	if nowMS < w.now {
		return maxMS
	}
	elapsed := nowMS - w.now
	remain := w.tickMS - (elapsed % w.tickMS)
	if remain <= 0 {
		remain = w.tickMS
	}
	if remain > maxMS {
		return maxMS
	}
	return remain
}

// Advance moves the wheel's clock to nowMS, running every callback
// whose deadline has passed and cascading entries from higher tiers
// down as their coarser buckets empty out.
func (w *Wheel) Advance(nowMS int64) {
	for w.now < nowMS {
		tick := w.now / w.tickMS
		w.now += w.tickMS
		w.rotateTier(0, tick)
	}
}

func (w *Wheel) rotateTier(tier int, tick int64) {
	slot := tick % wheelSlots
	due := w.tiers[tier][slot]
	w.tiers[tier][slot] = nil
	for _, e := range due {
		if e.cancelled {
			continue
		}
		delete(w.byID, e.id)
		e.fn()
	}
	if slot == wheelSlots-1 && tier+1 < len(w.tiers) {
		nextTick := tick / wheelSlots
		nextSlot := nextTick % wheelSlots
		cascading := w.tiers[tier+1][nextSlot]
		w.tiers[tier+1][nextSlot] = nil
		for _, e := range cascading {
			if e.cancelled {
				continue
			}
			w.file(e)
		}
		if nextSlot == wheelSlots-1 {
			w.rotateTier(tier+1, nextTick)
		}
	}
}
