package server

import (
	"os"
	"sync"
)

// TaskPipe lets a non-loop goroutine (today: only the snapshot
// worker) wake the single-threaded event loop and hand it a callback
// to run on the loop's own goroutine, via an os.Pipe read side
// registered with the poller (spec.md §5 "an os.Pipe-based task queue
// for cross-goroutine wakeups from the snapshot worker").
type TaskPipe struct {
	r, w *os.File

	mu    sync.Mutex
	tasks []func()
}

// NewTaskPipe opens the underlying pipe. ReadFD is what the caller
// registers with the Poller.
func NewTaskPipe() (*TaskPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &TaskPipe{r: r, w: w}, nil
}

// ReadFD is the fd to register with the Poller for readability.
func (t *TaskPipe) ReadFD() int { return int(t.r.Fd()) }

// Post queues fn to run on the event loop goroutine and wakes it. Safe
// to call from any goroutine.
func (t *TaskPipe) Post(fn func()) {
	t.mu.Lock()
	t.tasks = append(t.tasks, fn)
	t.mu.Unlock()
	t.w.Write([]byte{0})
}

// Drain is called by the event loop when the read side is readable:
// it discards the wakeup bytes and runs every queued task in order.
func (t *TaskPipe) Drain() {
	buf := make([]byte, 64)
	for {
		n, err := t.r.Read(buf)
		if n == 0 || err != nil {
			break
		}
		if n < len(buf) {
			break
		}
	}

	t.mu.Lock()
	tasks := t.tasks
	t.tasks = nil
	t.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// Close releases both ends of the pipe.
func (t *TaskPipe) Close() error {
	werr := t.w.Close()
	rerr := t.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
