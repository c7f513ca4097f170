package soft

import (
	"sync"
	"time"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type Fence struct {
	mu        sync.Mutex
	completed uint64
	changed   chan struct{}
}

func newFence(initial uint64) *Fence {
	return &Fence{completed: initial, changed: make(chan struct{})}
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Signal sets the completed value from the CPU side.
func (f *Fence) Signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value > f.completed {
		f.completed = value
	}
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fence) Wait(value uint64, timeout time.Duration) (gpu.WaitResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		if f.completed >= value {
			f.mu.Unlock()
			return gpu.WaitSignaled, nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return gpu.WaitTimedOut, nil
		}
	}
}

func (f *Fence) Release() {}
