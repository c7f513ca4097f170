package soft

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// CommandQueue owns the GPU timeline: a goroutine running submitted work in order.
type CommandQueue struct {
	dev  *Device
	kind gpu.CommandListKind

	work      chan func()
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newCommandQueue(d *Device, kind gpu.CommandListKind) *CommandQueue {
	q := &CommandQueue{
		dev:  d,
		kind: kind,
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *CommandQueue) run() {
	defer close(q.done)
	for fn := range q.work {
		fn()
	}
}

func (q *CommandQueue) enqueue(fn func()) error {
	if q.closed.Load() {
		return ErrReleased
	}
	q.work <- fn
	return nil
}

func (q *CommandQueue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("command list %T does not belong to the soft backend", l)
		}
		if !cl.closed {
			return fmt.Errorf("command list submitted while still recording")
		}
		if cl.err != nil {
			return fmt.Errorf("command list closed with an error: %w", cl.err)
		}
		cmds := append([]command(nil), cl.cmds...)
		alloc := cl.alloc
		alloc.inFlight.Add(1)
		latency := q.dev.cfg.gpuLatency
		err := q.enqueue(func() {
			if latency > 0 {
				time.Sleep(latency)
			}
			newExecutor(q.dev).run(cmds)
			alloc.inFlight.Add(-1)
			q.dev.mu.Lock()
			q.dev.stats.submissions++
			q.dev.mu.Unlock()
		})
		if err != nil {
			alloc.inFlight.Add(-1)
			return err
		}
	}
	return nil
}

func (q *CommandQueue) Signal(fence gpu.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the soft backend", fence)
	}
	return q.enqueue(func() {
		f.Signal(value)
	})
}

// Release drains the timeline and stops it.
func (q *CommandQueue) Release() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.work)
	})
	<-q.done
}

type CommandAllocator struct {
	kind     gpu.CommandListKind
	inFlight atomic.Int32
}

func (a *CommandAllocator) Reset() error {
	if n := a.inFlight.Load(); n > 0 {
		return fmt.Errorf("command allocator reset while %d submitted list(s) are still executing", n)
	}
	return nil
}

func (a *CommandAllocator) Release() {}
