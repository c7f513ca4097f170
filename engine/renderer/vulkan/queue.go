package vulkan

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

func (d *Device) newVkFence() (vk.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if err := check("vkCreateFence", vk.CreateFence(d.handle, &info, nil, &fence)); err != nil {
		return nil, err
	}
	return fence, nil
}

func (d *Device) submit(submits []vk.SubmitInfo, fence vk.Fence) error {
	return d.locks.SafeCall(queueManagement, func() error {
		return check("vkQueueSubmit", vk.QueueSubmit(d.queue, uint32(len(submits)), submits, fence))
	})
}

// CommandQueue wraps the device's single graphics and present queue.
type CommandQueue struct {
	device *Device
}

func (q *CommandQueue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	cmds := make([]vk.CommandBuffer, 0, len(lists))
	var signal []vk.Semaphore
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("command list %T does not belong to the vulkan backend", l)
		}
		if cl.state != listClosed {
			return fmt.Errorf("command list must be closed before execution")
		}
		cmds = append(cmds, cl.cmd)
		for _, r := range cl.presents {
			if sem := r.swapchain.markRendered(r.backBuffer); sem != nil {
				signal = append(signal, sem)
			}
		}
		cl.state = listSubmitted
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	return q.device.submit([]vk.SubmitInfo{submit}, nil)
}

// Signal queues an empty submission whose VkFence stands for value.
func (q *CommandQueue) Signal(fence gpu.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the vulkan backend", fence)
	}
	vf, err := q.device.newVkFence()
	if err != nil {
		return err
	}
	if err := q.device.submit(nil, vf); err != nil {
		vk.DestroyFence(q.device.handle, vf, nil)
		return err
	}
	f.push(value, vf)
	return nil
}

func (q *CommandQueue) Release() {}

type pendingSignal struct {
	value uint64
	fence vk.Fence
}

// Fence is a 64 bit timeline. Every Signal adds a VkFence that stands for its value.
type Fence struct {
	device    *Device
	mu        sync.Mutex
	completed uint64
	pending   []pendingSignal
}

func (f *Fence) push(value uint64, fence vk.Fence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, pendingSignal{value: value, fence: fence})
}

// poll retires signaled VkFences in submission order. Callers hold f.mu.
func (f *Fence) poll() {
	for len(f.pending) > 0 {
		p := f.pending[0]
		if vk.GetFenceStatus(f.device.handle, p.fence) != vk.Success {
			return
		}
		if p.value > f.completed {
			f.completed = p.value
		}
		vk.DestroyFence(f.device.handle, p.fence, nil)
		f.pending = f.pending[1:]
	}
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	return f.completed
}

func (f *Fence) Wait(value uint64, timeout time.Duration) (gpu.WaitResult, error) {
	deadline := time.Now().Add(timeout)
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		f.poll()
		if f.completed >= value {
			return gpu.WaitSignaled, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return gpu.WaitTimedOut, nil
		}

		var target vk.Fence
		for _, p := range f.pending {
			if p.value >= value {
				target = p.fence
				break
			}
		}
		if target == nil {
			// Nothing queued reaches value yet; give other goroutines a chance to Signal.
			f.mu.Unlock()
			time.Sleep(min(remaining, time.Millisecond))
			f.mu.Lock()
			continue
		}

		res := vk.WaitForFences(f.device.handle, 1, []vk.Fence{target}, vk.True, uint64(remaining.Nanoseconds()))
		if res != vk.Success && res != vk.Timeout {
			return gpu.WaitTimedOut, check("vkWaitForFences", res)
		}
	}
}

func (f *Fence) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pending {
		vk.DestroyFence(f.device.handle, p.fence, nil)
	}
	f.pending = nil
}

// CommandAllocator is a VkCommandPool. Resetting it returns every command buffer
// allocated from it to the initial state.
type CommandAllocator struct {
	device *Device
	pool   vk.CommandPool
}

func (a *CommandAllocator) Reset() error {
	return check("vkResetCommandPool", vk.ResetCommandPool(a.device.handle, a.pool, 0))
}

func (a *CommandAllocator) Release() {
	if a.pool != nil {
		vk.DestroyCommandPool(a.device.handle, a.pool, nil)
		a.pool = nil
	}
}
