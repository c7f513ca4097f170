package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// FrameSynchronizer keeps one fence and one expected value per frame slot. The value of a
// slot counts the frames submitted on it.
type FrameSynchronizer struct {
	queue   gpu.CommandQueue
	fences  []gpu.Fence
	values  []uint64
	timeout time.Duration
}

func NewFrameSynchronizer(device gpu.Device, queue gpu.CommandQueue, frameCount uint32, timeout time.Duration) (*FrameSynchronizer, error) {
	s := &FrameSynchronizer{
		queue:   queue,
		values:  make([]uint64, frameCount),
		timeout: timeout,
	}
	for i := uint32(0); i < frameCount; i++ {
		fence, err := device.CreateFence(0)
		if err != nil {
			s.Release()
			return nil, core.NewInitializationError("CreateFence", err)
		}
		s.fences = append(s.fences, fence)
	}
	return s, nil
}

// Values returns a copy of the per slot fence values.
func (s *FrameSynchronizer) Values() []uint64 {
	return append([]uint64(nil), s.values...)
}

// AllocatorFree reports whether the GPU has finished every frame submitted on slot.
func (s *FrameSynchronizer) AllocatorFree(slot uint32) bool {
	return s.fences[slot].CompletedValue() >= s.values[slot]
}

// WaitPreviousFrame signals the fence of the frame just submitted on slot and then waits
// until the next slot's previous frame has completed, so its allocator can be reset.
// Slots are frames in flight, not swapchain images.
func (s *FrameSynchronizer) WaitPreviousFrame(slot uint32) error {
	s.values[slot]++
	if err := s.queue.Signal(s.fences[slot], s.values[slot]); err != nil {
		return core.NewDeviceLostError("Signal", err)
	}
	next := (slot + 1) % uint32(len(s.fences))
	return s.wait(next, s.values[next])
}

// WaitGPU signals one past the current value of frame and waits for it. Every list
// submitted before the call has completed when it returns.
func (s *FrameSynchronizer) WaitGPU(frame uint32) error {
	target := s.values[frame] + 1
	if err := s.queue.Signal(s.fences[frame], target); err != nil {
		return core.NewDeviceLostError("Signal", err)
	}
	if err := s.wait(frame, target); err != nil {
		return err
	}
	s.values[frame] = target
	return nil
}

func (s *FrameSynchronizer) wait(slot uint32, value uint64) error {
	fence := s.fences[slot]
	if fence.CompletedValue() >= value {
		return nil
	}
	res, err := fence.Wait(value, s.timeout)
	if err != nil {
		return core.NewDeviceLostError("Fence.Wait", err)
	}
	if res == gpu.WaitTimedOut {
		return core.NewDeviceLostError("Fence.Wait",
			fmt.Errorf("%w: slot %d value %d after %s", core.ErrFenceTimeout, slot, value, s.timeout))
	}
	return nil
}

func (s *FrameSynchronizer) Release() {
	for _, f := range s.fences {
		f.Release()
	}
	s.fences = nil
}
