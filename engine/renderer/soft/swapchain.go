package soft

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type SwapChain struct {
	dev     *Device
	queue   *CommandQueue
	desc    gpu.SwapChainDesc
	buffers []*Resource
	current uint32

	// Position in the device's acquire order, when it has one.
	acquired int

	mu        sync.Mutex
	presented []uint32
}

func newSwapChain(d *Device, q *CommandQueue, desc gpu.SwapChainDesc) (*SwapChain, error) {
	if desc.BufferCount < 2 {
		return nil, fmt.Errorf("flip model swapchains need at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("swapchain of size %dx%d", desc.Width, desc.Height)
	}
	for _, idx := range d.cfg.acquire {
		if idx >= desc.BufferCount {
			return nil, fmt.Errorf("acquire order names buffer %d of %d", idx, desc.BufferCount)
		}
	}
	sc := &SwapChain{dev: d, queue: q, desc: desc}
	if len(d.cfg.acquire) > 0 {
		sc.current = d.cfg.acquire[0]
	}
	for i := uint32(0); i < desc.BufferCount; i++ {
		r, err := newResource(d, gpu.HeapTypeDefault,
			gpu.Tex2DDesc(desc.Format, desc.Width, desc.Height, gpu.ResourceFlagAllowRenderTarget),
			gpu.ResourceStatePresent, nil)
		if err != nil {
			return nil, err
		}
		sc.buffers = append(sc.buffers, r)
	}
	return sc, nil
}

func (s *SwapChain) Desc() gpu.SwapChainDesc { return s.desc }

func (s *SwapChain) CurrentBackBufferIndex() uint32 { return s.current }

func (s *SwapChain) Buffer(index uint32) (gpu.Resource, error) {
	if index >= uint32(len(s.buffers)) {
		return nil, fmt.Errorf("swapchain buffer %d out of range", index)
	}
	return s.buffers[index], nil
}

func (s *SwapChain) Present(syncInterval uint32, flags uint32) error {
	idx := s.current
	buf := s.buffers[idx]
	err := s.queue.enqueue(func() {
		if buf.state != gpu.ResourceStatePresent {
			s.dev.validationf("present of back buffer %d in %s", idx, buf.state)
		}
		s.mu.Lock()
		s.presented = append(s.presented, idx)
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}
	s.current = s.next()
	return nil
}

func (s *SwapChain) next() uint32 {
	order := s.dev.cfg.acquire
	if len(order) == 0 {
		return (s.current + 1) % s.desc.BufferCount
	}
	s.acquired = (s.acquired + 1) % len(order)
	return order[s.acquired]
}

// Presented returns the back buffer indices in the order the timeline presented them.
func (s *SwapChain) Presented() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.presented...)
}

func (s *SwapChain) Release() {
	for _, b := range s.buffers {
		b.Release()
	}
}
