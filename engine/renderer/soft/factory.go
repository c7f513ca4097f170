// Package soft is a CPU implementation of the gpu abstraction. Submitted command lists
// run on a timeline goroutine in submission order, fences are signaled by that timeline
// and every draw is validated against the bound root signature and descriptor heaps.
// It backs the tests and headless runs.
package soft

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

var ErrReleased = errors.New("object already released")

type config struct {
	adapters   []gpu.AdapterDesc
	increments map[gpu.HeapKind]uint32
	gpuLatency time.Duration
	fault      func(op string) error
	acquire    []uint32
}

type Option func(*config)

// WithAdapters replaces the adapters reported by EnumAdapters.
func WithAdapters(adapters ...gpu.AdapterDesc) Option {
	return func(c *config) {
		c.adapters = adapters
	}
}

// WithDescriptorIncrements overrides the handle stride of the given heap kinds.
func WithDescriptorIncrements(increments map[gpu.HeapKind]uint32) Option {
	return func(c *config) {
		for k, v := range increments {
			c.increments[k] = v
		}
	}
}

// WithGPULatency delays the completion of every submitted command list, which delays
// any fence signal queued after it.
func WithGPULatency(d time.Duration) Option {
	return func(c *config) {
		c.gpuLatency = d
	}
}

// WithFault makes object creation fail whenever fn returns an error for the operation
// name (e.g. "CreateCommittedResource", "CreateCommandQueue").
func WithFault(fn func(op string) error) Option {
	return func(c *config) {
		c.fault = fn
	}
}

// WithAcquireOrder makes swapchains hand out back buffers in the given repeating order
// instead of round robin, the way a compositor may return images out of order.
func WithAcquireOrder(order ...uint32) Option {
	return func(c *config) {
		c.acquire = order
	}
}

func DefaultAdapters() []gpu.AdapterDesc {
	return []gpu.AdapterDesc{
		{Name: "Soft Basic Render Driver", Software: true, MaxFeatureLevel: gpu.FeatureLevel12_1},
		{Name: "Soft GPU", VendorID: 0x1414, DeviceID: 0x8c, DedicatedVideoMemory: 256 << 20, MaxFeatureLevel: gpu.FeatureLevel12_0},
	}
}

type Factory struct {
	cfg *config
}

func NewFactory(opts ...Option) *Factory {
	cfg := &config{
		adapters: DefaultAdapters(),
		increments: map[gpu.HeapKind]uint32{
			gpu.HeapKindCBVSRVUAV: 32,
			gpu.HeapKindSampler:   16,
			gpu.HeapKindRTV:       8,
			gpu.HeapKindDSV:       8,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Factory{cfg: cfg}
}

func (c *config) check(op string) error {
	if c.fault == nil {
		return nil
	}
	if err := c.fault(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (f *Factory) EnumAdapters() ([]gpu.AdapterDesc, error) {
	if err := f.cfg.check("EnumAdapters"); err != nil {
		return nil, err
	}
	return append([]gpu.AdapterDesc(nil), f.cfg.adapters...), nil
}

func (f *Factory) CreateDevice(adapter uint32, level gpu.FeatureLevel) (gpu.Device, error) {
	if int(adapter) >= len(f.cfg.adapters) {
		return nil, fmt.Errorf("adapter %d not found", adapter)
	}
	if err := f.cfg.check("CreateDevice"); err != nil {
		return nil, err
	}
	desc := f.cfg.adapters[adapter]
	if desc.MaxFeatureLevel < level {
		return nil, fmt.Errorf("adapter %q supports feature level %s, %s requested", desc.Name, desc.MaxFeatureLevel, level)
	}
	core.LogDebug("soft device created on adapter %q", desc.Name)
	return newDevice(f.cfg, desc), nil
}

func (f *Factory) CreateSwapChain(device gpu.Device, queue gpu.CommandQueue, desc gpu.SwapChainDesc) (gpu.SwapChain, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, fmt.Errorf("device %T does not belong to the soft backend", device)
	}
	q, ok := queue.(*CommandQueue)
	if !ok {
		return nil, fmt.Errorf("queue %T does not belong to the soft backend", queue)
	}
	if err := f.cfg.check("CreateSwapChain"); err != nil {
		return nil, err
	}
	return newSwapChain(d, q, desc)
}

func (f *Factory) Release() {}
