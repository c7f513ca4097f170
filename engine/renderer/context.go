package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const (
	DefaultFrameBufferCount uint32 = 2
	DefaultGPUWaitTimeout          = 10 * time.Second
	MinimumFeatureLevel            = gpu.FeatureLevel11_0
	BackBufferFormat               = gpu.FormatR8G8B8A8Unorm
	DepthFormat                    = gpu.FormatD32Float
)

// WindowTarget is the window the swapchain presents into.
type WindowTarget interface {
	ClientSize() (width uint32, height uint32)
}

type options struct {
	frameCount  uint32
	waitTimeout time.Duration
	vsync       bool
	clearColor  [4]float32
}

type Option func(*options)

func WithFrameBufferCount(n uint32) Option {
	return func(o *options) { o.frameCount = n }
}

func WithGPUWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

func WithVSync(enabled bool) Option {
	return func(o *options) { o.vsync = enabled }
}

func WithClearColor(c [4]float32) Option {
	return func(o *options) { o.clearColor = c }
}

// DeviceContext owns every device level object: the device and its direct queue, the
// swapchain with one render target per frame slot, the depth buffer, the per slot command
// allocators and fences, and the single command list used to record frames.
type DeviceContext struct {
	opts options

	factory   gpu.Factory
	adapter   gpu.AdapterDesc
	device    gpu.Device
	queue     gpu.CommandQueue
	swapchain gpu.SwapChain

	width  uint32
	height uint32

	heaps         *HeapManager
	renderTargets []gpu.Resource
	depthBuffer   gpu.Resource
	allocators    []gpu.CommandAllocator
	commandList   gpu.CommandList
	sync          *FrameSynchronizer

	frameIndex uint32
	viewport   gpu.Viewport
	scissor    gpu.Rect
	closed     bool
}

func NewDeviceContext(factory gpu.Factory, window WindowTarget, opts ...Option) (*DeviceContext, error) {
	o := options{
		frameCount:  DefaultFrameBufferCount,
		waitTimeout: DefaultGPUWaitTimeout,
		vsync:       true,
		clearColor:  [4]float32{0.1, 0.25, 0.5, 0.0},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.frameCount < 2 {
		return nil, core.NewInitializationError("options", fmt.Errorf("frame buffer count %d, need at least 2", o.frameCount))
	}

	c := &DeviceContext{opts: o, factory: factory}
	if err := c.initialize(window); err != nil {
		c.release()
		return nil, err
	}
	return c, nil
}

func (c *DeviceContext) initialize(window WindowTarget) error {
	if err := c.createDevice(); err != nil {
		return err
	}

	queue, err := c.device.CreateCommandQueue(gpu.CommandListDirect)
	if err != nil {
		return core.NewInitializationError("CreateCommandQueue", err)
	}
	c.queue = queue

	c.width, c.height = window.ClientSize()
	swapchain, err := c.factory.CreateSwapChain(c.device, c.queue, gpu.SwapChainDesc{
		Width:       c.width,
		Height:      c.height,
		BufferCount: c.opts.frameCount,
		Format:      BackBufferFormat,
		SwapEffect:  gpu.SwapEffectFlipDiscard,
	})
	if err != nil {
		return core.NewInitializationError("CreateSwapChain", err)
	}
	c.swapchain = swapchain
	if n := swapchain.Desc().BufferCount; n != c.opts.frameCount {
		core.LogWarn("swapchain holds %d buffers, %d requested; using %d frame slots", n, c.opts.frameCount, n)
		c.opts.frameCount = n
	}
	if desc := swapchain.Desc(); desc.Width != 0 && desc.Height != 0 {
		c.width, c.height = desc.Width, desc.Height
	}

	heaps, err := NewHeapManager(c.device, c.opts.frameCount)
	if err != nil {
		return err
	}
	c.heaps = heaps

	if err := c.createRenderTargetViews(); err != nil {
		return err
	}
	if err := c.createDepthBuffer(); err != nil {
		return err
	}

	for i := uint32(0); i < c.opts.frameCount; i++ {
		alloc, err := c.device.CreateCommandAllocator(gpu.CommandListDirect)
		if err != nil {
			return core.NewInitializationError("CreateCommandAllocator", err)
		}
		c.allocators = append(c.allocators, alloc)
	}

	sync, err := NewFrameSynchronizer(c.device, c.queue, c.opts.frameCount, c.opts.waitTimeout)
	if err != nil {
		return err
	}
	c.sync = sync

	list, err := c.device.CreateCommandList(gpu.CommandListDirect, c.allocators[0], nil)
	if err != nil {
		return core.NewInitializationError("CreateCommandList", err)
	}
	c.commandList = list
	if err := list.Close(); err != nil {
		return core.NewInitializationError("CommandList.Close", err)
	}

	c.viewport = gpu.Viewport{Width: float32(c.width), Height: float32(c.height), MinDepth: 0, MaxDepth: 1}
	c.scissor = gpu.Rect{Right: int32(c.width), Bottom: int32(c.height)}
	c.frameIndex = 0

	core.LogInfo("device context ready on %q: %dx%d, %d frame buffers", c.adapter.Name, c.width, c.height, c.opts.frameCount)
	return nil
}

// createDevice walks the adapters in order, skipping software ones, and keeps the first
// that reaches the minimum feature level.
func (c *DeviceContext) createDevice() error {
	adapters, err := c.factory.EnumAdapters()
	if err != nil {
		return core.NewInitializationError("EnumAdapters", err)
	}
	var lastErr error
	for i, desc := range adapters {
		if desc.Software {
			core.LogDebug("skipping software adapter %q", desc.Name)
			continue
		}
		device, err := c.factory.CreateDevice(uint32(i), MinimumFeatureLevel)
		if err != nil {
			core.LogWarn("adapter %q rejected: %s", desc.Name, err)
			lastErr = err
			continue
		}
		c.adapter = desc
		c.device = device
		return nil
	}
	if lastErr != nil {
		return core.NewInitializationError("CreateDevice", errors.Join(core.ErrNoAdapter, lastErr))
	}
	return core.NewInitializationError("CreateDevice", core.ErrNoAdapter)
}

func (c *DeviceContext) createRenderTargetViews() error {
	for i := uint32(0); i < c.opts.frameCount; i++ {
		buf, err := c.swapchain.Buffer(i)
		if err != nil {
			return core.NewInitializationError("SwapChain.Buffer", err)
		}
		if err := c.device.CreateRenderTargetView(buf, c.heaps.RTV(i)); err != nil {
			return core.NewInitializationError("CreateRenderTargetView", err)
		}
		c.renderTargets = append(c.renderTargets, buf)
	}
	return nil
}

func (c *DeviceContext) createDepthBuffer() error {
	depth, err := c.device.CreateCommittedResource(gpu.HeapTypeDefault,
		gpu.Tex2DDesc(DepthFormat, c.width, c.height, gpu.ResourceFlagAllowDepthStencil),
		gpu.ResourceStateDepthWrite,
		&gpu.ClearValue{Format: DepthFormat, Depth: 1.0})
	if err != nil {
		return core.NewInitializationError("CreateCommittedResource(depth)", err)
	}
	c.depthBuffer = depth
	if err := c.device.CreateDepthStencilView(depth, c.heaps.DSV()); err != nil {
		return core.NewInitializationError("CreateDepthStencilView", err)
	}
	return nil
}

func (c *DeviceContext) Adapter() gpu.AdapterDesc { return c.adapter }
func (c *DeviceContext) Device() gpu.Device { return c.device }
func (c *DeviceContext) Queue() gpu.CommandQueue { return c.queue }
func (c *DeviceContext) SwapChain() gpu.SwapChain { return c.swapchain }
func (c *DeviceContext) Heaps() *HeapManager { return c.heaps }
func (c *DeviceContext) Sync() *FrameSynchronizer { return c.sync }
func (c *DeviceContext) FrameCount() uint32 { return c.opts.frameCount }

// FrameIndex is the frame slot the next Render records into. It advances by one per frame
// and is independent of BackBufferIndex.
func (c *DeviceContext) FrameIndex() uint32 { return c.frameIndex }

// BackBufferIndex is the swapchain image the next Render draws to.
func (c *DeviceContext) BackBufferIndex() uint32 { return c.swapchain.CurrentBackBufferIndex() }

func (c *DeviceContext) Viewport() gpu.Viewport { return c.viewport }
func (c *DeviceContext) ScissorRect() gpu.Rect { return c.scissor }
func (c *DeviceContext) RenderTarget(i uint32) gpu.Resource { return c.renderTargets[i] }

func (c *DeviceContext) ClientSize() (uint32, uint32) {
	return c.width, c.height
}

// WaitGPU blocks until the GPU has finished everything submitted so far.
func (c *DeviceContext) WaitGPU() error {
	return c.sync.WaitGPU(c.frameIndex)
}

// Close drains the GPU and releases every object the context owns.
func (c *DeviceContext) Close() error {
	if c.closed {
		return nil
	}
	var err error
	if c.sync != nil {
		err = c.WaitGPU()
	}
	c.release()
	c.closed = true
	return err
}

func (c *DeviceContext) release() {
	if c.commandList != nil {
		c.commandList.Release()
	}
	if c.sync != nil {
		c.sync.Release()
	}
	for _, a := range c.allocators {
		a.Release()
	}
	if c.depthBuffer != nil {
		c.depthBuffer.Release()
	}
	if c.heaps != nil {
		c.heaps.Release()
	}
	if c.swapchain != nil {
		c.swapchain.Release()
	}
	if c.queue != nil {
		c.queue.Release()
	}
	if c.device != nil {
		c.device.Release()
	}
}
