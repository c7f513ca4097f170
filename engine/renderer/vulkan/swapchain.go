package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const acquireTimeout = time.Second

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapchainSupport(device vk.PhysicalDevice, surface vk.Surface) (*swapchainSupport, error) {
	info := &swapchainSupport{}
	if err := check("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &info.capabilities)); err != nil {
		return nil, err
	}
	info.capabilities.Deref()
	info.capabilities.CurrentExtent.Deref()
	info.capabilities.MinImageExtent.Deref()
	info.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(device, surface, &count, nil)); err != nil {
		return nil, err
	}
	info.formats = make([]vk.SurfaceFormat, count)
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(device, surface, &count, info.formats)); err != nil {
		return nil, err
	}
	for i := range info.formats {
		info.formats[i].Deref()
	}

	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &count, nil)); err != nil {
		return nil, err
	}
	info.presentModes = make([]vk.PresentMode, count)
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &count, info.presentModes)); err != nil {
		return nil, err
	}
	if len(info.formats) == 0 || len(info.presentModes) == 0 {
		return nil, fmt.Errorf("surface reports no formats or present modes")
	}
	return info, nil
}

// SwapChain presents through FIFO. The next image is acquired synchronously after every
// Present so CurrentBackBufferIndex is known before recording starts.
type SwapChain struct {
	device *Device
	desc   gpu.SwapChainDesc
	handle vk.Swapchain
	format vk.SurfaceFormat

	buffers    []*Resource
	renderDone []vk.Semaphore
	rendered   []bool
	acquire    vk.Fence
	index      uint32
}

func newSwapChain(d *Device, surface vk.Surface, desc gpu.SwapChainDesc) (*SwapChain, error) {
	support, err := querySwapchainSupport(d.pd.handle, surface)
	if err != nil {
		return nil, err
	}
	caps := support.capabilities

	sc := &SwapChain{device: d}
	want := vkFormat(desc.Format)
	sc.format = support.formats[0]
	for _, f := range support.formats {
		if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.format = f
			break
		}
	}
	if sc.format.Format != want {
		core.LogWarn("surface does not support %s, presenting in VkFormat %d", desc.Format, sc.format.Format)
		d.mu.Lock()
		d.substitutes[desc.Format] = sc.format.Format
		d.mu.Unlock()
	}

	extent := vk.Extent2D{Width: desc.Width, Height: desc.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := desc.BufferCount
	if imageCount < caps.MinImageCount {
		imageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
	}
	if err := check("vkCreateSwapchain", vk.CreateSwapchain(d.handle, &createInfo, nil, &sc.handle)); err != nil {
		return nil, err
	}

	var count uint32
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, sc.handle, &count, nil)); err != nil {
		sc.Release()
		return nil, err
	}
	images := make([]vk.Image, count)
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, sc.handle, &count, images)); err != nil {
		sc.Release()
		return nil, err
	}

	sc.desc = desc
	sc.desc.Width, sc.desc.Height = extent.Width, extent.Height
	sc.desc.BufferCount = count
	if count != desc.BufferCount {
		core.LogWarn("swapchain created with %d images, %d requested", count, desc.BufferCount)
	}

	for i, img := range images {
		sc.buffers = append(sc.buffers, &Resource{
			device:     d,
			desc:       gpu.Tex2DDesc(desc.Format, extent.Width, extent.Height, gpu.ResourceFlagAllowRenderTarget),
			image:      img,
			format:     sc.format.Format,
			borrowed:   true,
			swapchain:  sc,
			backBuffer: uint32(i),
		})
		var sem vk.Semaphore
		info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if err := check("vkCreateSemaphore", vk.CreateSemaphore(d.handle, &info, nil, &sem)); err != nil {
			sc.Release()
			return nil, err
		}
		sc.renderDone = append(sc.renderDone, sem)
	}
	sc.rendered = make([]bool, count)

	if sc.acquire, err = d.newVkFence(); err != nil {
		sc.Release()
		return nil, err
	}
	if err := sc.acquireNext(); err != nil {
		sc.Release()
		return nil, err
	}
	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, count)
	return sc, nil
}

func (sc *SwapChain) acquireNext() error {
	d := sc.device
	var index uint32
	res := vk.AcquireNextImage(d.handle, sc.handle, uint64(acquireTimeout.Nanoseconds()), nil, sc.acquire, &index)
	if res != vk.Success && res != vk.Suboptimal {
		return check("vkAcquireNextImage", res)
	}
	if err := check("vkWaitForFences", vk.WaitForFences(d.handle, 1, []vk.Fence{sc.acquire}, vk.True, uint64(acquireTimeout.Nanoseconds()))); err != nil {
		return err
	}
	if err := check("vkResetFences", vk.ResetFences(d.handle, 1, []vk.Fence{sc.acquire})); err != nil {
		return err
	}
	sc.index = index
	return nil
}

// markRendered returns the semaphore the submission finishing back buffer i must
// signal, or nil when one is already pending for it.
func (sc *SwapChain) markRendered(i uint32) vk.Semaphore {
	if sc.rendered[i] {
		return nil
	}
	sc.rendered[i] = true
	return sc.renderDone[i]
}

func (sc *SwapChain) Desc() gpu.SwapChainDesc { return sc.desc }

func (sc *SwapChain) CurrentBackBufferIndex() uint32 { return sc.index }

func (sc *SwapChain) Buffer(index uint32) (gpu.Resource, error) {
	if int(index) >= len(sc.buffers) {
		return nil, fmt.Errorf("swapchain has %d buffers, %d requested", len(sc.buffers), index)
	}
	return sc.buffers[index], nil
}

func (sc *SwapChain) Present(syncInterval uint32, flags uint32) error {
	d := sc.device
	i := sc.index
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.handle},
		PImageIndices:  []uint32{i},
	}
	if sc.rendered[i] {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sc.renderDone[i]}
		sc.rendered[i] = false
	}

	var res vk.Result
	_ = d.locks.SafeCall(queueManagement, func() error {
		res = vk.QueuePresent(d.queue, &info)
		return nil
	})
	if res == vk.Suboptimal {
		core.LogDebug("swapchain is suboptimal for the surface")
	} else if err := check("vkQueuePresent", res); err != nil {
		return err
	}
	return sc.acquireNext()
}

func (sc *SwapChain) Release() {
	d := sc.device
	if d == nil {
		return
	}
	d.WaitIdle()
	for _, b := range sc.buffers {
		b.Release()
	}
	sc.buffers = nil
	for _, sem := range sc.renderDone {
		vk.DestroySemaphore(d.handle, sem, nil)
	}
	sc.renderDone = nil
	if sc.acquire != nil {
		vk.DestroyFence(d.handle, sc.acquire, nil)
		sc.acquire = nil
	}
	if sc.handle != nil {
		vk.DestroySwapchain(d.handle, sc.handle, nil)
		sc.handle = nil
	}
	sc.device = nil
}
