package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

var descriptorIncrements = map[gpu.HeapKind]uint32{
	gpu.HeapKindCBVSRVUAV: 32,
	gpu.HeapKindSampler:   16,
	gpu.HeapKindRTV:       8,
	gpu.HeapKindDSV:       8,
}

// Set layouts by descriptor range type. Root parameter i binds descriptor set i, and
// every set holds a single descriptor at binding 0.
const (
	setLayoutUniform = iota
	setLayoutSampledImage
	setLayoutSampler
	setLayoutCount
)

type renderPassKey struct {
	color vk.Format
	depth vk.Format
}

type framebufferKey struct {
	color vk.ImageView
	depth vk.ImageView
}

type Device struct {
	pd     *physicalDevice
	handle vk.Device
	queue  vk.Queue
	family uint32
	locks  *lockPool

	addresses *rangeTable[*Resource]
	handles   *rangeTable[*DescriptorHeap]

	setLayouts [setLayoutCount]vk.DescriptorSetLayout
	uploadPool vk.CommandPool

	mu           sync.Mutex
	substitutes  map[gpu.Format]vk.Format
	renderPasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer
}

func newDevice(pd *physicalDevice) (*Device, error) {
	core.LogInfo("Creating logical device on %q...", pd.desc.Name)

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(pd.queueFamily),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	deviceFeatures := []vk.PhysicalDeviceFeatures{{
		SamplerAnisotropy: pd.features.SamplerAnisotropy,
	}}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(pd.handle, "VK_KHR_portability_subset") {
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        deviceFeatures,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}

	var handle vk.Device
	if err := check("vkCreateDevice", vk.CreateDevice(pd.handle, &createInfo, nil, &handle)); err != nil {
		return nil, err
	}

	d := &Device{
		pd:           pd,
		handle:       handle,
		family:       uint32(pd.queueFamily),
		locks:        newLockPool(),
		addresses:    newRangeTable[*Resource](0x10000, 0x10000),
		handles:      newRangeTable[*DescriptorHeap](0x1000, 0x1000),
		substitutes:  make(map[gpu.Format]vk.Format),
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		framebuffers: make(map[framebufferKey]vk.Framebuffer),
	}
	vk.GetDeviceQueue(handle, d.family, 0, &d.queue)

	if err := d.createSetLayouts(); err != nil {
		d.Release()
		return nil, err
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if err := check("vkCreateCommandPool", vk.CreateCommandPool(handle, &poolCreateInfo, nil, &d.uploadPool)); err != nil {
		d.Release()
		return nil, err
	}

	core.LogInfo("Logical device created.")
	return d, nil
}

func (d *Device) createSetLayouts() error {
	types := [setLayoutCount]vk.DescriptorType{
		setLayoutUniform:      vk.DescriptorTypeUniformBuffer,
		setLayoutSampledImage: vk.DescriptorTypeSampledImage,
		setLayoutSampler:      vk.DescriptorTypeSampler,
	}
	for i, t := range types {
		info := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: 1,
			PBindings: []vk.DescriptorSetLayoutBinding{{
				Binding:         0,
				DescriptorType:  t,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
			}},
		}
		if err := check("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.handle, &info, nil, &d.setLayouts[i])); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) setLayout(t gpu.DescriptorRangeType) vk.DescriptorSetLayout {
	switch t {
	case gpu.DescriptorRangeCBV:
		return d.setLayouts[setLayoutUniform]
	case gpu.DescriptorRangeSRV:
		return d.setLayouts[setLayoutSampledImage]
	}
	return d.setLayouts[setLayoutSampler]
}

// findMemoryIndex returns the first memory type allowed by typeFilter that has every
// requested property.
func (d *Device) findMemoryIndex(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	memory := &d.pd.memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memory.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type with properties 0x%x in mask 0x%x", uint32(properties), typeFilter)
}

func (d *Device) vkFormat(f gpu.Format) vk.Format {
	d.mu.Lock()
	sub, ok := d.substitutes[f]
	d.mu.Unlock()
	if ok {
		return sub
	}
	return vkFormat(f)
}

func vkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatD32Float:
		return vk.FormatD32Sfloat
	case gpu.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat
	case gpu.FormatR16Uint:
		return vk.FormatR16Uint
	case gpu.FormatR32Uint:
		return vk.FormatR32Uint
	}
	return vk.FormatUndefined
}

func (d *Device) CreateCommandQueue(kind gpu.CommandListKind) (gpu.CommandQueue, error) {
	if kind != gpu.CommandListDirect {
		return nil, fmt.Errorf("only direct queues are supported")
	}
	return &CommandQueue{device: d}, nil
}

func (d *Device) CreateCommandAllocator(kind gpu.CommandListKind) (gpu.CommandAllocator, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.family,
	}
	var pool vk.CommandPool
	if err := check("vkCreateCommandPool", vk.CreateCommandPool(d.handle, &info, nil, &pool)); err != nil {
		return nil, err
	}
	return &CommandAllocator{device: d, pool: pool}, nil
}

func (d *Device) CreateCommandList(kind gpu.CommandListKind, allocator gpu.CommandAllocator, initial gpu.PipelineState) (gpu.CommandList, error) {
	l := &CommandList{device: d}
	if err := l.Reset(allocator, initial); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	return &Fence{device: d, completed: initialValue}, nil
}

func (d *Device) DescriptorHandleIncrementSize(kind gpu.HeapKind) uint32 {
	return descriptorIncrements[kind]
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	switch desc.Dimension {
	case gpu.ResourceDimensionBuffer:
		return d.createBuffer(heap, desc)
	case gpu.ResourceDimensionTexture2D:
		return d.createImage(desc)
	}
	return nil, fmt.Errorf("unsupported resource dimension %d", desc.Dimension)
}

func (d *Device) CreateRenderTargetView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	r, err := d.imageResource(resource)
	if err != nil {
		return err
	}
	if _, err := r.imageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		return err
	}
	return d.writeDescriptor(dest, func(s *descriptorSlot) error {
		s.resource = r
		return nil
	})
}

func (d *Device) CreateDepthStencilView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	r, err := d.imageResource(resource)
	if err != nil {
		return err
	}
	if _, err := r.imageView(vk.ImageAspectFlags(vk.ImageAspectDepthBit)); err != nil {
		return err
	}
	return d.writeDescriptor(dest, func(s *descriptorSlot) error {
		s.resource = r
		return nil
	})
}

func (d *Device) CreateConstantBufferView(desc gpu.ConstantBufferViewDesc, dest gpu.CPUDescriptorHandle) error {
	r, offset, ok := d.addresses.Lookup(desc.BufferLocation)
	if !ok {
		return fmt.Errorf("no buffer at GPU address 0x%x", desc.BufferLocation)
	}
	return d.writeDescriptor(dest, func(s *descriptorSlot) error {
		set, err := s.heap.setFor(s, gpu.DescriptorRangeCBV)
		if err != nil {
			return err
		}
		s.resource = r
		d.updateSet(vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: r.buffer,
				Offset: vk.DeviceSize(offset),
				Range:  vk.DeviceSize(desc.SizeInBytes),
			}},
		})
		return nil
	})
}

func (d *Device) CreateShaderResourceView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	r, err := d.imageResource(resource)
	if err != nil {
		return err
	}
	view, err := r.imageView(vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return err
	}
	return d.writeDescriptor(dest, func(s *descriptorSlot) error {
		set, err := s.heap.setFor(s, gpu.DescriptorRangeSRV)
		if err != nil {
			return err
		}
		s.resource = r
		d.updateSet(vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageView:   view,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		})
		return nil
	})
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc, dest gpu.CPUDescriptorHandle) error {
	filter := vk.FilterNearest
	mipmap := vk.SamplerMipmapModeNearest
	if desc.Filter == gpu.FilterMinMagMipLinear {
		filter = vk.FilterLinear
		mipmap = vk.SamplerMipmapModeLinear
	}
	info := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter,
		MinFilter:        filter,
		MipmapMode:       mipmap,
		AddressModeU:     addressMode(desc.AddressU),
		AddressModeV:     addressMode(desc.AddressV),
		AddressModeW:     addressMode(desc.AddressW),
		MipLodBias:       desc.MipLODBias,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1,
		CompareEnable:    vk.False,
		CompareOp:        vk.CompareOpAlways,
		MinLod:           desc.MinLOD,
		MaxLod:           desc.MaxLOD,
		BorderColor:      vk.BorderColorFloatOpaqueBlack,
	}
	if desc.MaxAnisotropy > 1 && d.pd.features.SamplerAnisotropy == vk.True {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = float32(desc.MaxAnisotropy)
	}
	var sampler vk.Sampler
	if err := check("vkCreateSampler", vk.CreateSampler(d.handle, &info, nil, &sampler)); err != nil {
		return err
	}
	return d.writeDescriptor(dest, func(s *descriptorSlot) error {
		set, err := s.heap.setFor(s, gpu.DescriptorRangeSampler)
		if err != nil {
			vk.DestroySampler(d.handle, sampler, nil)
			return err
		}
		s.setSampler(sampler)
		d.updateSet(vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      []vk.DescriptorImageInfo{{Sampler: sampler}},
		})
		return nil
	})
}

func addressMode(m gpu.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gpu.AddressModeMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case gpu.AddressModeClamp:
		return vk.SamplerAddressModeClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func (d *Device) updateSet(write vk.WriteDescriptorSet) {
	_ = d.locks.SafeCall(descriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.handle, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (d *Device) imageResource(resource gpu.Resource) (*Resource, error) {
	r, ok := resource.(*Resource)
	if !ok {
		return nil, fmt.Errorf("resource %T does not belong to the vulkan backend", resource)
	}
	if r.image == nil {
		return nil, fmt.Errorf("resource is not a texture")
	}
	return r, nil
}

// renderPass returns the cached pass for a color and depth format pair. Both attachments
// are cleared on load. The color attachment ends ready for presentation.
func (d *Device) renderPass(color, depth vk.Format) (vk.RenderPass, error) {
	key := renderPassKey{color: color, depth: depth}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.renderPasses[key]; ok {
		return rp, nil
	}

	attachments := []vk.AttachmentDescription{{
		Format:         color,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	if depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var rp vk.RenderPass
	if err := check("vkCreateRenderPass", vk.CreateRenderPass(d.handle, &info, nil, &rp)); err != nil {
		return nil, err
	}
	d.renderPasses[key] = rp
	return rp, nil
}

func (d *Device) framebuffer(rp vk.RenderPass, color, depth *Resource) (vk.Framebuffer, error) {
	colorView, err := color.imageView(vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return nil, err
	}
	views := []vk.ImageView{colorView}
	key := framebufferKey{color: colorView}
	if depth != nil {
		depthView, err := depth.imageView(vk.ImageAspectFlags(vk.ImageAspectDepthBit))
		if err != nil {
			return nil, err
		}
		views = append(views, depthView)
		key.depth = depthView
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if fb, ok := d.framebuffers[key]; ok {
		return fb, nil
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(color.desc.Width),
		Height:          color.desc.Height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := check("vkCreateFramebuffer", vk.CreateFramebuffer(d.handle, &info, nil, &fb)); err != nil {
		return nil, err
	}
	d.framebuffers[key] = fb
	return fb, nil
}

// forgetView drops the framebuffers built on a view that is about to be destroyed.
func (d *Device) forgetView(view vk.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, fb := range d.framebuffers {
		if k.color == view || k.depth == view {
			vk.DestroyFramebuffer(d.handle, fb, nil)
			delete(d.framebuffers, k)
		}
	}
}

// WaitIdle blocks until the queue has drained.
func (d *Device) WaitIdle() {
	_ = d.locks.SafeCall(queueManagement, func() error {
		vk.DeviceWaitIdle(d.handle)
		return nil
	})
}

func (d *Device) Release() {
	if d.handle == nil {
		return
	}
	d.WaitIdle()
	for k, fb := range d.framebuffers {
		vk.DestroyFramebuffer(d.handle, fb, nil)
		delete(d.framebuffers, k)
	}
	for k, rp := range d.renderPasses {
		vk.DestroyRenderPass(d.handle, rp, nil)
		delete(d.renderPasses, k)
	}
	if d.uploadPool != nil {
		vk.DestroyCommandPool(d.handle, d.uploadPool, nil)
		d.uploadPool = nil
	}
	for i, l := range d.setLayouts {
		if l != nil {
			vk.DestroyDescriptorSetLayout(d.handle, l, nil)
			d.setLayouts[i] = nil
		}
	}
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
	core.LogInfo("Logical device destroyed.")
}
