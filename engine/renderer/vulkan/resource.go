package vulkan

import (
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const uploadTimeout = 5 * time.Second

// Resource is a buffer or a 2D image with its dedicated allocation. Buffers get a range
// of the device's virtual address space so views can be described by address.
type Resource struct {
	device  *Device
	desc    gpu.ResourceDesc
	heap    gpu.HeapType
	buffer  vk.Buffer
	image   vk.Image
	format  vk.Format
	memory  vk.DeviceMemory
	address uint64
	mapped  unsafe.Pointer
	views   map[vk.ImageAspectFlags]vk.ImageView
	// Swapchain images belong to the swapchain.
	borrowed   bool
	swapchain  *SwapChain
	backBuffer uint32
}

func memoryProperties(heap gpu.HeapType) vk.MemoryPropertyFlags {
	switch heap {
	case gpu.HeapTypeUpload, gpu.HeapTypeReadback:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}

func (d *Device) createBuffer(heap gpu.HeapType, desc gpu.ResourceDesc) (*Resource, error) {
	if desc.Width == 0 {
		return nil, fmt.Errorf("buffer size must be positive")
	}
	r := &Resource{device: d, desc: desc, heap: heap}
	info := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(desc.Width),
		Usage: vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit |
			vk.BufferUsageUniformBufferBit | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}
	if err := check("vkCreateBuffer", vk.CreateBuffer(d.handle, &info, nil, &r.buffer)); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, r.buffer, &reqs)
	reqs.Deref()
	if err := r.allocate(reqs, memoryProperties(heap)); err != nil {
		r.Release()
		return nil, err
	}
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(d.handle, r.buffer, r.memory, 0)); err != nil {
		r.Release()
		return nil, err
	}
	r.address = d.addresses.Insert(desc.Width, r)
	return r, nil
}

func (d *Device) createImage(desc gpu.ResourceDesc) (*Resource, error) {
	r := &Resource{device: d, desc: desc, heap: gpu.HeapTypeDefault, format: vkFormat(desc.Format)}
	if r.format == vk.FormatUndefined {
		return nil, fmt.Errorf("unsupported texture format %s", desc.Format)
	}

	usage := vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit
	switch {
	case desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0:
		usage = vk.ImageUsageDepthStencilAttachmentBit
	case desc.Flags&gpu.ResourceFlagAllowRenderTarget != 0:
		usage |= vk.ImageUsageColorAttachmentBit
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    r.format,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Width),
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := check("vkCreateImage", vk.CreateImage(d.handle, &info, nil, &r.image)); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, r.image, &reqs)
	reqs.Deref()
	if err := r.allocate(reqs, memoryProperties(gpu.HeapTypeDefault)); err != nil {
		r.Release()
		return nil, err
	}
	if err := check("vkBindImageMemory", vk.BindImageMemory(d.handle, r.image, r.memory, 0)); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

func (r *Resource) allocate(reqs vk.MemoryRequirements, properties vk.MemoryPropertyFlags) error {
	index, err := r.device.findMemoryIndex(reqs.MemoryTypeBits, properties)
	if err != nil {
		return err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	return check("vkAllocateMemory", vk.AllocateMemory(r.device.handle, &info, nil, &r.memory))
}

func (r *Resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *Resource) GPUVirtualAddress() uint64 { return r.address }

// Map keeps the allocation persistently mapped until Release.
func (r *Resource) Map() ([]byte, error) {
	if r.buffer == nil || r.heap == gpu.HeapTypeDefault {
		return nil, fmt.Errorf("only upload and readback buffers can be mapped")
	}
	if r.mapped == nil {
		var ptr unsafe.Pointer
		if err := check("vkMapMemory", vk.MapMemory(r.device.handle, r.memory, 0, vk.DeviceSize(r.desc.Width), 0, &ptr)); err != nil {
			return nil, err
		}
		r.mapped = ptr
	}
	return unsafe.Slice((*byte)(r.mapped), r.desc.Width), nil
}

func (r *Resource) Unmap() {}

// WriteToSubresource stages data in a host visible buffer and copies it into the image on
// the queue, leaving the image ready to be sampled.
func (r *Resource) WriteToSubresource(data []byte, rowPitch uint32) error {
	if r.image == nil {
		return fmt.Errorf("WriteToSubresource needs a texture")
	}
	d := r.device
	width, height := uint32(r.desc.Width), r.desc.Height
	tight := width * r.desc.Format.Size()
	if rowPitch < tight || uint64(len(data)) < uint64(rowPitch)*uint64(height-1)+uint64(tight) {
		return fmt.Errorf("texel data too small for %dx%d %s", width, height, r.desc.Format)
	}

	staging, err := d.createBuffer(gpu.HeapTypeUpload, gpu.BufferDesc(uint64(tight)*uint64(height)))
	if err != nil {
		return err
	}
	defer staging.Release()
	mapped, err := staging.Map()
	if err != nil {
		return err
	}
	for y := uint32(0); y < height; y++ {
		copy(mapped[y*tight:(y+1)*tight], data[y*rowPitch:y*rowPitch+tight])
	}

	return d.singleUse(func(cmd vk.CommandBuffer) {
		imageBarrier(cmd, r.image, vk.ImageAspectFlags(vk.ImageAspectColorBit),
			vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, vk.AccessFlags(vk.AccessTransferWriteBit))

		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
		}
		vk.CmdCopyBufferToImage(cmd, staging.buffer, r.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

		imageBarrier(cmd, r.image, vk.ImageAspectFlags(vk.ImageAspectColorBit),
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
	})
}

// singleUse records fn into a one time command buffer, submits it and waits for it.
func (d *Device) singleUse(fn func(cmd vk.CommandBuffer)) error {
	return d.locks.SafeCall(commandPoolManagement, func() error {
		info := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.uploadPool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		cmds := make([]vk.CommandBuffer, 1)
		if err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.handle, &info, cmds)); err != nil {
			return err
		}
		defer vk.FreeCommandBuffers(d.handle, d.uploadPool, 1, cmds)

		begin := vk.CommandBufferBeginInfo{
			SType: vk.StructureTypeCommandBufferBeginInfo,
			Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
		}
		if err := check("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmds[0], &begin)); err != nil {
			return err
		}
		fn(cmds[0])
		if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(cmds[0])); err != nil {
			return err
		}

		fence, err := d.newVkFence()
		if err != nil {
			return err
		}
		defer vk.DestroyFence(d.handle, fence, nil)
		submit := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    cmds,
		}
		if err := d.submit([]vk.SubmitInfo{submit}, fence); err != nil {
			return err
		}
		res := vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, uint64(uploadTimeout.Nanoseconds()))
		if res == vk.Timeout {
			return fmt.Errorf("upload did not finish within %s", uploadTimeout)
		}
		return check("vkWaitForFences", res)
	})
}

func imageBarrier(cmd vk.CommandBuffer, image vk.Image, aspect vk.ImageAspectFlags, from, to vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (r *Resource) imageView(aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	if view, ok := r.views[aspect]; ok {
		return view, nil
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    r.image,
		ViewType: vk.ImageViewType2d,
		Format:   r.format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := check("vkCreateImageView", vk.CreateImageView(r.device.handle, &info, nil, &view)); err != nil {
		return nil, err
	}
	if r.views == nil {
		r.views = make(map[vk.ImageAspectFlags]vk.ImageView)
	}
	r.views[aspect] = view
	return view, nil
}

func (r *Resource) Release() {
	d := r.device
	if d == nil {
		return
	}
	for aspect, view := range r.views {
		d.forgetView(view)
		vk.DestroyImageView(d.handle, view, nil)
		delete(r.views, aspect)
	}
	if r.mapped != nil {
		vk.UnmapMemory(d.handle, r.memory)
		r.mapped = nil
	}
	if r.address != 0 {
		d.addresses.Remove(r.address)
		r.address = 0
	}
	if !r.borrowed {
		if r.buffer != nil {
			vk.DestroyBuffer(d.handle, r.buffer, nil)
		}
		if r.image != nil {
			vk.DestroyImage(d.handle, r.image, nil)
		}
	}
	if r.memory != nil {
		vk.FreeMemory(d.handle, r.memory, nil)
	}
	r.buffer, r.image, r.memory = nil, nil, nil
	r.device = nil
}
