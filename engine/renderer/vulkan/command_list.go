package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type commandListState int

const (
	listRecording commandListState = iota
	listInRenderPass
	listClosed
	listSubmitted
)

// CommandList records into one VkCommandBuffer per allocator it has been reset with,
// since Vulkan command buffers cannot move between pools.
type CommandList struct {
	device  *Device
	buffers map[*CommandAllocator]vk.CommandBuffer
	cmd     vk.CommandBuffer
	state   commandListState
	err     error

	rootSignature *RootSignature
	pipeline      *PipelineState
	heaps         []*DescriptorHeap

	clearColor map[*Resource][4]float32
	clearDepth map[*Resource]float32
	color      *Resource
	depth      *Resource
	presents   []*Resource
}

func (l *CommandList) fail(err error) {
	if l.err == nil && err != nil {
		l.err = err
	}
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator, initial gpu.PipelineState) error {
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("allocator %T does not belong to the vulkan backend", allocator)
	}
	if l.cmd != nil && (l.state == listRecording || l.state == listInRenderPass) {
		return fmt.Errorf("command list is still recording")
	}
	if l.buffers == nil {
		l.buffers = make(map[*CommandAllocator]vk.CommandBuffer)
	}

	cmd, ok := l.buffers[a]
	if !ok {
		info := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        a.pool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		cmds := make([]vk.CommandBuffer, 1)
		if err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(l.device.handle, &info, cmds)); err != nil {
			return err
		}
		cmd = cmds[0]
		l.buffers[a] = cmd
	}

	begin := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmd, &begin)); err != nil {
		return err
	}

	l.cmd = cmd
	l.state = listRecording
	l.err = nil
	l.rootSignature = nil
	l.pipeline = nil
	l.heaps = nil
	l.clearColor = make(map[*Resource][4]float32)
	l.clearDepth = make(map[*Resource]float32)
	l.color, l.depth = nil, nil
	l.presents = nil
	if initial != nil {
		l.SetPipelineState(initial)
	}
	return nil
}

func (l *CommandList) Close() error {
	if l.state != listRecording && l.state != listInRenderPass {
		return fmt.Errorf("command list is not recording")
	}
	l.endRenderPass()
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(l.cmd)); err != nil {
		l.fail(err)
	}
	l.state = listClosed
	return l.err
}

func (l *CommandList) endRenderPass() {
	if l.state == listInRenderPass {
		vk.CmdEndRenderPass(l.cmd)
		l.state = listRecording
	}
}

func (l *CommandList) resource(r gpu.Resource) *Resource {
	res, ok := r.(*Resource)
	if !ok {
		l.fail(fmt.Errorf("resource %T does not belong to the vulkan backend", r))
		return nil
	}
	return res
}

// ResourceBarrier only records what the render pass does not already cover. Back
// buffers move to the present layout when the pass ends.
func (l *CommandList) ResourceBarrier(barriers ...gpu.ResourceBarrier) {
	for _, b := range barriers {
		r := l.resource(b.Resource)
		if r == nil {
			return
		}
		switch {
		case r.swapchain != nil:
			if b.After == gpu.ResourceStatePresent {
				l.endRenderPass()
				l.presents = append(l.presents, r)
			}
		case r.image != nil:
			if l.state == listInRenderPass {
				l.fail(fmt.Errorf("texture barriers are not allowed inside a render pass"))
				return
			}
			aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
			if r.format == vk.FormatD32Sfloat {
				aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
			}
			imageBarrier(l.cmd, r.image, aspect, imageLayout(b.Before), imageLayout(b.After),
				vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
				vk.AccessFlags(vk.AccessMemoryWriteBit), vk.AccessFlags(vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit))
		default:
			if l.state == listInRenderPass {
				continue
			}
			barrier := vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
			}
			vk.CmdPipelineBarrier(l.cmd,
				vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
				0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
		}
	}
}

func imageLayout(s gpu.ResourceState) vk.ImageLayout {
	switch s {
	case gpu.ResourceStatePresent:
		return vk.ImageLayoutPresentSrc
	case gpu.ResourceStateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ResourceStateDepthWrite:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.ResourceStatePixelShaderResource, gpu.ResourceStateGenericRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ResourceStateCopyDest:
		return vk.ImageLayoutTransferDstOptimal
	}
	return vk.ImageLayoutGeneral
}

func (l *CommandList) target(h gpu.CPUDescriptorHandle) *Resource {
	s, err := l.device.slot(uint64(h.Ptr))
	if err != nil {
		l.fail(err)
		return nil
	}
	if s.resource == nil || s.resource.image == nil {
		l.fail(fmt.Errorf("descriptor 0x%x holds no view", h.Ptr))
		return nil
	}
	return s.resource
}

func (l *CommandList) fullRect(r *Resource) vk.Rect2D {
	return vk.Rect2D{Extent: vk.Extent2D{Width: uint32(r.desc.Width), Height: r.desc.Height}}
}

// ClearRenderTargetView is folded into the load operation of the next render pass
// unless the target is already bound.
func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32) {
	r := l.target(rtv)
	if r == nil {
		return
	}
	if l.state == listInRenderPass && r == l.color {
		var value vk.ClearValue
		value.SetColor(color[:])
		vk.CmdClearAttachments(l.cmd, 1, []vk.ClearAttachment{{
			AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
			ColorAttachment: 0,
			ClearValue:      value,
		}}, 1, []vk.ClearRect{{Rect: l.fullRect(r), LayerCount: 1}})
		return
	}
	l.clearColor[r] = color
}

func (l *CommandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, depth float32, stencil uint8) {
	r := l.target(dsv)
	if r == nil {
		return
	}
	if l.state == listInRenderPass && r == l.depth {
		var value vk.ClearValue
		value.SetDepthStencil(depth, uint32(stencil))
		vk.CmdClearAttachments(l.cmd, 1, []vk.ClearAttachment{{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			ClearValue: value,
		}}, 1, []vk.ClearRect{{Rect: l.fullRect(r), LayerCount: 1}})
		return
	}
	l.clearDepth[r] = depth
}

// OMSetRenderTargets begins a render pass on the targets. Attachments always load with a
// clear, using the values of any clear recorded since the last pass.
func (l *CommandList) OMSetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	if len(rtvs) != 1 {
		l.fail(fmt.Errorf("exactly one render target is supported, got %d", len(rtvs)))
		return
	}
	l.endRenderPass()
	color := l.target(rtvs[0])
	if color == nil {
		return
	}
	var depth *Resource
	depthFormat := vk.FormatUndefined
	if dsv != nil {
		if depth = l.target(*dsv); depth == nil {
			return
		}
		depthFormat = depth.format
	}

	rp, err := l.device.renderPass(color.format, depthFormat)
	if err != nil {
		l.fail(err)
		return
	}
	fb, err := l.device.framebuffer(rp, color, depth)
	if err != nil {
		l.fail(err)
		return
	}

	clearValues := make([]vk.ClearValue, 1, 2)
	c := l.clearColor[color]
	clearValues[0].SetColor(c[:])
	delete(l.clearColor, color)
	if depth != nil {
		d, ok := l.clearDepth[depth]
		if !ok {
			d = 1.0
		}
		var v vk.ClearValue
		v.SetDepthStencil(d, 0)
		clearValues = append(clearValues, v)
		delete(l.clearDepth, depth)
	}

	begin := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp,
		Framebuffer:     fb,
		RenderArea:      l.fullRect(color),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(l.cmd, &begin, vk.SubpassContentsInline)
	l.state = listInRenderPass
	l.color, l.depth = color, depth
}

func (l *CommandList) SetGraphicsRootSignature(rs gpu.RootSignature) {
	r, ok := rs.(*RootSignature)
	if !ok {
		l.fail(fmt.Errorf("root signature %T does not belong to the vulkan backend", rs))
		return
	}
	l.rootSignature = r
}

func (l *CommandList) SetPipelineState(pso gpu.PipelineState) {
	p, ok := pso.(*PipelineState)
	if !ok {
		l.fail(fmt.Errorf("pipeline state %T does not belong to the vulkan backend", pso))
		return
	}
	l.pipeline = p
	vk.CmdBindPipeline(l.cmd, vk.PipelineBindPointGraphics, p.handle)
}

func (l *CommandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	l.heaps = l.heaps[:0]
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			l.fail(fmt.Errorf("descriptor heap %T does not belong to the vulkan backend", h))
			return
		}
		if !dh.desc.ShaderVisible {
			l.fail(fmt.Errorf("%s heap is not shader visible", dh.desc.Kind))
			return
		}
		l.heaps = append(l.heaps, dh)
	}
}

func (l *CommandList) SetGraphicsRootDescriptorTable(parameter uint32, base gpu.GPUDescriptorHandle) {
	if l.rootSignature == nil {
		l.fail(fmt.Errorf("descriptor table %d set without a root signature", parameter))
		return
	}
	s, err := l.device.slot(base.Ptr)
	if err != nil {
		l.fail(err)
		return
	}
	bound := false
	for _, h := range l.heaps {
		bound = bound || h == s.heap
	}
	if !bound {
		l.fail(fmt.Errorf("descriptor table %d points into a heap that is not bound", parameter))
		return
	}
	if s.set == nil {
		l.fail(fmt.Errorf("descriptor table %d points at an empty descriptor", parameter))
		return
	}
	vk.CmdBindDescriptorSets(l.cmd, vk.PipelineBindPointGraphics, l.rootSignature.layout,
		parameter, 1, []vk.DescriptorSet{s.set}, 0, nil)
}

func (l *CommandList) RSSetViewports(viewports ...gpu.Viewport) {
	vps := make([]vk.Viewport, len(viewports))
	for i, v := range viewports {
		vps[i] = vk.Viewport{
			X:        v.TopLeftX,
			Y:        v.TopLeftY,
			Width:    v.Width,
			Height:   v.Height,
			MinDepth: v.MinDepth,
			MaxDepth: v.MaxDepth,
		}
	}
	vk.CmdSetViewport(l.cmd, 0, uint32(len(vps)), vps)
}

func (l *CommandList) RSSetScissorRects(rects ...gpu.Rect) {
	out := make([]vk.Rect2D, len(rects))
	for i, r := range rects {
		out[i] = vk.Rect2D{
			Offset: vk.Offset2D{X: r.Left, Y: r.Top},
			Extent: vk.Extent2D{Width: uint32(r.Right - r.Left), Height: uint32(r.Bottom - r.Top)},
		}
	}
	vk.CmdSetScissor(l.cmd, 0, uint32(len(out)), out)
}

// IASetPrimitiveTopology only checks the topology; it is baked into the pipeline.
func (l *CommandList) IASetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	if topology != gpu.PrimitiveTopologyTriangleList {
		l.fail(fmt.Errorf("unsupported primitive topology %d", topology))
	}
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	buffers := make([]vk.Buffer, len(views))
	offsets := make([]vk.DeviceSize, len(views))
	for i, v := range views {
		r, offset, ok := l.device.addresses.Lookup(v.BufferLocation)
		if !ok {
			l.fail(fmt.Errorf("no vertex buffer at GPU address 0x%x", v.BufferLocation))
			return
		}
		buffers[i] = r.buffer
		offsets[i] = vk.DeviceSize(offset)
	}
	vk.CmdBindVertexBuffers(l.cmd, startSlot, uint32(len(buffers)), buffers, offsets)
}

func (l *CommandList) IASetIndexBuffer(view gpu.IndexBufferView) {
	r, offset, ok := l.device.addresses.Lookup(view.BufferLocation)
	if !ok {
		l.fail(fmt.Errorf("no index buffer at GPU address 0x%x", view.BufferLocation))
		return
	}
	indexType := vk.IndexTypeUint16
	switch view.Format {
	case gpu.FormatR16Uint:
	case gpu.FormatR32Uint:
		indexType = vk.IndexTypeUint32
	default:
		l.fail(fmt.Errorf("unsupported index format %s", view.Format))
		return
	}
	vk.CmdBindIndexBuffer(l.cmd, r.buffer, vk.DeviceSize(offset), indexType)
}

func (l *CommandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndexLocation uint32, baseVertexLocation int32, startInstanceLocation uint32) {
	if l.state != listInRenderPass {
		l.fail(fmt.Errorf("draw recorded outside of a render pass"))
		return
	}
	if l.pipeline == nil {
		l.fail(fmt.Errorf("draw recorded without a pipeline state"))
		return
	}
	vk.CmdDrawIndexed(l.cmd, indexCountPerInstance, instanceCount, startIndexLocation, baseVertexLocation, startInstanceLocation)
}

// Release forgets the command buffers; they are freed with their pools.
func (l *CommandList) Release() {
	l.buffers = nil
	l.cmd = nil
}
