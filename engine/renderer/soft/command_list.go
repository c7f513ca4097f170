package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type command func(e *executor)

type CommandList struct {
	dev    *Device
	kind   gpu.CommandListKind
	alloc  *CommandAllocator
	cmds   []command
	closed bool
	err    error
}

func (l *CommandList) record(cmd command) {
	if l.closed {
		l.fail(fmt.Errorf("command recorded on a closed list"))
		return
	}
	l.cmds = append(l.cmds, cmd)
}

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator, initial gpu.PipelineState) error {
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("allocator %T does not belong to the soft backend", allocator)
	}
	if !l.closed {
		return fmt.Errorf("command list reset while recording")
	}
	l.alloc = a
	l.cmds = l.cmds[:0]
	l.closed = false
	l.err = nil
	if initial != nil {
		l.SetPipelineState(initial)
	}
	return nil
}

func (l *CommandList) Close() error {
	if l.closed {
		return fmt.Errorf("command list closed twice")
	}
	l.closed = true
	return l.err
}

func (l *CommandList) ResourceBarrier(barriers ...gpu.ResourceBarrier) {
	resolved := make([]*Resource, len(barriers))
	for i, b := range barriers {
		r, err := asResource(b.Resource)
		if err != nil {
			l.fail(fmt.Errorf("barrier: %w", err))
			return
		}
		resolved[i] = r
	}
	l.record(func(e *executor) {
		for i, b := range barriers {
			r := resolved[i]
			if r.state != b.Before {
				e.dev.validationf("barrier expected %s but resource is in %s", b.Before, r.state)
			}
			r.state = b.After
		}
	})
}

func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32) {
	heap, idx, err := l.dev.resolveCPU(rtv)
	if err != nil {
		l.fail(fmt.Errorf("ClearRenderTargetView: %w", err))
		return
	}
	l.record(func(e *executor) {
		d := heap.slot(idx)
		if d.kind != descriptorRTV {
			e.dev.validationf("ClearRenderTargetView on a slot without a render target view")
			return
		}
		if d.resource.state != gpu.ResourceStateRenderTarget {
			e.dev.validationf("ClearRenderTargetView on a resource in %s", d.resource.state)
		}
		d.resource.fill(color)
	})
}

func (l *CommandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, depth float32, stencil uint8) {
	heap, idx, err := l.dev.resolveCPU(dsv)
	if err != nil {
		l.fail(fmt.Errorf("ClearDepthStencilView: %w", err))
		return
	}
	l.record(func(e *executor) {
		d := heap.slot(idx)
		if d.kind != descriptorDSV {
			e.dev.validationf("ClearDepthStencilView on a slot without a depth stencil view")
			return
		}
		if d.resource.state != gpu.ResourceStateDepthWrite {
			e.dev.validationf("ClearDepthStencilView on a resource in %s", d.resource.state)
		}
		d.resource.fillDepth(depth)
	})
}

func (l *CommandList) OMSetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	type target struct {
		heap *DescriptorHeap
		idx  uint32
	}
	targets := make([]target, 0, len(rtvs))
	for _, h := range rtvs {
		heap, idx, err := l.dev.resolveCPU(h)
		if err != nil {
			l.fail(fmt.Errorf("OMSetRenderTargets: %w", err))
			return
		}
		targets = append(targets, target{heap, idx})
	}
	var depth *target
	if dsv != nil {
		heap, idx, err := l.dev.resolveCPU(*dsv)
		if err != nil {
			l.fail(fmt.Errorf("OMSetRenderTargets: %w", err))
			return
		}
		depth = &target{heap, idx}
	}
	l.record(func(e *executor) {
		e.rtv = nil
		if len(targets) > 0 {
			if d := targets[0].heap.slot(targets[0].idx); d.kind == descriptorRTV {
				e.rtv = d.resource
			}
		}
		e.depthBound = depth != nil && depth.heap.slot(depth.idx).kind == descriptorDSV
	})
}

func (l *CommandList) SetGraphicsRootSignature(rs gpu.RootSignature) {
	sig, ok := rs.(*RootSignature)
	if !ok {
		l.fail(fmt.Errorf("root signature %T does not belong to the soft backend", rs))
		return
	}
	l.record(func(e *executor) {
		e.rs = sig
		e.tables = map[uint32]gpu.GPUDescriptorHandle{}
	})
}

func (l *CommandList) SetPipelineState(pso gpu.PipelineState) {
	p, ok := pso.(*PipelineState)
	if !ok {
		l.fail(fmt.Errorf("pipeline state %T does not belong to the soft backend", pso))
		return
	}
	l.record(func(e *executor) { e.pso = p })
}

func (l *CommandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	bound := make([]*DescriptorHeap, 0, len(heaps))
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			l.fail(fmt.Errorf("descriptor heap %T does not belong to the soft backend", h))
			return
		}
		if !dh.desc.ShaderVisible {
			l.fail(fmt.Errorf("SetDescriptorHeaps with a heap that is not shader visible"))
			return
		}
		bound = append(bound, dh)
	}
	l.record(func(e *executor) { e.heaps = bound })
}

func (l *CommandList) SetGraphicsRootDescriptorTable(parameter uint32, base gpu.GPUDescriptorHandle) {
	l.record(func(e *executor) {
		if e.tables == nil {
			e.tables = map[uint32]gpu.GPUDescriptorHandle{}
		}
		e.tables[parameter] = base
	})
}

func (l *CommandList) RSSetViewports(viewports ...gpu.Viewport) {
	n := len(viewports)
	l.record(func(e *executor) { e.viewports = n })
}

func (l *CommandList) RSSetScissorRects(rects ...gpu.Rect) {
	n := len(rects)
	l.record(func(e *executor) { e.scissors = n })
}

func (l *CommandList) IASetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	l.record(func(e *executor) { e.topology = topology })
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	vs := append([]gpu.VertexBufferView(nil), views...)
	l.record(func(e *executor) { e.vertexBuffers = vs })
}

func (l *CommandList) IASetIndexBuffer(view gpu.IndexBufferView) {
	l.record(func(e *executor) {
		v := view
		e.indexBuffer = &v
	})
}

func (l *CommandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndexLocation uint32, baseVertexLocation int32, startInstanceLocation uint32) {
	l.record(func(e *executor) {
		e.draw(indexCountPerInstance, instanceCount, startIndexLocation)
	})
}

func (l *CommandList) Release() {}
