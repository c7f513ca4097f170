package soft

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// executor is the bound pipeline state while the timeline walks one command list.
type executor struct {
	dev           *Device
	rs            *RootSignature
	pso           *PipelineState
	heaps         []*DescriptorHeap
	tables        map[uint32]gpu.GPUDescriptorHandle
	viewports     int
	scissors      int
	topology      gpu.PrimitiveTopology
	vertexBuffers []gpu.VertexBufferView
	indexBuffer   *gpu.IndexBufferView
	rtv           *Resource
	depthBound    bool
}

func newExecutor(d *Device) *executor {
	return &executor{dev: d}
}

func (e *executor) run(cmds []command) {
	for _, cmd := range cmds {
		cmd(e)
	}
}

func (e *executor) boundHeap(kind gpu.HeapKind) *DescriptorHeap {
	for _, h := range e.heaps {
		if h.desc.Kind == kind {
			return h
		}
	}
	return nil
}

func rangeDescriptor(t gpu.DescriptorRangeType) descriptorKind {
	switch t {
	case gpu.DescriptorRangeCBV:
		return descriptorCBV
	case gpu.DescriptorRangeSRV:
		return descriptorSRV
	}
	return descriptorSampler
}

func (e *executor) draw(indexCount, instanceCount, startIndex uint32) {
	switch {
	case e.rs == nil:
		e.dev.validationf("draw without a root signature")
		return
	case e.pso == nil:
		e.dev.validationf("draw without a pipeline state")
		return
	case e.pso.desc.RootSignature != gpu.RootSignature(e.rs):
		e.dev.validationf("pipeline state was built for a different root signature")
	}
	if e.viewports == 0 || e.scissors == 0 {
		e.dev.validationf("draw without viewport or scissor rect")
	}
	if e.topology == gpu.PrimitiveTopologyUndefined {
		e.dev.validationf("draw without a primitive topology")
	}
	if e.rtv == nil {
		e.dev.validationf("draw without a render target")
	} else if e.rtv.state != gpu.ResourceStateRenderTarget {
		e.dev.validationf("draw into a render target in %s", e.rtv.state)
	}
	if e.pso.desc.DepthStencil.DepthEnable && !e.depthBound {
		e.dev.validationf("depth test enabled without a depth stencil view")
	}
	if len(e.vertexBuffers) == 0 {
		e.dev.validationf("draw without a vertex buffer")
	}
	if e.indexBuffer == nil {
		e.dev.validationf("indexed draw without an index buffer")
	} else if size := e.indexBuffer.Format.Size(); size == 0 || uint64(startIndex+indexCount)*uint64(size) > uint64(e.indexBuffer.SizeInBytes) {
		e.dev.validationf("draw reads %d indices past the %d byte index buffer", startIndex+indexCount, e.indexBuffer.SizeInBytes)
	}

	for i, p := range e.rs.desc.Parameters {
		param := uint32(i)
		base, ok := e.tables[param]
		if !ok {
			e.dev.validationf("root parameter %d has no descriptor table bound", param)
			continue
		}
		kind := p.Ranges[0].Type.HeapKind()
		heap := e.boundHeap(kind)
		if heap == nil {
			e.dev.validationf("root parameter %d needs a %s heap but none is bound", param, kind)
			continue
		}
		first, ok := heap.indexOfGPU(base)
		if !ok {
			e.dev.validationf("root parameter %d table %#x is outside the bound %s heap", param, base.Ptr, kind)
			continue
		}
		idx := first
		for _, r := range p.Ranges {
			for n := uint32(0); n < r.NumDescriptors; n++ {
				if idx >= heap.desc.NumDescriptors {
					e.dev.validationf("root parameter %d table runs past the end of the heap", param)
					break
				}
				if got := heap.slot(idx).kind; got != rangeDescriptor(r.Type) {
					e.dev.validationf("root parameter %d slot %d holds the wrong descriptor type", param, idx)
				}
				idx++
			}
		}
	}

	tables := make(map[uint32]gpu.GPUDescriptorHandle, len(e.tables))
	for k, v := range e.tables {
		tables[k] = v
	}
	call := DrawCall{
		RootSignature: e.rs,
		Pipeline:      e.pso,
		RenderTarget:  e.rtv,
		Tables:        tables,
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
	}
	if len(e.vertexBuffers) > 0 {
		call.VertexBuffer = e.vertexBuffers[0]
	}
	if e.indexBuffer != nil {
		call.IndexBuffer = *e.indexBuffer
	}
	e.dev.mu.Lock()
	e.dev.stats.draws = append(e.dev.stats.draws, call)
	e.dev.mu.Unlock()
}

func (r *Resource) fill(color [4]float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil || r.desc.Format.Size() != 4 {
		return
	}
	var px [4]byte
	for i, c := range color {
		px[i] = uint8(math.Round(float64(clamp01(c)) * 255))
	}
	if r.desc.Format == gpu.FormatB8G8R8A8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	for i := 0; i+4 <= len(r.data); i += 4 {
		copy(r.data[i:i+4], px[:])
	}
}

func (r *Resource) fillDepth(depth float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bits := math.Float32bits(depth)
	for i := 0; i+4 <= len(r.data); i += 4 {
		binary.LittleEndian.PutUint32(r.data[i:], bits)
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
