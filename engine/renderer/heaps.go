package renderer

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Heap wraps a descriptor heap and hands out contiguous, non overlapping index ranges in
// creation order. Handles are always base + index*increment with the device reported
// increment of the heap kind.
type Heap struct {
	heap      gpu.DescriptorHeap
	kind      gpu.HeapKind
	capacity  uint32
	increment uint32
	next      uint32
}

func newHeap(device gpu.Device, kind gpu.HeapKind, capacity uint32, shaderVisible bool) (*Heap, error) {
	h, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Kind:           kind,
		NumDescriptors: capacity,
		ShaderVisible:  shaderVisible,
	})
	if err != nil {
		return nil, err
	}
	return &Heap{
		heap:      h,
		kind:      kind,
		capacity:  capacity,
		increment: device.DescriptorHandleIncrementSize(kind),
	}, nil
}

func (h *Heap) Kind() gpu.HeapKind { return h.kind }
func (h *Heap) Capacity() uint32 { return h.capacity }
func (h *Heap) Increment() uint32 { return h.increment }
func (h *Heap) DescriptorHeap() gpu.DescriptorHeap { return h.heap }

func (h *Heap) CPU(index uint32) gpu.CPUDescriptorHandle {
	return h.heap.CPUDescriptorHandleForHeapStart().Offset(index, h.increment)
}

func (h *Heap) GPU(index uint32) gpu.GPUDescriptorHandle {
	return h.heap.GPUDescriptorHandleForHeapStart().Offset(index, h.increment)
}

// Allocate reserves count consecutive slots.
func (h *Heap) Allocate(count uint32) (DescriptorAllocation, error) {
	if count == 0 || h.next+count > h.capacity {
		return DescriptorAllocation{}, core.NewResourceCreationError("Allocate",
			fmt.Errorf("%s heap: cannot allocate %d descriptors, %d of %d in use", h.kind, count, h.next, h.capacity))
	}
	a := DescriptorAllocation{heap: h, First: h.next, Count: count}
	h.next += count
	return a, nil
}

func (h *Heap) Release() {
	if h != nil && h.heap != nil {
		h.heap.Release()
		h.heap = nil
	}
}

type DescriptorAllocation struct {
	heap  *Heap
	First uint32
	Count uint32
}

func (a DescriptorAllocation) Heap() *Heap { return a.heap }

// CPU returns the handle of the i-th descriptor of the allocation.
func (a DescriptorAllocation) CPU(i uint32) gpu.CPUDescriptorHandle {
	return a.heap.CPU(a.First + i)
}

func (a DescriptorAllocation) GPU(i uint32) gpu.GPUDescriptorHandle {
	return a.heap.GPU(a.First + i)
}

// Overlaps reports whether both allocations share a slot of the same heap.
func (a DescriptorAllocation) Overlaps(b DescriptorAllocation) bool {
	if a.heap != b.heap {
		return false
	}
	return a.First < b.First+b.Count && b.First < a.First+a.Count
}

// HeapManager owns the render target and depth stencil heaps that live as long as the
// device context and creates the shader visible heaps of each prepared model.
type HeapManager struct {
	device     gpu.Device
	frameCount uint32

	rtv  *Heap
	dsv  *Heap
	rtvs DescriptorAllocation
	dsvs DescriptorAllocation
}

func NewHeapManager(device gpu.Device, frameCount uint32) (*HeapManager, error) {
	m := &HeapManager{device: device, frameCount: frameCount}

	rtv, err := newHeap(device, gpu.HeapKindRTV, frameCount, false)
	if err != nil {
		return nil, core.NewInitializationError("CreateDescriptorHeap(RTV)", err)
	}
	m.rtv = rtv
	dsv, err := newHeap(device, gpu.HeapKindDSV, 1, false)
	if err != nil {
		rtv.Release()
		return nil, core.NewInitializationError("CreateDescriptorHeap(DSV)", err)
	}
	m.dsv = dsv

	// Both fit by construction.
	m.rtvs, _ = rtv.Allocate(frameCount)
	m.dsvs, _ = dsv.Allocate(1)
	return m, nil
}

func (m *HeapManager) RTVHeap() *Heap { return m.rtv }
func (m *HeapManager) DSVHeap() *Heap { return m.dsv }

func (m *HeapManager) RTV(frame uint32) gpu.CPUDescriptorHandle {
	return m.rtvs.CPU(frame)
}

func (m *HeapManager) DSV() gpu.CPUDescriptorHandle {
	return m.dsvs.CPU(0)
}

// ModelHeaps are the shader visible heaps of one prepared model. Slots [0, frameCount) of
// the CBV/SRV heap hold the per frame constant buffers, the following materialCount slots
// hold material textures in material order. The sampler heap has a single slot.
type ModelHeaps struct {
	frameCount uint32

	CBVSRV          *Heap
	Sampler         *Heap
	ConstantBuffers DescriptorAllocation
	Materials       DescriptorAllocation
	Samplers        DescriptorAllocation
}

func (m *HeapManager) NewModelHeaps(materialCount uint32) (*ModelHeaps, error) {
	if materialCount == 0 {
		return nil, core.NewResourceCreationError("NewModelHeaps", fmt.Errorf("a model needs at least one material"))
	}
	cbvSrv, err := newHeap(m.device, gpu.HeapKindCBVSRVUAV, m.frameCount+materialCount, true)
	if err != nil {
		return nil, core.NewResourceCreationError("CreateDescriptorHeap(CBV_SRV_UAV)", err)
	}
	sampler, err := newHeap(m.device, gpu.HeapKindSampler, 1, true)
	if err != nil {
		cbvSrv.Release()
		return nil, core.NewResourceCreationError("CreateDescriptorHeap(SAMPLER)", err)
	}

	mh := &ModelHeaps{frameCount: m.frameCount, CBVSRV: cbvSrv, Sampler: sampler}
	if mh.ConstantBuffers, err = cbvSrv.Allocate(m.frameCount); err != nil {
		mh.Release()
		return nil, err
	}
	if mh.Materials, err = cbvSrv.Allocate(materialCount); err != nil {
		mh.Release()
		return nil, err
	}
	if mh.Samplers, err = sampler.Allocate(1); err != nil {
		mh.Release()
		return nil, err
	}
	return mh, nil
}

// ConstantBufferSlot is the CBV/SRV heap index of the constant buffer of a frame slot.
func (mh *ModelHeaps) ConstantBufferSlot(frame uint32) uint32 {
	return mh.ConstantBuffers.First + frame
}

// MaterialSlot is the CBV/SRV heap index of the texture of material m.
func (mh *ModelHeaps) MaterialSlot(m uint32) uint32 {
	return mh.Materials.First + m
}

func (mh *ModelHeaps) ShaderVisible() []gpu.DescriptorHeap {
	return []gpu.DescriptorHeap{mh.CBVSRV.DescriptorHeap(), mh.Sampler.DescriptorHeap()}
}

func (mh *ModelHeaps) Release() {
	mh.CBVSRV.Release()
	mh.Sampler.Release()
}

func (m *HeapManager) Release() {
	m.rtv.Release()
	m.dsv.Release()
}
