package soft

import (
	"sync"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type descriptorKind uint8

const (
	descriptorEmpty descriptorKind = iota
	descriptorCBV
	descriptorSRV
	descriptorSampler
	descriptorRTV
	descriptorDSV
)

type descriptor struct {
	kind     descriptorKind
	resource *Resource
	cbv      gpu.ConstantBufferViewDesc
	sampler  gpu.SamplerDesc
}

type DescriptorHeap struct {
	dev       *Device
	desc      gpu.DescriptorHeapDesc
	increment uint32
	cpuBase   uintptr
	gpuBase   uint64

	mu    sync.Mutex
	slots []descriptor
}

func (h *DescriptorHeap) Desc() gpu.DescriptorHeapDesc { return h.desc }

func (h *DescriptorHeap) CPUDescriptorHandleForHeapStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: h.cpuBase}
}

func (h *DescriptorHeap) GPUDescriptorHandleForHeapStart() gpu.GPUDescriptorHandle {
	return gpu.GPUDescriptorHandle{Ptr: h.gpuBase}
}

func (h *DescriptorHeap) indexOfCPU(handle gpu.CPUDescriptorHandle) (uint32, bool) {
	if handle.Ptr < h.cpuBase {
		return 0, false
	}
	off := uint64(handle.Ptr - h.cpuBase)
	return h.index(off)
}

func (h *DescriptorHeap) indexOfGPU(handle gpu.GPUDescriptorHandle) (uint32, bool) {
	if h.gpuBase == 0 || handle.Ptr < h.gpuBase {
		return 0, false
	}
	return h.index(handle.Ptr - h.gpuBase)
}

func (h *DescriptorHeap) index(off uint64) (uint32, bool) {
	if off%uint64(h.increment) != 0 {
		return 0, false
	}
	idx := off / uint64(h.increment)
	if idx >= uint64(h.desc.NumDescriptors) {
		return 0, false
	}
	return uint32(idx), true
}

func (h *DescriptorHeap) slot(i uint32) descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[i]
}

func (h *DescriptorHeap) Release() {
	h.dev.removeHeap(h)
}
