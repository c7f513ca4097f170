package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// descriptorSlot is one descriptor of a heap. Shader visible slots own a descriptor set
// of the layout matching what was last written into them.
type descriptorSlot struct {
	heap     *DescriptorHeap
	kind     gpu.DescriptorRangeType
	set      vk.DescriptorSet
	resource *Resource
	sampler  vk.Sampler
}

type DescriptorHeap struct {
	device    *Device
	desc      gpu.DescriptorHeapDesc
	base      uint64
	increment uint32
	pool      vk.DescriptorPool
	slots     []descriptorSlot
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if desc.NumDescriptors == 0 {
		return nil, fmt.Errorf("descriptor heap needs at least one descriptor")
	}
	h := &DescriptorHeap{
		device:    d,
		desc:      desc,
		increment: descriptorIncrements[desc.Kind],
		slots:     make([]descriptorSlot, desc.NumDescriptors),
	}
	for i := range h.slots {
		h.slots[i].heap = h
	}

	var sizes []vk.DescriptorPoolSize
	switch desc.Kind {
	case gpu.HeapKindCBVSRVUAV:
		sizes = []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: desc.NumDescriptors},
			{Type: vk.DescriptorTypeSampledImage, DescriptorCount: desc.NumDescriptors},
		}
	case gpu.HeapKindSampler:
		sizes = []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeSampler, DescriptorCount: desc.NumDescriptors},
		}
	}
	if len(sizes) > 0 {
		info := vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
			MaxSets:       desc.NumDescriptors,
			PoolSizeCount: uint32(len(sizes)),
			PPoolSizes:    sizes,
		}
		if err := check("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.handle, &info, nil, &h.pool)); err != nil {
			return nil, err
		}
	}

	h.base = d.handles.Insert(uint64(desc.NumDescriptors)*uint64(h.increment), h)
	return h, nil
}

func (h *DescriptorHeap) Desc() gpu.DescriptorHeapDesc { return h.desc }

func (h *DescriptorHeap) CPUDescriptorHandleForHeapStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: uintptr(h.base)}
}

func (h *DescriptorHeap) GPUDescriptorHandleForHeapStart() gpu.GPUDescriptorHandle {
	if !h.desc.ShaderVisible {
		return gpu.GPUDescriptorHandle{}
	}
	return gpu.GPUDescriptorHandle{Ptr: h.base}
}

// setFor returns the slot's descriptor set, reallocating it when the slot changes kind.
func (h *DescriptorHeap) setFor(s *descriptorSlot, kind gpu.DescriptorRangeType) (vk.DescriptorSet, error) {
	if h.pool == nil {
		return nil, fmt.Errorf("%s heap cannot hold %d descriptors", h.desc.Kind, kind)
	}
	if s.set != nil && s.kind == kind {
		return s.set, nil
	}
	d := h.device
	err := d.locks.SafeCall(descriptorManagement, func() error {
		if s.set != nil {
			vk.FreeDescriptorSets(d.handle, h.pool, 1, &s.set)
			s.set = nil
		}
		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     h.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{d.setLayout(kind)},
		}
		var set vk.DescriptorSet
		if err := check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.handle, &info, &set)); err != nil {
			return err
		}
		s.set = set
		s.kind = kind
		return nil
	})
	return s.set, err
}

func (s *descriptorSlot) setSampler(sampler vk.Sampler) {
	if s.sampler != nil {
		vk.DestroySampler(s.heap.device.handle, s.sampler, nil)
	}
	s.sampler = sampler
}

func (h *DescriptorHeap) Release() {
	if h.slots == nil {
		return
	}
	d := h.device
	for i := range h.slots {
		h.slots[i].setSampler(nil)
	}
	if h.pool != nil {
		vk.DestroyDescriptorPool(d.handle, h.pool, nil)
		h.pool = nil
	}
	d.handles.Remove(h.base)
	h.slots = nil
}

// slot resolves a CPU or GPU handle to the descriptor it addresses.
func (d *Device) slot(ptr uint64) (*descriptorSlot, error) {
	h, offset, ok := d.handles.Lookup(ptr)
	if !ok || h.slots == nil {
		return nil, fmt.Errorf("descriptor handle 0x%x does not point into a live heap", ptr)
	}
	if offset%uint64(h.increment) != 0 {
		return nil, fmt.Errorf("descriptor handle 0x%x is not aligned to the %s increment %d", ptr, h.desc.Kind, h.increment)
	}
	return &h.slots[offset/uint64(h.increment)], nil
}

func (d *Device) writeDescriptor(dest gpu.CPUDescriptorHandle, fn func(s *descriptorSlot) error) error {
	s, err := d.slot(uint64(dest.Ptr))
	if err != nil {
		return err
	}
	return fn(s)
}
