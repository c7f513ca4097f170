package gpu

import "golang.org/x/exp/constraints"

type CPUDescriptorHandle struct {
	Ptr uintptr
}

type GPUDescriptorHandle struct {
	Ptr uint64
}

func offset[T constraints.Unsigned](base T, index, increment uint32) T {
	return base + T(index)*T(increment)
}

// Offset returns the handle index descriptors after h.
func (h CPUDescriptorHandle) Offset(index, increment uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: offset(h.Ptr, index, increment)}
}

func (h GPUDescriptorHandle) Offset(index, increment uint32) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: offset(h.Ptr, index, increment)}
}

func (h GPUDescriptorHandle) IsNull() bool {
	return h.Ptr == 0
}
