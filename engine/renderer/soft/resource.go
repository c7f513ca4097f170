package soft

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type Resource struct {
	dev     *Device
	heap    gpu.HeapType
	desc    gpu.ResourceDesc
	address uint64
	clear   *gpu.ClearValue

	mu       sync.Mutex
	data     []byte
	mapped   bool
	released bool
	// state is only touched by the queue timeline.
	state gpu.ResourceState
}

func newResource(d *Device, heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) (*Resource, error) {
	r := &Resource{dev: d, heap: heap, desc: desc, state: initialState, clear: clear}
	switch desc.Dimension {
	case gpu.ResourceDimensionBuffer:
		if desc.Width == 0 {
			return nil, fmt.Errorf("buffer of zero bytes")
		}
		if heap == gpu.HeapTypeUpload && initialState != gpu.ResourceStateGenericRead {
			return nil, fmt.Errorf("upload heap resources must start in %s, got %s", gpu.ResourceStateGenericRead, initialState)
		}
		r.data = make([]byte, desc.Width)
		r.address = d.allocAddress(desc.Width)
	case gpu.ResourceDimensionTexture2D:
		size := desc.Format.Size()
		if size == 0 || desc.Width == 0 || desc.Height == 0 {
			return nil, fmt.Errorf("invalid texture %dx%d %s", desc.Width, desc.Height, desc.Format)
		}
		if heap != gpu.HeapTypeDefault {
			return nil, fmt.Errorf("textures must live in the default heap")
		}
		r.data = make([]byte, desc.Width*uint64(desc.Height)*uint64(size))
	default:
		return nil, fmt.Errorf("unknown resource dimension %d", desc.Dimension)
	}
	return r, nil
}

func (r *Resource) Desc() gpu.ResourceDesc { return r.desc }

// GPUVirtualAddress is zero for textures.
func (r *Resource) GPUVirtualAddress() uint64 { return r.address }

func (r *Resource) Map() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if r.desc.Dimension != gpu.ResourceDimensionBuffer || r.heap == gpu.HeapTypeDefault {
		return nil, fmt.Errorf("resource is not CPU visible")
	}
	r.mapped = true
	return r.data, nil
}

func (r *Resource) Unmap() {
	r.mu.Lock()
	r.mapped = false
	r.mu.Unlock()
}

func (r *Resource) WriteToSubresource(data []byte, rowPitch uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	if r.desc.Dimension != gpu.ResourceDimensionTexture2D {
		return fmt.Errorf("WriteToSubresource on a buffer")
	}
	row := uint32(r.desc.Width) * r.desc.Format.Size()
	if rowPitch < row {
		return fmt.Errorf("row pitch %d smaller than row size %d", rowPitch, row)
	}
	need := uint64(rowPitch)*uint64(r.desc.Height-1) + uint64(row)
	if uint64(len(data)) < need {
		return fmt.Errorf("texture data has %d bytes, need %d", len(data), need)
	}
	for y := uint32(0); y < r.desc.Height; y++ {
		copy(r.data[y*row:(y+1)*row], data[y*rowPitch:y*rowPitch+row])
	}
	return nil
}

// Bytes returns a copy of the resource contents as the GPU last wrote them.
func (r *Resource) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

func (r *Resource) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *Resource) Release() {
	r.mu.Lock()
	r.released = true
	r.data = nil
	r.mu.Unlock()
}
