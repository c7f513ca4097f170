package renderer

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type ViewKind uint8

const (
	ViewNone ViewKind = iota
	ViewVertex
	ViewIndex
	ViewConstant
)

func (k ViewKind) String() string {
	switch k {
	case ViewVertex:
		return "vertex"
	case ViewIndex:
		return "index"
	case ViewConstant:
		return "constant"
	}
	return "none"
}

// BufferView is the typed view of a buffer. Only the payload matching Kind is ever
// exposed.
type BufferView struct {
	kind     ViewKind
	vertex   gpu.VertexBufferView
	index    gpu.IndexBufferView
	constant gpu.ConstantBufferViewDesc
}

func (v BufferView) Kind() ViewKind { return v.kind }

func (v BufferView) Vertex() (gpu.VertexBufferView, bool) {
	return v.vertex, v.kind == ViewVertex
}

func (v BufferView) Index() (gpu.IndexBufferView, bool) {
	return v.index, v.kind == ViewIndex
}

func (v BufferView) Constant() (gpu.ConstantBufferViewDesc, bool) {
	return v.constant, v.kind == ViewConstant
}

// BufferObject is an upload heap buffer and its view.
type BufferObject struct {
	Resource gpu.Resource
	Size     uint64
	View     BufferView
}

// CreateBuffer allocates an upload heap buffer of size bytes and, when data is given,
// copies it in through a map/copy/unmap. The returned buffer has no view yet.
func (c *DeviceContext) CreateBuffer(size uint64, data []byte) (*BufferObject, error) {
	if size == 0 {
		return nil, core.NewResourceCreationError("CreateBuffer", fmt.Errorf("zero sized buffer"))
	}
	if uint64(len(data)) > size {
		return nil, core.NewResourceCreationError("CreateBuffer", fmt.Errorf("%d bytes of initial data do not fit in %d", len(data), size))
	}
	res, err := c.device.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(size), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		return nil, core.NewResourceCreationError("CreateCommittedResource", err)
	}
	b := &BufferObject{Resource: res, Size: size}
	if data != nil {
		if err := b.Write(data); err != nil {
			res.Release()
			return nil, err
		}
	}
	return b, nil
}

// CreateVertexBuffer uploads interleaved vertices of stride bytes each.
func (c *DeviceContext) CreateVertexBuffer(data []byte, stride uint32) (*BufferObject, error) {
	b, err := c.CreateBuffer(uint64(len(data)), data)
	if err != nil {
		return nil, err
	}
	b.View = BufferView{kind: ViewVertex, vertex: gpu.VertexBufferView{
		BufferLocation: b.Resource.GPUVirtualAddress(),
		SizeInBytes:    uint32(len(data)),
		StrideInBytes:  stride,
	}}
	return b, nil
}

// CreateIndexBuffer uploads 32-bit indices; the view declares R32_UINT to match.
func (c *DeviceContext) CreateIndexBuffer(indices []uint32) (*BufferObject, error) {
	data := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(data[4*i:], idx)
	}
	b, err := c.CreateBuffer(uint64(len(data)), data)
	if err != nil {
		return nil, err
	}
	b.View = BufferView{kind: ViewIndex, index: gpu.IndexBufferView{
		BufferLocation: b.Resource.GPUVirtualAddress(),
		SizeInBytes:    uint32(len(data)),
		Format:         gpu.FormatR32Uint,
	}}
	return b, nil
}

// ConstantBufferSize rounds size up to the 256 byte constant buffer alignment.
func ConstantBufferSize(size uint64) uint64 {
	return (size + 255) &^ 255
}

func (c *DeviceContext) CreateConstantBuffer(size uint64) (*BufferObject, error) {
	aligned := ConstantBufferSize(size)
	b, err := c.CreateBuffer(aligned, nil)
	if err != nil {
		return nil, err
	}
	b.View = BufferView{kind: ViewConstant, constant: gpu.ConstantBufferViewDesc{
		BufferLocation: b.Resource.GPUVirtualAddress(),
		SizeInBytes:    uint32(aligned),
	}}
	return b, nil
}

// Write replaces the start of the buffer with data. The caller guarantees the GPU is not
// reading the buffer.
func (b *BufferObject) Write(data []byte) error {
	if uint64(len(data)) > b.Size {
		return core.NewResourceCreationError("BufferObject.Write", fmt.Errorf("%d bytes do not fit in %d", len(data), b.Size))
	}
	mapped, err := b.Resource.Map()
	if err != nil {
		return core.NewResourceCreationError("Map", err)
	}
	copy(mapped, data)
	b.Resource.Unmap()
	return nil
}

// ReadBack returns a copy of the buffer contents through a host mapping.
func (b *BufferObject) ReadBack() ([]byte, error) {
	mapped, err := b.Resource.Map()
	if err != nil {
		return nil, err
	}
	defer b.Resource.Unmap()
	out := make([]byte, b.Size)
	copy(out, mapped)
	return out, nil
}

func (b *BufferObject) Release() {
	if b != nil && b.Resource != nil {
		b.Resource.Release()
		b.Resource = nil
	}
}
