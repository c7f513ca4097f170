package gpu

import "fmt"

type FeatureLevel uint32

const (
	FeatureLevel11_0 FeatureLevel = 0xb000
	FeatureLevel11_1 FeatureLevel = 0xb100
	FeatureLevel12_0 FeatureLevel = 0xc000
	FeatureLevel12_1 FeatureLevel = 0xc100
)

func (f FeatureLevel) String() string {
	return fmt.Sprintf("%d_%d", f>>12, (f>>8)&0xf)
}

type AdapterDesc struct {
	Name                 string
	VendorID             uint32
	DeviceID             uint32
	DedicatedVideoMemory uint64
	// Software adapters (WARP, CPU implementations) are skipped during device selection.
	Software        bool
	MaxFeatureLevel FeatureLevel
}

type Format uint32

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatD32Float
	FormatR32G32B32Float
	FormatR16Uint
	FormatR32Uint
)

// Size is the byte size of one element of the format.
func (f Format) Size() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatD32Float, FormatR32Uint:
		return 4
	case FormatR32G32B32Float:
		return 12
	case FormatR16Uint:
		return 2
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8_UNORM"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8_UNORM"
	case FormatD32Float:
		return "D32_FLOAT"
	case FormatR32G32B32Float:
		return "R32G32B32_FLOAT"
	case FormatR16Uint:
		return "R16_UINT"
	case FormatR32Uint:
		return "R32_UINT"
	}
	return "UNKNOWN"
}

type CommandListKind uint8

const (
	CommandListDirect CommandListKind = iota
	CommandListCopy
)

type HeapKind uint8

const (
	HeapKindCBVSRVUAV HeapKind = iota
	HeapKindSampler
	HeapKindRTV
	HeapKindDSV
)

func (k HeapKind) String() string {
	switch k {
	case HeapKindCBVSRVUAV:
		return "CBV_SRV_UAV"
	case HeapKindSampler:
		return "SAMPLER"
	case HeapKindRTV:
		return "RTV"
	case HeapKindDSV:
		return "DSV"
	}
	return "UNKNOWN"
}

type DescriptorHeapDesc struct {
	Kind           HeapKind
	NumDescriptors uint32
	ShaderVisible  bool
}

type HeapType uint8

const (
	HeapTypeDefault HeapType = iota
	HeapTypeUpload
	HeapTypeReadback
)

type ResourceDimension uint8

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture2D
)

type ResourceFlags uint32

const (
	ResourceFlagNone              ResourceFlags = 0
	ResourceFlagAllowRenderTarget ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil ResourceFlags = 1 << 1
)

type ResourceDesc struct {
	Dimension ResourceDimension
	// Byte size for buffers, texel width for textures.
	Width  uint64
	Height uint32
	Format Format
	Flags  ResourceFlags
}

func BufferDesc(size uint64) ResourceDesc {
	return ResourceDesc{Dimension: ResourceDimensionBuffer, Width: size, Height: 1}
}

func Tex2DDesc(format Format, width, height uint32, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension: ResourceDimensionTexture2D,
		Width:     uint64(width),
		Height:    height,
		Format:    format,
		Flags:     flags,
	}
}

type ResourceState uint32

const (
	ResourceStateCommon ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
	ResourceStateDepthWrite
	ResourceStateGenericRead
	ResourceStatePixelShaderResource
	ResourceStateCopyDest
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "COMMON"
	case ResourceStatePresent:
		return "PRESENT"
	case ResourceStateRenderTarget:
		return "RENDER_TARGET"
	case ResourceStateDepthWrite:
		return "DEPTH_WRITE"
	case ResourceStateGenericRead:
		return "GENERIC_READ"
	case ResourceStatePixelShaderResource:
		return "PIXEL_SHADER_RESOURCE"
	case ResourceStateCopyDest:
		return "COPY_DEST"
	}
	return "UNKNOWN"
}

type ClearValue struct {
	Format  Format
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

// ResourceBarrier is a state transition of a whole resource.
type ResourceBarrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

func TransitionBarrier(resource Resource, before, after ResourceState) ResourceBarrier {
	return ResourceBarrier{Resource: resource, Before: before, After: after}
}

type ConstantBufferViewDesc struct {
	BufferLocation uint64
	// Must be a multiple of 256.
	SizeInBytes uint32
}

type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type IndexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	Format         Format
}

type Filter uint8

const (
	FilterMinMagMipPoint Filter = iota
	FilterMinMagMipLinear
)

type AddressMode uint8

const (
	AddressModeWrap AddressMode = iota
	AddressModeMirror
	AddressModeClamp
)

type ComparisonFunc uint8

const (
	ComparisonNever ComparisonFunc = iota
	ComparisonLess
	ComparisonEqual
	ComparisonLessEqual
	ComparisonGreater
	ComparisonAlways
)

type SamplerDesc struct {
	Filter         Filter
	AddressU       AddressMode
	AddressV       AddressMode
	AddressW       AddressMode
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc ComparisonFunc
	MinLOD         float32
	MaxLOD         float32
}

type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

type PrimitiveTopology uint8

const (
	PrimitiveTopologyUndefined PrimitiveTopology = iota
	PrimitiveTopologyTriangleList
)

type PrimitiveTopologyType uint8

const (
	PrimitiveTopologyTypeUndefined PrimitiveTopologyType = iota
	PrimitiveTopologyTypeTriangle
)

type SwapEffect uint8

const (
	SwapEffectFlipDiscard SwapEffect = iota
	SwapEffectFlipSequential
)

type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
	SwapEffect  SwapEffect
}

type WaitResult uint8

const (
	WaitSignaled WaitResult = iota
	WaitTimedOut
)

func (r WaitResult) String() string {
	if r == WaitTimedOut {
		return "TimedOut"
	}
	return "Signaled"
}
