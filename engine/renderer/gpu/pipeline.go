package gpu

type DescriptorRangeType uint8

const (
	DescriptorRangeCBV DescriptorRangeType = iota
	DescriptorRangeSRV
	DescriptorRangeSampler
)

// HeapKind is the descriptor heap a table of this range type must point into.
func (t DescriptorRangeType) HeapKind() HeapKind {
	if t == DescriptorRangeSampler {
		return HeapKindSampler
	}
	return HeapKindCBVSRVUAV
}

type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
}

type ShaderVisibility uint8

const (
	ShaderVisibilityAll ShaderVisibility = iota
	ShaderVisibilityVertex
	ShaderVisibilityPixel
)

// RootParameter is a descriptor table parameter.
type RootParameter struct {
	Ranges     []DescriptorRange
	Visibility ShaderVisibility
}

type RootSignatureFlags uint32

const (
	RootSignatureFlagNone                           RootSignatureFlags = 0
	RootSignatureFlagAllowInputAssemblerInputLayout RootSignatureFlags = 1 << 0
)

type RootSignatureDesc struct {
	Parameters []RootParameter
	Flags      RootSignatureFlags
}

type InputElement struct {
	SemanticName      string
	SemanticIndex     uint32
	Format            Format
	InputSlot         uint32
	AlignedByteOffset uint32
}

type Blend uint8

const (
	BlendZero Blend = iota
	BlendOne
	BlendSrcAlpha
	BlendInvSrcAlpha
)

type BlendOp uint8

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
)

const ColorWriteEnableAll uint8 = 0xf

type RenderTargetBlendDesc struct {
	BlendEnable    bool
	SrcBlend       Blend
	DestBlend      Blend
	BlendOp        BlendOp
	SrcBlendAlpha  Blend
	DestBlendAlpha Blend
	BlendOpAlpha   BlendOp
	WriteMask      uint8
}

type BlendDesc struct {
	AlphaToCoverageEnable bool
	RenderTarget          [1]RenderTargetBlendDesc
}

type FillMode uint8

const (
	FillModeSolid FillMode = iota
	FillModeWireframe
)

type CullMode uint8

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

type RasterizerDesc struct {
	FillMode              FillMode
	CullMode              CullMode
	FrontCounterClockwise bool
	DepthClipEnable       bool
}

type DepthStencilDesc struct {
	DepthEnable    bool
	DepthWrite     bool
	DepthFunc      ComparisonFunc
	StencilEnabled bool
}

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS            []byte
	PS            []byte
	InputLayout   []InputElement
	Blend         BlendDesc
	SampleMask    uint32
	Rasterizer    RasterizerDesc
	DepthStencil  DepthStencilDesc
	Topology      PrimitiveTopologyType
	RTVFormats    []Format
	DSVFormat     Format
	SampleCount   uint32
}
