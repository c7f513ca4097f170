package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const (
	VertexShaderProfile = "vs_6_0"
	PixelShaderProfile  = "ps_6_0"
	ShaderEntryPoint    = "main"
)

// Root parameter indices.
const (
	RootParamConstants uint32 = iota
	RootParamTexture
	RootParamSampler
)

type ShaderSource struct {
	Name string
	Code []byte
}

type ShaderSources struct {
	Vertex      ShaderSource
	OpaquePixel ShaderSource
	AlphaPixel  ShaderSource
}

// Pipelines holds the root signature and one pipeline state per alpha mode in use.
// Blended is nil when no material of the model blends.
type Pipelines struct {
	RootSignature gpu.RootSignature
	Opaque        gpu.PipelineState
	Blended       gpu.PipelineState
}

// For returns the pipeline state to bind for a material. MASK is drawn opaque.
func (p *Pipelines) For(mode AlphaMode) gpu.PipelineState {
	if mode == AlphaBlend && p.Blended != nil {
		return p.Blended
	}
	return p.Opaque
}

func (p *Pipelines) Release() {
	if p.Blended != nil {
		p.Blended.Release()
	}
	if p.Opaque != nil {
		p.Opaque.Release()
	}
	if p.RootSignature != nil {
		p.RootSignature.Release()
	}
}

func RootSignatureDesc() gpu.RootSignatureDesc {
	return gpu.RootSignatureDesc{
		Parameters: []gpu.RootParameter{
			RootParamConstants: {
				Ranges:     []gpu.DescriptorRange{{Type: gpu.DescriptorRangeCBV, NumDescriptors: 1}},
				Visibility: gpu.ShaderVisibilityVertex,
			},
			RootParamTexture: {
				Ranges:     []gpu.DescriptorRange{{Type: gpu.DescriptorRangeSRV, NumDescriptors: 1}},
				Visibility: gpu.ShaderVisibilityPixel,
			},
			RootParamSampler: {
				Ranges:     []gpu.DescriptorRange{{Type: gpu.DescriptorRangeSampler, NumDescriptors: 1}},
				Visibility: gpu.ShaderVisibilityPixel,
			},
		},
		Flags: gpu.RootSignatureFlagAllowInputAssemblerInputLayout,
	}
}

func InputLayout() []gpu.InputElement {
	return []gpu.InputElement{
		{SemanticName: "POSITION", Format: gpu.FormatR32G32B32Float, AlignedByteOffset: 0},
		{SemanticName: "NORMAL", Format: gpu.FormatR32G32B32Float, AlignedByteOffset: 12},
	}
}

func OpaqueBlendDesc() gpu.BlendDesc {
	var b gpu.BlendDesc
	b.RenderTarget[0] = gpu.RenderTargetBlendDesc{
		SrcBlend:       gpu.BlendOne,
		DestBlend:      gpu.BlendZero,
		BlendOp:        gpu.BlendOpAdd,
		SrcBlendAlpha:  gpu.BlendOne,
		DestBlendAlpha: gpu.BlendZero,
		BlendOpAlpha:   gpu.BlendOpAdd,
		WriteMask:      gpu.ColorWriteEnableAll,
	}
	return b
}

func AlphaBlendDesc() gpu.BlendDesc {
	var b gpu.BlendDesc
	b.RenderTarget[0] = gpu.RenderTargetBlendDesc{
		BlendEnable:    true,
		SrcBlend:       gpu.BlendSrcAlpha,
		DestBlend:      gpu.BlendInvSrcAlpha,
		BlendOp:        gpu.BlendOpAdd,
		SrcBlendAlpha:  gpu.BlendOne,
		DestBlendAlpha: gpu.BlendInvSrcAlpha,
		BlendOpAlpha:   gpu.BlendOpAdd,
		WriteMask:      gpu.ColorWriteEnableAll,
	}
	return b
}

// compileStage runs the compiler and turns a rejection into a ShaderCompilationError
// carrying the compiler output.
func compileStage(compiler gpu.ShaderCompiler, stage string, profile string, src ShaderSource) ([]byte, error) {
	bc, err := compiler.Compile(src.Code, src.Name, ShaderEntryPoint, profile)
	if err == nil {
		return bc, nil
	}
	diag := err.Error()
	var ce *gpu.CompileError
	if errors.As(err, &ce) {
		diag = ce.Diagnostic
	}
	e := &core.ShaderCompilationError{Stage: stage, Profile: profile, Diagnostic: diag, Err: err}
	core.LogError("%s", e)
	return nil, e
}

// BuildPipelines compiles every stage first and only then creates the root signature and
// pipeline states, so a compile failure leaves nothing behind.
func BuildPipelines(c *DeviceContext, compiler gpu.ShaderCompiler, src ShaderSources, needBlend bool) (*Pipelines, error) {
	vs, err := compileStage(compiler, "vertex", VertexShaderProfile, src.Vertex)
	if err != nil {
		return nil, err
	}
	opaquePS, err := compileStage(compiler, "pixel", PixelShaderProfile, src.OpaquePixel)
	if err != nil {
		return nil, err
	}
	var alphaPS []byte
	if needBlend {
		if alphaPS, err = compileStage(compiler, "pixel", PixelShaderProfile, src.AlphaPixel); err != nil {
			return nil, err
		}
	}

	p := &Pipelines{}
	if p.RootSignature, err = c.device.CreateRootSignature(RootSignatureDesc()); err != nil {
		return nil, core.NewResourceCreationError("CreateRootSignature", err)
	}

	desc := gpu.GraphicsPipelineDesc{
		RootSignature: p.RootSignature,
		VS:            vs,
		PS:            opaquePS,
		InputLayout:   InputLayout(),
		Blend:         OpaqueBlendDesc(),
		SampleMask:    0xffffffff,
		Rasterizer: gpu.RasterizerDesc{
			FillMode:        gpu.FillModeSolid,
			CullMode:        gpu.CullModeBack,
			DepthClipEnable: true,
		},
		DepthStencil: gpu.DepthStencilDesc{
			DepthEnable: true,
			DepthWrite:  true,
			DepthFunc:   gpu.ComparisonLessEqual,
		},
		Topology:    gpu.PrimitiveTopologyTypeTriangle,
		RTVFormats:  []gpu.Format{BackBufferFormat},
		DSVFormat:   DepthFormat,
		SampleCount: 1,
	}
	if p.Opaque, err = c.device.CreateGraphicsPipelineState(desc); err != nil {
		p.Release()
		return nil, core.NewResourceCreationError("CreateGraphicsPipelineState(opaque)", err)
	}

	if needBlend {
		desc.PS = alphaPS
		desc.Blend = AlphaBlendDesc()
		if p.Blended, err = c.device.CreateGraphicsPipelineState(desc); err != nil {
			p.Release()
			return nil, core.NewResourceCreationError("CreateGraphicsPipelineState(blended)", err)
		}
	}
	core.LogDebug("pipelines built (blended: %t)", needBlend)
	return p, nil
}

// ValidateShaders compiles every stage without creating pipeline states.
func ValidateShaders(compiler gpu.ShaderCompiler, src ShaderSources) error {
	for _, s := range []struct {
		stage   string
		profile string
		src     ShaderSource
	}{
		{"vertex", VertexShaderProfile, src.Vertex},
		{"pixel", PixelShaderProfile, src.OpaquePixel},
		{"pixel", PixelShaderProfile, src.AlphaPixel},
	} {
		if _, err := compileStage(compiler, s.stage, s.profile, s.src); err != nil {
			return fmt.Errorf("%s: %w", s.src.Name, err)
		}
	}
	return nil
}
