package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// RootSignature is a pipeline layout. Parameter i is descriptor set i.
type RootSignature struct {
	device *Device
	desc   gpu.RootSignatureDesc
	layout vk.PipelineLayout
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	setLayouts := make([]vk.DescriptorSetLayout, 0, len(desc.Parameters))
	for i, p := range desc.Parameters {
		if len(p.Ranges) != 1 || p.Ranges[0].NumDescriptors != 1 {
			return nil, fmt.Errorf("root parameter %d: tables must hold exactly one range of one descriptor", i)
		}
		setLayouts = append(setLayouts, d.setLayout(p.Ranges[0].Type))
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	rs := &RootSignature{device: d, desc: desc}
	if err := d.locks.SafeCall(pipelineManagement, func() error {
		return check("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.handle, &info, nil, &rs.layout))
	}); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *RootSignature) Desc() gpu.RootSignatureDesc { return rs.desc }

func (rs *RootSignature) Release() {
	if rs.layout != nil {
		vk.DestroyPipelineLayout(rs.device.handle, rs.layout, nil)
		rs.layout = nil
	}
}

type PipelineState struct {
	device *Device
	desc   gpu.GraphicsPipelineDesc
	handle vk.Pipeline
}

func (d *Device) CreateGraphicsPipelineState(desc gpu.GraphicsPipelineDesc) (gpu.PipelineState, error) {
	rs, ok := desc.RootSignature.(*RootSignature)
	if !ok {
		return nil, fmt.Errorf("root signature %T does not belong to the vulkan backend", desc.RootSignature)
	}
	if desc.Topology != gpu.PrimitiveTopologyTypeTriangle {
		return nil, fmt.Errorf("only triangle pipelines are supported")
	}
	if len(desc.RTVFormats) != 1 {
		return nil, fmt.Errorf("pipelines render to exactly one target, %d given", len(desc.RTVFormats))
	}

	vs, err := d.shaderModule("vertex", desc.VS)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, vs, nil)
	ps, err := d.shaderModule("pixel", desc.PS)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, ps, nil)

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vs,
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: ps,
			PName:  safeString("main"),
		},
	}

	bindings, attributes := vertexInput(desc.InputLayout)
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport and scissor are recorded by the command list.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vk.False,
		LineWidth:               1.0,
	}
	if desc.Rasterizer.FillMode == gpu.FillModeWireframe {
		rasterizer.PolygonMode = vk.PolygonModeLine
	}
	switch desc.Rasterizer.CullMode {
	case gpu.CullModeNone:
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case gpu.CullModeFront:
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	}
	if desc.Rasterizer.FrontCounterClockwise {
		rasterizer.FrontFace = vk.FrontFaceCounterClockwise
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  vk.SampleCount1Bit,
		SampleShadingEnable:   vk.False,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}
	if desc.Blend.AlphaToCoverageEnable {
		multisampling.AlphaToCoverageEnable = vk.True
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vkBool(desc.DepthStencil.DepthEnable),
		DepthWriteEnable:      vkBool(desc.DepthStencil.DepthWrite),
		DepthCompareOp:        compareOp(desc.DepthStencil.DepthFunc),
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vkBool(desc.DepthStencil.StencilEnabled),
		MaxDepthBounds:        1.0,
	}

	target := desc.Blend.RenderTarget[0]
	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vkBool(target.BlendEnable),
		SrcColorBlendFactor: blendFactor(target.SrcBlend),
		DstColorBlendFactor: blendFactor(target.DestBlend),
		ColorBlendOp:        blendOp(target.BlendOp),
		SrcAlphaBlendFactor: blendFactor(target.SrcBlendAlpha),
		DstAlphaBlendFactor: blendFactor(target.DestBlendAlpha),
		AlphaBlendOp:        blendOp(target.BlendOpAlpha),
		ColorWriteMask:      vk.ColorComponentFlags(target.WriteMask),
	}
	colorBlendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	renderPass, err := d.renderPass(d.vkFormat(desc.RTVFormats[0]), vkFormat(desc.DSVFormat))
	if err != nil {
		return nil, err
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendState,
		PDynamicState:       &dynamicStateInfo,
		Layout:              rs.layout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pso := &PipelineState{device: d, desc: desc}
	if err := d.locks.SafeCall(pipelineManagement, func() error {
		pipelines := make([]vk.Pipeline, 1)
		if err := check("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.handle, nil, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, nil, pipelines)); err != nil {
			return err
		}
		pso.handle = pipelines[0]
		return nil
	}); err != nil {
		return nil, err
	}
	core.LogDebug("Graphics pipeline created (blend=%t).", target.BlendEnable)
	return pso, nil
}

// shaderModule wraps SPIR-V bytecode. The words are little endian.
func (d *Device) shaderModule(stage string, code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%s shader is not SPIR-V: %d bytes", stage, len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := check("vkCreateShaderModule", vk.CreateShaderModule(d.handle, &info, nil, &module)); err != nil {
		return nil, fmt.Errorf("%s shader: %w", stage, err)
	}
	return module, nil
}

// vertexInput groups elements by input slot. Element i is shader location i and each
// slot's stride covers its furthest element.
func vertexInput(layout []gpu.InputElement) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	strides := make(map[uint32]uint32)
	var slots []uint32
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(layout))
	for i, e := range layout {
		if _, ok := strides[e.InputSlot]; !ok {
			slots = append(slots, e.InputSlot)
		}
		strides[e.InputSlot] = max(strides[e.InputSlot], e.AlignedByteOffset+e.Format.Size())
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  e.InputSlot,
			Format:   vkFormat(e.Format),
			Offset:   e.AlignedByteOffset,
		})
	}
	bindings := make([]vk.VertexInputBindingDescription, 0, len(slots))
	for _, s := range slots {
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding:   s,
			Stride:    strides[s],
			InputRate: vk.VertexInputRateVertex,
		})
	}
	return bindings, attributes
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func compareOp(f gpu.ComparisonFunc) vk.CompareOp {
	switch f {
	case gpu.ComparisonNever:
		return vk.CompareOpNever
	case gpu.ComparisonLess:
		return vk.CompareOpLess
	case gpu.ComparisonEqual:
		return vk.CompareOpEqual
	case gpu.ComparisonLessEqual:
		return vk.CompareOpLessOrEqual
	case gpu.ComparisonGreater:
		return vk.CompareOpGreater
	}
	return vk.CompareOpAlways
}

func blendFactor(b gpu.Blend) vk.BlendFactor {
	switch b {
	case gpu.BlendZero:
		return vk.BlendFactorZero
	case gpu.BlendSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gpu.BlendInvSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	}
	return vk.BlendFactorOne
}

func blendOp(op gpu.BlendOp) vk.BlendOp {
	if op == gpu.BlendOpSubtract {
		return vk.BlendOpSubtract
	}
	return vk.BlendOpAdd
}

func (p *PipelineState) Desc() gpu.GraphicsPipelineDesc { return p.desc }

func (p *PipelineState) Release() {
	if p.handle != nil {
		vk.DestroyPipeline(p.device.handle, p.handle, nil)
		p.handle = nil
	}
}
