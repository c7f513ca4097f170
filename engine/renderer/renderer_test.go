package renderer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameFor(m *renderer.Model) renderer.FrameParams {
	cam := renderer.NewCamera()
	cam.LookAt(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{})
	return renderer.FrameParams{
		View:       cam.View(),
		Projection: cam.Projection(320, 240),
		Draws:      []renderer.DrawItem{{Model: m, World: mgl32.Ident4()}},
	}
}

func TestRenderThreeFramesOfAQuad(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)
	require.Len(t, m.Meshes, 1)
	assert.Equal(t, uint32(4), m.Meshes[0].VertexCount)
	assert.Equal(t, uint32(6), m.Meshes[0].IndexCount)
	require.Len(t, m.Materials, 1)
	assert.Nil(t, m.Pipelines.Blended)

	expected := [][]uint64{{1, 0}, {1, 1}, {2, 1}}
	for i, want := range expected {
		require.NoError(t, r.Render(frameFor(m)), "frame %d", i)
		assert.Equal(t, want, ctx.Sync().Values(), "fence values after frame %d", i)
	}

	require.NoError(t, ctx.WaitGPU())
	presented := ctx.SwapChain().(*soft.SwapChain).Presented()
	assert.Equal(t, []uint32{0, 1, 0}, presented)
	assert.Empty(t, dev.ValidationErrors())

	draws := dev.Draws()
	require.Len(t, draws, 3)
	for _, d := range draws {
		assert.Equal(t, uint32(6), d.IndexCount)
		assert.Equal(t, uint32(1), d.InstanceCount)
		assert.Equal(t, gpu.FormatR32Uint, d.IndexBuffer.Format)
		assert.Equal(t, uint32(renderer.VertexStride), d.VertexBuffer.StrideInBytes)
		assert.Same(t, m.Pipelines.Opaque, d.Pipeline)
	}
	// Frame slots alternate between the two constant buffer descriptors.
	assert.Equal(t, m.Heaps.CBVSRV.GPU(0), draws[0].Tables[renderer.RootParamConstants])
	assert.Equal(t, m.Heaps.CBVSRV.GPU(1), draws[1].Tables[renderer.RootParamConstants])
	assert.Equal(t, m.Heaps.CBVSRV.GPU(2), draws[0].Tables[renderer.RootParamTexture])
}

func TestRenderClearsTheBackBuffer(t *testing.T) {
	ctx, _ := newTestContext(t, nil, renderer.WithClearColor([4]float32{1, 0, 0, 1}))
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	require.NoError(t, r.Render(renderer.FrameParams{View: mgl32.Ident4(), Projection: mgl32.Ident4()}))
	require.NoError(t, ctx.WaitGPU())

	pixels := ctx.RenderTarget(0).(*soft.Resource).Bytes()
	require.NotEmpty(t, pixels)
	assert.Equal(t, []byte{255, 0, 0, 255}, pixels[:4])
}

func TestConstantBufferHoldsTheFrameMatrices(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)

	frame := frameFor(m)
	frame.Draws[0].World = mgl32.Translate3D(1, 2, 3)
	require.NoError(t, r.Render(frame))

	got, err := m.ConstantBuffers[0].ReadBack()
	require.NoError(t, err)
	want := renderer.ShaderParameters{World: frame.Draws[0].World, View: frame.View, Proj: frame.Projection}.Bytes()
	assert.Equal(t, want, got[:len(want)])
	assert.Len(t, got, 256)
}

func TestBlendMaterialUsesTheBlendedPipeline(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("glass", quadDocument(gltf.AlphaBlend))
	require.NoError(t, err)
	require.NotNil(t, m.Pipelines.Blended)

	require.NoError(t, r.Render(frameFor(m)))
	require.NoError(t, ctx.WaitGPU())

	draws := dev.Draws()
	require.Len(t, draws, 1)
	pso := draws[0].Pipeline.Desc()
	assert.True(t, pso.Blend.RenderTarget[0].BlendEnable)
	assert.Equal(t, gpu.BlendSrcAlpha, pso.Blend.RenderTarget[0].SrcBlend)
	assert.Equal(t, gpu.BlendInvSrcAlpha, pso.Blend.RenderTarget[0].DestBlend)
	assert.Empty(t, dev.ValidationErrors())
}

func TestMixedMaterialsSelectPerMesh(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	b := newDocBuilder()
	opaque := b.material("opaque", gltf.AlphaOpaque)
	mask := b.material("mask", gltf.AlphaMask)
	blend := b.material("blend", gltf.AlphaBlend)
	b.primitive(quadPositions, quadNormals, quadIndices, gltf.Index(opaque))
	b.primitive(quadPositions, quadNormals, quadIndices, gltf.Index(mask))
	b.primitive(quadPositions, quadNormals, quadIndices, gltf.Index(blend))

	m, err := r.Prepare("mixed", b.doc)
	require.NoError(t, err)
	require.NoError(t, r.Render(frameFor(m)))
	require.NoError(t, ctx.WaitGPU())

	draws := dev.Draws()
	require.Len(t, draws, 3)
	assert.False(t, draws[0].Pipeline.Desc().Blend.RenderTarget[0].BlendEnable)
	assert.False(t, draws[1].Pipeline.Desc().Blend.RenderTarget[0].BlendEnable)
	assert.True(t, draws[2].Pipeline.Desc().Blend.RenderTarget[0].BlendEnable)
	for i, d := range draws {
		assert.Equal(t, m.Heaps.CBVSRV.GPU(m.Heaps.MaterialSlot(uint32(i))), d.Tables[renderer.RootParamTexture])
	}
	assert.Empty(t, dev.ValidationErrors())
}

func TestDocumentWithoutMaterialsGetsADefault(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	b := newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	m, err := r.Prepare("bare", b.doc)
	require.NoError(t, err)
	require.Len(t, m.Materials, 1)
	assert.Equal(t, renderer.AlphaOpaque, m.Materials[0].AlphaMode)
	assert.Equal(t, uint32(3), m.Heaps.CBVSRV.Capacity())

	require.NoError(t, r.Render(frameFor(m)))
	require.NoError(t, ctx.WaitGPU())
	assert.Empty(t, dev.ValidationErrors())
}

func TestPrepareReturnsCachedModel(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	a, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)
	b, err := r.Prepare("quad", nil)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, r.Model("quad"))
}

func TestReloadReplacesTheModel(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	old, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)
	require.NoError(t, r.Render(frameFor(old)))

	fresh, err := r.Reload("quad", quadDocument(gltf.AlphaBlend))
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Nil(t, old.Pipelines)
	assert.NotNil(t, fresh.Pipelines.Blended)

	assert.Error(t, r.Render(frameFor(old)))
	require.NoError(t, r.Render(frameFor(fresh)))
	require.NoError(t, ctx.WaitGPU())
	assert.Empty(t, dev.ValidationErrors())
}

func TestSetShadersKeepsPipelinesOnFailure(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)
	before := m.Pipelines

	broken := testShaders()
	broken.OpaquePixel.Code = []byte("float4 main( : SV_TARGET { return 1; }")
	err = r.SetShaders(broken)
	var sce *core.ShaderCompilationError
	require.ErrorAs(t, err, &sce)
	assert.Same(t, before, m.Pipelines)

	require.NoError(t, r.SetShaders(testShaders()))
	assert.NotSame(t, before, m.Pipelines)
	require.NoError(t, r.Render(frameFor(m)))
}

func TestDrawingAModelTwiceIsRejected(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)
	frame := frameFor(m)
	frame.Draws = append(frame.Draws, frame.Draws[0])
	err = r.Render(frame)
	assert.ErrorIs(t, err, core.ErrInvalidDraw)
	assert.ErrorContains(t, err, `"quad" drawn twice`)
	assert.Equal(t, []uint64{0, 0}, ctx.Sync().Values())
}

func TestDrawingAnUnpreparedModelIsRejected(t *testing.T) {
	ctx, dev := newTestContext(t, nil)
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	for name, m := range map[string]*renderer.Model{
		"nil model":    nil,
		"no pipelines": {Name: "bare"},
	} {
		t.Run(name, func(t *testing.T) {
			err := r.Render(frameFor(m))
			require.ErrorIs(t, err, core.ErrInvalidDraw)
			var lost *core.DeviceLostError
			assert.False(t, errors.As(err, &lost), "nothing was submitted")
		})
	}
	assert.Equal(t, []uint64{0, 0}, ctx.Sync().Values())
	assert.Empty(t, dev.Draws())
}

func TestRenderWithOutOfOrderBackBuffers(t *testing.T) {
	// The swapchain hands image 0 back before image 2 while frame 0 is still on the GPU.
	ctx, dev := newTestContext(t,
		[]soft.Option{soft.WithGPULatency(20 * time.Millisecond), soft.WithAcquireOrder(0, 1, 0, 2)},
		renderer.WithFrameBufferCount(3))
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())
	defer r.Close()

	m, err := r.Prepare("quad", quadDocument(gltf.AlphaOpaque))
	require.NoError(t, err)

	var images []uint32
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(i%3), ctx.FrameIndex(), "frame slot before frame %d", i)
		images = append(images, ctx.BackBufferIndex())
		require.NoError(t, r.Render(frameFor(m)), "frame %d", i)
	}
	assert.Equal(t, []uint32{0, 1, 0, 2, 0, 1, 0, 2}, images)
	assert.Equal(t, []uint64{3, 3, 2}, ctx.Sync().Values())

	require.NoError(t, ctx.WaitGPU())
	assert.Equal(t, images, ctx.SwapChain().(*soft.SwapChain).Presented())
	assert.Empty(t, dev.ValidationErrors())

	draws := dev.Draws()
	require.Len(t, draws, 8)
	for i, d := range draws {
		slot := m.Heaps.ConstantBufferSlot(uint32(i % 3))
		assert.Equal(t, m.Heaps.CBVSRV.GPU(slot), d.Tables[renderer.RootParamConstants], "draw %d", i)
	}
}

func TestSlowGPUTimesOutAsDeviceLost(t *testing.T) {
	ctx, _ := newTestContext(t, []soft.Option{soft.WithGPULatency(200 * time.Millisecond)},
		renderer.WithGPUWaitTimeout(20*time.Millisecond))
	r := renderer.NewRenderer(ctx, soft.Compiler{}, testShaders())

	// Frame 0 waits on nothing; frame 1 waits for frame 0 which is still executing.
	require.NoError(t, r.Render(renderer.FrameParams{}))
	err := r.Render(renderer.FrameParams{})
	var lost *core.DeviceLostError
	require.ErrorAs(t, err, &lost)
	assert.True(t, errors.Is(err, core.ErrFenceTimeout))

	time.Sleep(500 * time.Millisecond)
}
