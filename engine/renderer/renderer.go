package renderer

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Model is a prepared glTF document: its GPU geometry, material textures, descriptor
// heaps, one constant buffer per frame slot and the pipelines its materials select.
type Model struct {
	Name            string
	Meshes          []Mesh
	Materials       []Material
	Heaps           *ModelHeaps
	Pipelines       *Pipelines
	ConstantBuffers []*BufferObject
}

func (m *Model) Release() {
	for i := range m.Meshes {
		m.Meshes[i].Release()
	}
	for i := range m.Materials {
		m.Materials[i].Release()
	}
	for _, cb := range m.ConstantBuffers {
		cb.Release()
	}
	if m.Pipelines != nil {
		m.Pipelines.Release()
	}
	if m.Heaps != nil {
		m.Heaps.Release()
	}
	*m = Model{Name: m.Name}
}

// NeedsBlend reports whether any material of the model is alpha blended.
func (m *Model) NeedsBlend() bool {
	for _, mat := range m.Materials {
		if mat.AlphaMode == AlphaBlend {
			return true
		}
	}
	return false
}

type DrawItem struct {
	Model *Model
	World mgl32.Mat4
}

// FrameParams describes one frame. A model appears at most once, its constant buffer
// for the frame slot holds a single world matrix.
type FrameParams struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Draws      []DrawItem
}

// Renderer records and submits frames on a DeviceContext. Prepare, Render and the reload
// calls are serialized.
type Renderer struct {
	ctx      *DeviceContext
	compiler gpu.ShaderCompiler

	mu      sync.Mutex
	shaders ShaderSources
	models  map[string]*Model
}

func NewRenderer(ctx *DeviceContext, compiler gpu.ShaderCompiler, shaders ShaderSources) *Renderer {
	return &Renderer{
		ctx:      ctx,
		compiler: compiler,
		shaders:  shaders,
		models:   make(map[string]*Model),
	}
}

func (r *Renderer) Context() *DeviceContext { return r.ctx }

// Model returns a prepared model, nil if name was never prepared.
func (r *Renderer) Model(name string) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[name]
}

// Prepare uploads doc under name. A model already prepared under name is returned as is.
func (r *Renderer) Prepare(name string, doc *gltf.Document) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[name]; ok {
		return m, nil
	}
	m, err := r.prepare(name, doc, r.shaders)
	if err != nil {
		return nil, err
	}
	r.models[name] = m
	return m, nil
}

func (r *Renderer) prepare(name string, doc *gltf.Document, shaders ShaderSources) (*Model, error) {
	c := r.ctx
	m := &Model{Name: name}
	ok := false
	defer func() {
		if !ok {
			m.Release()
		}
	}()

	heaps, err := c.heaps.NewModelHeaps(MaterialCount(doc))
	if err != nil {
		return nil, err
	}
	m.Heaps = heaps

	for i := uint32(0); i < c.FrameCount(); i++ {
		cb, err := c.CreateConstantBuffer(shaderParametersSize)
		if err != nil {
			return nil, err
		}
		m.ConstantBuffers = append(m.ConstantBuffers, cb)
		view, _ := cb.View.Constant()
		if err := c.device.CreateConstantBufferView(view, heaps.CBVSRV.CPU(heaps.ConstantBufferSlot(i))); err != nil {
			return nil, core.NewResourceCreationError("CreateConstantBufferView", err)
		}
	}

	if m.Meshes, err = BuildModelGeometry(c, doc); err != nil {
		return nil, err
	}
	if m.Materials, err = LoadMaterials(c, heaps, doc); err != nil {
		return nil, err
	}
	for _, mesh := range m.Meshes {
		if mesh.MaterialIndex >= len(m.Materials) {
			return nil, core.NewResourceCreationError("Prepare", fmt.Errorf("mesh %q uses material %d of %d", mesh.Name, mesh.MaterialIndex, len(m.Materials)))
		}
	}

	if m.Pipelines, err = BuildPipelines(c, r.compiler, shaders, m.NeedsBlend()); err != nil {
		return nil, err
	}

	ok = true
	core.LogInfo("model %q prepared: %d meshes, %d materials", name, len(m.Meshes), len(m.Materials))
	return m, nil
}

// Reload prepares doc and, once that succeeded, replaces the model prepared under name.
// The previous model is released after the GPU has drained.
func (r *Renderer) Reload(name string, doc *gltf.Document) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.prepare(name, doc, r.shaders)
	if err != nil {
		return nil, err
	}
	if old, ok := r.models[name]; ok {
		if err := r.ctx.WaitGPU(); err != nil {
			m.Release()
			return nil, err
		}
		old.Release()
	}
	r.models[name] = m
	return m, nil
}

// SetShaders rebuilds the pipelines of every prepared model from src. Nothing changes
// when any stage fails to compile.
func (r *Renderer) SetShaders(src ShaderSources) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateShaders(r.compiler, src); err != nil {
		return err
	}
	rebuilt := make(map[string]*Pipelines, len(r.models))
	for name, m := range r.models {
		p, err := BuildPipelines(r.ctx, r.compiler, src, m.NeedsBlend())
		if err != nil {
			for _, p := range rebuilt {
				p.Release()
			}
			return err
		}
		rebuilt[name] = p
	}
	if len(rebuilt) > 0 {
		if err := r.ctx.WaitGPU(); err != nil {
			return err
		}
	}
	for name, p := range rebuilt {
		m := r.models[name]
		m.Pipelines.Release()
		m.Pipelines = p
	}
	r.shaders = src
	return nil
}

func (r *Renderer) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return nil
	}
	if err := r.ctx.WaitGPU(); err != nil {
		return err
	}
	m.Release()
	delete(r.models, name)
	return nil
}

// Render records, submits and presents one frame, then waits until the next frame slot
// is free. A draw list naming an unprepared or repeated model fails with ErrInvalidDraw
// before anything is recorded; any other failure is a DeviceLostError.
//
// Allocators, constant buffers and fences belong to the frame slot, which advances by one
// per frame. The back buffer and its RTV belong to whichever image the swapchain handed
// out, which need not follow the slot order.
func (r *Renderer) Render(frame FrameParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Model]struct{}, len(frame.Draws))
	for i, d := range frame.Draws {
		if d.Model == nil || d.Model.Pipelines == nil {
			return fmt.Errorf("%w: draw %d names an unprepared model", core.ErrInvalidDraw, i)
		}
		if _, dup := seen[d.Model]; dup {
			return fmt.Errorf("%w: model %q drawn twice in one frame", core.ErrInvalidDraw, d.Model.Name)
		}
		seen[d.Model] = struct{}{}
	}

	c := r.ctx
	list := c.commandList
	slot := c.frameIndex
	image := c.swapchain.CurrentBackBufferIndex()
	if !c.sync.AllocatorFree(slot) {
		return core.NewDeviceLostError("Render", fmt.Errorf("allocator %d still in flight", slot))
	}

	// Reset the allocator and command list of this slot.
	if err := c.allocators[slot].Reset(); err != nil {
		return core.NewDeviceLostError("CommandAllocator.Reset", err)
	}
	if err := list.Reset(c.allocators[slot], nil); err != nil {
		return core.NewDeviceLostError("CommandList.Reset", err)
	}

	// Transition the acquired back buffer to render target.
	backBuffer := c.renderTargets[image]
	list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget))

	// Clear color and depth.
	rtv := c.heaps.RTV(image)
	dsv := c.heaps.DSV()
	list.ClearRenderTargetView(rtv, c.opts.clearColor)
	list.ClearDepthStencilView(dsv, 1.0, 0)
	list.OMSetRenderTargets([]gpu.CPUDescriptorHandle{rtv}, &dsv)

	// Write per draw constants.
	for _, d := range frame.Draws {
		params := ShaderParameters{World: d.World, View: frame.View, Proj: frame.Projection}
		if err := d.Model.ConstantBuffers[slot].Write(params.Bytes()); err != nil {
			list.Close()
			return core.NewDeviceLostError("constant buffer", err)
		}
	}

	for _, d := range frame.Draws {
		r.recordModel(list, d.Model, slot)
	}

	list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStateRenderTarget, gpu.ResourceStatePresent))

	// Close, execute and present.
	if err := list.Close(); err != nil {
		return core.NewDeviceLostError("CommandList.Close", err)
	}
	if err := c.queue.ExecuteCommandLists(list); err != nil {
		return core.NewDeviceLostError("ExecuteCommandLists", err)
	}
	syncInterval := uint32(0)
	if c.opts.vsync {
		syncInterval = 1
	}
	if err := c.swapchain.Present(syncInterval, 0); err != nil {
		return core.NewDeviceLostError("Present", err)
	}

	// Signal this slot and wait until the next one is free.
	if err := c.sync.WaitPreviousFrame(slot); err != nil {
		return err
	}
	c.frameIndex = (slot + 1) % c.opts.frameCount
	return nil
}

func (r *Renderer) recordModel(list gpu.CommandList, m *Model, frame uint32) {
	c := r.ctx
	heaps := m.Heaps

	list.SetGraphicsRootSignature(m.Pipelines.RootSignature)
	list.RSSetViewports(c.viewport)
	list.RSSetScissorRects(c.scissor)
	list.SetDescriptorHeaps(heaps.ShaderVisible()...)
	list.SetGraphicsRootDescriptorTable(RootParamConstants, heaps.CBVSRV.GPU(heaps.ConstantBufferSlot(frame)))
	list.SetGraphicsRootDescriptorTable(RootParamSampler, heaps.Samplers.GPU(0))

	for _, mesh := range m.Meshes {
		mat := m.Materials[mesh.MaterialIndex]
		vb, _ := mesh.Vertices.View.Vertex()
		ib, _ := mesh.Indices.View.Index()

		list.SetPipelineState(m.Pipelines.For(mat.AlphaMode))
		list.IASetPrimitiveTopology(gpu.PrimitiveTopologyTriangleList)
		list.IASetVertexBuffers(0, vb)
		list.IASetIndexBuffer(ib)
		list.SetGraphicsRootDescriptorTable(RootParamTexture, mat.SRV)
		list.DrawIndexedInstanced(mesh.IndexCount, 1, 0, 0, 0)
	}
}

// Close drains the GPU and releases every prepared model. The DeviceContext stays open.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.ctx.WaitGPU()
	for name, m := range r.models {
		m.Release()
		delete(r.models, name)
	}
	return err
}
