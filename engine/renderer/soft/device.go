package soft

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// DrawCall is what the timeline observed when executing an indexed draw.
type DrawCall struct {
	RootSignature *RootSignature
	Pipeline      *PipelineState
	RenderTarget  *Resource
	VertexBuffer  gpu.VertexBufferView
	IndexBuffer   gpu.IndexBufferView
	Tables        map[uint32]gpu.GPUDescriptorHandle
	IndexCount    uint32
	InstanceCount uint32
}

type stats struct {
	submissions int
	draws       []DrawCall
	validation  []string
}

type Device struct {
	cfg     *config
	adapter gpu.AdapterDesc

	mu         sync.Mutex
	nextAddr   uint64
	nextCPU    uintptr
	nextGPU    uint64
	heaps      []*DescriptorHeap
	stats      stats
	released   bool
	liveQueues []*CommandQueue
}

func newDevice(cfg *config, adapter gpu.AdapterDesc) *Device {
	return &Device{
		cfg:      cfg,
		adapter:  adapter,
		nextAddr: 0x10000,
		nextCPU:  0x100000,
		nextGPU:  0x1_0000_0000,
	}
}

func (d *Device) Adapter() gpu.AdapterDesc {
	return d.adapter
}

// Draws returns the draws executed so far, in execution order.
func (d *Device) Draws() []DrawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DrawCall(nil), d.stats.draws...)
}

// Submissions returns the number of command lists the timeline finished executing.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.submissions
}

// ValidationErrors returns the messages the timeline recorded for invalid GPU usage.
func (d *Device) ValidationErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stats.validation...)
}

func (d *Device) validationf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogWarn("soft validation: %s", msg)
	d.mu.Lock()
	d.stats.validation = append(d.stats.validation, msg)
	d.mu.Unlock()
}

func (d *Device) CreateCommandQueue(kind gpu.CommandListKind) (gpu.CommandQueue, error) {
	if err := d.cfg.check("CreateCommandQueue"); err != nil {
		return nil, err
	}
	q := newCommandQueue(d, kind)
	d.mu.Lock()
	d.liveQueues = append(d.liveQueues, q)
	d.mu.Unlock()
	return q, nil
}

func (d *Device) CreateCommandAllocator(kind gpu.CommandListKind) (gpu.CommandAllocator, error) {
	if err := d.cfg.check("CreateCommandAllocator"); err != nil {
		return nil, err
	}
	return &CommandAllocator{kind: kind}, nil
}

func (d *Device) CreateCommandList(kind gpu.CommandListKind, allocator gpu.CommandAllocator, initial gpu.PipelineState) (gpu.CommandList, error) {
	if err := d.cfg.check("CreateCommandList"); err != nil {
		return nil, err
	}
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("allocator %T does not belong to the soft backend", allocator)
	}
	l := &CommandList{dev: d, kind: kind, closed: true}
	if err := l.Reset(a, initial); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if err := d.cfg.check("CreateFence"); err != nil {
		return nil, err
	}
	return newFence(initialValue), nil
}

func (d *Device) DescriptorHandleIncrementSize(kind gpu.HeapKind) uint32 {
	return d.cfg.increments[kind]
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if err := d.cfg.check("CreateDescriptorHeap"); err != nil {
		return nil, err
	}
	if desc.NumDescriptors == 0 {
		return nil, fmt.Errorf("descriptor heap %s with zero descriptors", desc.Kind)
	}
	if desc.ShaderVisible && (desc.Kind == gpu.HeapKindRTV || desc.Kind == gpu.HeapKindDSV) {
		return nil, fmt.Errorf("%s heaps cannot be shader visible", desc.Kind)
	}
	inc := d.DescriptorHandleIncrementSize(desc.Kind)
	span := uint64(desc.NumDescriptors) * uint64(inc)

	d.mu.Lock()
	defer d.mu.Unlock()
	h := &DescriptorHeap{
		dev:       d,
		desc:      desc,
		increment: inc,
		cpuBase:   d.nextCPU,
		slots:     make([]descriptor, desc.NumDescriptors),
	}
	d.nextCPU += uintptr(alignUp(span+0x1000, 0x1000))
	if desc.ShaderVisible {
		h.gpuBase = d.nextGPU
		d.nextGPU += alignUp(span+0x1000, 0x1000)
	}
	d.heaps = append(d.heaps, h)
	return h, nil
}

func (d *Device) removeHeap(h *DescriptorHeap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.heaps {
		if e == h {
			d.heaps = append(d.heaps[:i], d.heaps[i+1:]...)
			return
		}
	}
}

func (d *Device) resolveCPU(h gpu.CPUDescriptorHandle) (*DescriptorHeap, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, heap := range d.heaps {
		if idx, ok := heap.indexOfCPU(h); ok {
			return heap, idx, nil
		}
	}
	return nil, 0, fmt.Errorf("cpu descriptor handle %#x is not inside a live heap", h.Ptr)
}

func (d *Device) resolveGPU(h gpu.GPUDescriptorHandle) (*DescriptorHeap, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, heap := range d.heaps {
		if idx, ok := heap.indexOfGPU(h); ok {
			return heap, idx, nil
		}
	}
	return nil, 0, fmt.Errorf("gpu descriptor handle %#x is not inside a live shader visible heap", h.Ptr)
}

func (d *Device) allocAddress(size uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr := d.nextAddr
	d.nextAddr += alignUp(size, 256) + 256
	return addr
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	if err := d.cfg.check("CreateCommittedResource"); err != nil {
		return nil, err
	}
	return newResource(d, heap, desc, initialState, clear)
}

func (d *Device) writeDescriptor(dest gpu.CPUDescriptorHandle, kind gpu.HeapKind, desc descriptor) error {
	heap, idx, err := d.resolveCPU(dest)
	if err != nil {
		return err
	}
	if heap.desc.Kind != kind {
		return fmt.Errorf("descriptor of heap kind %s written into a %s heap", kind, heap.desc.Kind)
	}
	heap.mu.Lock()
	heap.slots[idx] = desc
	heap.mu.Unlock()
	return nil
}

func asResource(r gpu.Resource) (*Resource, error) {
	res, ok := r.(*Resource)
	if !ok || res == nil {
		return nil, fmt.Errorf("resource %T does not belong to the soft backend", r)
	}
	if res.isReleased() {
		return nil, ErrReleased
	}
	return res, nil
}

func (d *Device) CreateRenderTargetView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	res, err := asResource(resource)
	if err != nil {
		return err
	}
	if res.desc.Dimension != gpu.ResourceDimensionTexture2D {
		return fmt.Errorf("render target view on a buffer")
	}
	return d.writeDescriptor(dest, gpu.HeapKindRTV, descriptor{kind: descriptorRTV, resource: res})
}

func (d *Device) CreateDepthStencilView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	res, err := asResource(resource)
	if err != nil {
		return err
	}
	if res.desc.Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
		return fmt.Errorf("depth stencil view on a resource without ALLOW_DEPTH_STENCIL")
	}
	return d.writeDescriptor(dest, gpu.HeapKindDSV, descriptor{kind: descriptorDSV, resource: res})
}

func (d *Device) CreateConstantBufferView(desc gpu.ConstantBufferViewDesc, dest gpu.CPUDescriptorHandle) error {
	if desc.SizeInBytes == 0 || desc.SizeInBytes%256 != 0 {
		return fmt.Errorf("constant buffer view size %d is not a non-zero multiple of 256", desc.SizeInBytes)
	}
	return d.writeDescriptor(dest, gpu.HeapKindCBVSRVUAV, descriptor{kind: descriptorCBV, cbv: desc})
}

func (d *Device) CreateShaderResourceView(resource gpu.Resource, dest gpu.CPUDescriptorHandle) error {
	res, err := asResource(resource)
	if err != nil {
		return err
	}
	return d.writeDescriptor(dest, gpu.HeapKindCBVSRVUAV, descriptor{kind: descriptorSRV, resource: res})
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc, dest gpu.CPUDescriptorHandle) error {
	return d.writeDescriptor(dest, gpu.HeapKindSampler, descriptor{kind: descriptorSampler, sampler: desc})
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.cfg.check("CreateRootSignature"); err != nil {
		return nil, err
	}
	for i, p := range desc.Parameters {
		if len(p.Ranges) == 0 {
			return nil, fmt.Errorf("root parameter %d has no descriptor ranges", i)
		}
		kind := p.Ranges[0].Type.HeapKind()
		for _, r := range p.Ranges[1:] {
			if r.Type.HeapKind() != kind {
				return nil, fmt.Errorf("root parameter %d mixes sampler and non-sampler ranges", i)
			}
		}
	}
	return &RootSignature{desc: desc}, nil
}

func (d *Device) CreateGraphicsPipelineState(desc gpu.GraphicsPipelineDesc) (gpu.PipelineState, error) {
	if err := d.cfg.check("CreateGraphicsPipelineState"); err != nil {
		return nil, err
	}
	if _, ok := desc.RootSignature.(*RootSignature); !ok {
		return nil, fmt.Errorf("pipeline state without a soft root signature")
	}
	if err := checkBytecode(desc.VS, "vs_"); err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	if err := checkBytecode(desc.PS, "ps_"); err != nil {
		return nil, fmt.Errorf("pixel shader: %w", err)
	}
	if len(desc.RTVFormats) == 0 || len(desc.RTVFormats) > 8 {
		return nil, fmt.Errorf("pipeline state with %d render target formats", len(desc.RTVFormats))
	}
	if desc.DepthStencil.DepthEnable && desc.DSVFormat != gpu.FormatD32Float {
		return nil, fmt.Errorf("depth enabled with depth format %s", desc.DSVFormat)
	}
	if desc.Topology == gpu.PrimitiveTopologyTypeUndefined {
		return nil, fmt.Errorf("pipeline state without a primitive topology type")
	}
	return &PipelineState{desc: desc}, nil
}

func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	queues := d.liveQueues
	d.liveQueues = nil
	d.mu.Unlock()
	for _, q := range queues {
		q.Release()
	}
}

type RootSignature struct {
	desc gpu.RootSignatureDesc
}

func (r *RootSignature) Desc() gpu.RootSignatureDesc { return r.desc }

func (r *RootSignature) Release() {}

type PipelineState struct {
	desc gpu.GraphicsPipelineDesc
}

func (p *PipelineState) Desc() gpu.GraphicsPipelineDesc { return p.desc }

func (p *PipelineState) Release() {}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
