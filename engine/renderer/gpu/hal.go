// Package gpu declares the hardware abstraction the renderer records against. The shape
// follows D3D12: a factory enumerates adapters and creates swapchains, a device creates
// every other object, command lists are recorded against allocators and submitted to a
// queue, and fences carry monotonically increasing values from the GPU back to the CPU.
package gpu

import "time"

type Releaser interface {
	Release()
}

// Factory enumerates adapters and owns the presentation surface.
type Factory interface {
	EnumAdapters() ([]AdapterDesc, error)
	// CreateDevice fails when the adapter cannot reach the requested feature level.
	CreateDevice(adapter uint32, level FeatureLevel) (Device, error)
	// CreateSwapChain creates a swapchain presenting through queue.
	CreateSwapChain(device Device, queue CommandQueue, desc SwapChainDesc) (SwapChain, error)
	Releaser
}

type Device interface {
	CreateCommandQueue(kind CommandListKind) (CommandQueue, error)
	CreateCommandAllocator(kind CommandListKind) (CommandAllocator, error)
	// CreateCommandList returns a list in the recording state.
	CreateCommandList(kind CommandListKind, allocator CommandAllocator, initial PipelineState) (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)

	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	// DescriptorHandleIncrementSize is the stride between two descriptors of the same heap
	// kind. It is hardware dependent.
	DescriptorHandleIncrementSize(kind HeapKind) uint32

	CreateCommittedResource(heap HeapType, desc ResourceDesc, initialState ResourceState, clear *ClearValue) (Resource, error)
	CreateRenderTargetView(resource Resource, dest CPUDescriptorHandle) error
	CreateDepthStencilView(resource Resource, dest CPUDescriptorHandle) error
	CreateConstantBufferView(desc ConstantBufferViewDesc, dest CPUDescriptorHandle) error
	CreateShaderResourceView(resource Resource, dest CPUDescriptorHandle) error
	CreateSampler(desc SamplerDesc, dest CPUDescriptorHandle) error

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipelineState(desc GraphicsPipelineDesc) (PipelineState, error)
	Releaser
}

// CommandQueue executes submitted lists in submission order. Signal is ordered after
// every list submitted before it.
type CommandQueue interface {
	ExecuteCommandLists(lists ...CommandList) error
	Signal(fence Fence, value uint64) error
	Releaser
}

type CommandAllocator interface {
	// Reset fails while the GPU still executes a list recorded with this allocator.
	Reset() error
	Releaser
}

// CommandList records GPU work. Recording calls do not return errors; the first failure
// is reported by Close.
type CommandList interface {
	Reset(allocator CommandAllocator, initial PipelineState) error
	Close() error

	ResourceBarrier(barriers ...ResourceBarrier)
	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32)
	ClearDepthStencilView(dsv CPUDescriptorHandle, depth float32, stencil uint8)
	OMSetRenderTargets(rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)

	SetGraphicsRootSignature(rs RootSignature)
	SetPipelineState(pso PipelineState)
	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetGraphicsRootDescriptorTable(parameter uint32, base GPUDescriptorHandle)
	RSSetViewports(viewports ...Viewport)
	RSSetScissorRects(rects ...Rect)

	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetVertexBuffers(startSlot uint32, views ...VertexBufferView)
	IASetIndexBuffer(view IndexBufferView)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndexLocation uint32, baseVertexLocation int32, startInstanceLocation uint32)
	Releaser
}

// Fence is a GPU to CPU counter. CompletedValue never decreases.
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until CompletedValue reaches value or the timeout expires.
	Wait(value uint64, timeout time.Duration) (WaitResult, error)
	Releaser
}

type Resource interface {
	Desc() ResourceDesc
	GPUVirtualAddress() uint64
	// Map is only valid on upload and readback heap buffers.
	Map() ([]byte, error)
	Unmap()
	// WriteToSubresource copies tightly or row-pitch packed texel data into a texture.
	WriteToSubresource(data []byte, rowPitch uint32) error
	Releaser
}

type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUDescriptorHandleForHeapStart() CPUDescriptorHandle
	// GPUDescriptorHandleForHeapStart is zero for heaps that are not shader visible.
	GPUDescriptorHandleForHeapStart() GPUDescriptorHandle
	Releaser
}

type SwapChain interface {
	Desc() SwapChainDesc
	CurrentBackBufferIndex() uint32
	Buffer(index uint32) (Resource, error)
	// Present queues the current back buffer for display after all work submitted so far.
	Present(syncInterval uint32, flags uint32) error
	Releaser
}

type RootSignature interface {
	Desc() RootSignatureDesc
	Releaser
}

type PipelineState interface {
	Desc() GraphicsPipelineDesc
	Releaser
}
