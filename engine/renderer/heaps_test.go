package renderer_test

import (
	"testing"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorOffsetsAreAffine(t *testing.T) {
	increments := map[gpu.HeapKind]uint32{
		gpu.HeapKindCBVSRVUAV: 56,
		gpu.HeapKindSampler:   24,
		gpu.HeapKindRTV:       40,
		gpu.HeapKindDSV:       12,
	}
	ctx, _ := newTestContext(t, []soft.Option{soft.WithDescriptorIncrements(increments)})
	hm := ctx.Heaps()

	rtvBase := hm.RTVHeap().DescriptorHeap().CPUDescriptorHandleForHeapStart()
	for i := uint32(0); i < ctx.FrameCount(); i++ {
		assert.Equal(t, rtvBase.Ptr+uintptr(i*40), hm.RTV(i).Ptr)
	}
	assert.Equal(t, hm.DSVHeap().DescriptorHeap().CPUDescriptorHandleForHeapStart(), hm.DSV())

	mh, err := hm.NewModelHeaps(3)
	require.NoError(t, err)
	defer mh.Release()

	assert.Equal(t, uint32(56), mh.CBVSRV.Increment())
	assert.Equal(t, uint32(5), mh.CBVSRV.Capacity())
	cpuBase := mh.CBVSRV.DescriptorHeap().CPUDescriptorHandleForHeapStart()
	gpuBase := mh.CBVSRV.DescriptorHeap().GPUDescriptorHandleForHeapStart()
	for i := uint32(0); i < 5; i++ {
		assert.Equal(t, cpuBase.Ptr+uintptr(i*56), mh.CBVSRV.CPU(i).Ptr)
		assert.Equal(t, gpuBase.Ptr+uint64(i*56), mh.CBVSRV.GPU(i).Ptr)
	}

	assert.Equal(t, uint32(0), mh.ConstantBufferSlot(0))
	assert.Equal(t, uint32(1), mh.ConstantBufferSlot(1))
	assert.Equal(t, uint32(2), mh.MaterialSlot(0))
	assert.Equal(t, uint32(4), mh.MaterialSlot(2))
	assert.False(t, mh.ConstantBuffers.Overlaps(mh.Materials))
	assert.Equal(t, uint32(1), mh.Sampler.Capacity())
	assert.Equal(t, mh.Sampler.DescriptorHeap().GPUDescriptorHandleForHeapStart(), mh.Samplers.GPU(0))
}

func TestHeapAllocationBeyondCapacityFails(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	mh, err := ctx.Heaps().NewModelHeaps(1)
	require.NoError(t, err)
	defer mh.Release()

	_, err = mh.CBVSRV.Allocate(1)
	var rce *core.ResourceCreationError
	assert.ErrorAs(t, err, &rce)

	_, err = ctx.Heaps().NewModelHeaps(0)
	assert.ErrorAs(t, err, &rce)
}

func TestDescriptorAllocationsOverlap(t *testing.T) {
	a := renderer.DescriptorAllocation{First: 0, Count: 2}
	b := renderer.DescriptorAllocation{First: 1, Count: 2}
	c := renderer.DescriptorAllocation{First: 2, Count: 1}
	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
}
