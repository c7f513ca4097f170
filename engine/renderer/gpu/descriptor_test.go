package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleOffsetIsAffine(t *testing.T) {
	for _, inc := range []uint32{1, 16, 32, 64} {
		cpu := CPUDescriptorHandle{Ptr: 0x4000}
		gpu := GPUDescriptorHandle{Ptr: 0x1_0000_0000}
		for i := uint32(0); i < 8; i++ {
			assert.Equal(t, uintptr(0x4000)+uintptr(i*inc), cpu.Offset(i, inc).Ptr)
			assert.Equal(t, uint64(0x1_0000_0000)+uint64(i*inc), gpu.Offset(i, inc).Ptr)
		}
	}
}

func TestFormatSizeAndRangeHeaps(t *testing.T) {
	assert.Equal(t, uint32(2), FormatR16Uint.Size())
	assert.Equal(t, uint32(4), FormatR32Uint.Size())
	assert.Equal(t, uint32(12), FormatR32G32B32Float.Size())
	assert.Equal(t, HeapKindSampler, DescriptorRangeSampler.HeapKind())
	assert.Equal(t, HeapKindCBVSRVUAV, DescriptorRangeSRV.HeapKind())
	assert.Equal(t, "11_0", FeatureLevel11_0.String())
	assert.Equal(t, "TimedOut", WaitTimedOut.String())
}
