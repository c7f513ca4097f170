package renderer_test

import (
	"testing"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSync(t *testing.T, timeout time.Duration, opts ...soft.Option) (*renderer.FrameSynchronizer, gpu.Device, gpu.CommandQueue) {
	t.Helper()
	dev, err := soft.NewFactory(opts...).CreateDevice(1, gpu.FeatureLevel11_0)
	require.NoError(t, err)
	queue, err := dev.CreateCommandQueue(gpu.CommandListDirect)
	require.NoError(t, err)
	s, err := renderer.NewFrameSynchronizer(dev, queue, 2, timeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Release()
		queue.Release()
		dev.Release()
	})
	return s, dev, queue
}

func TestFenceValuesCountFramesPerSlot(t *testing.T) {
	s, _, _ := newSync(t, time.Second)
	assert.Equal(t, []uint64{0, 0}, s.Values())

	frames := []uint32{0, 1, 0, 1, 0}
	for _, f := range frames {
		require.NoError(t, s.WaitPreviousFrame(f))
	}
	assert.Equal(t, []uint64{3, 2}, s.Values())
	assert.True(t, s.AllocatorFree(1))
}

func TestWaitPreviousFrameBlocksOnSlowGPU(t *testing.T) {
	latency := 50 * time.Millisecond
	s, dev, queue := newSync(t, time.Second, soft.WithGPULatency(latency))

	alloc, err := dev.CreateCommandAllocator(gpu.CommandListDirect)
	require.NoError(t, err)
	list, err := dev.CreateCommandList(gpu.CommandListDirect, alloc, nil)
	require.NoError(t, err)
	require.NoError(t, list.Close())

	require.NoError(t, queue.ExecuteCommandLists(list))
	require.NoError(t, s.WaitPreviousFrame(0))
	assert.False(t, s.AllocatorFree(0))

	start := time.Now()
	require.NoError(t, s.WaitPreviousFrame(1))
	assert.GreaterOrEqual(t, time.Since(start), latency/2)
	assert.True(t, s.AllocatorFree(0))
}

func TestWaitTimeoutIsDeviceLost(t *testing.T) {
	s, dev, queue := newSync(t, 10*time.Millisecond, soft.WithGPULatency(200*time.Millisecond))

	alloc, err := dev.CreateCommandAllocator(gpu.CommandListDirect)
	require.NoError(t, err)
	list, err := dev.CreateCommandList(gpu.CommandListDirect, alloc, nil)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))

	require.NoError(t, s.WaitPreviousFrame(0))
	err = s.WaitPreviousFrame(1)
	var lost *core.DeviceLostError
	require.ErrorAs(t, err, &lost)
	assert.ErrorIs(t, err, core.ErrFenceTimeout)

	time.Sleep(250 * time.Millisecond)
}

func TestWaitGPUDrainsEverything(t *testing.T) {
	s, dev, queue := newSync(t, time.Second, soft.WithGPULatency(20*time.Millisecond))

	alloc, err := dev.CreateCommandAllocator(gpu.CommandListDirect)
	require.NoError(t, err)
	list, err := dev.CreateCommandList(gpu.CommandListDirect, alloc, nil)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))

	require.NoError(t, s.WaitGPU(0))
	assert.Equal(t, []uint64{1, 0}, s.Values())
	assert.NoError(t, alloc.Reset())
}
