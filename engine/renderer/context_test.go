package renderer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceContextSkipsSoftwareAdapters(t *testing.T) {
	ctx, _ := newTestContext(t, nil)

	assert.Equal(t, "Soft GPU", ctx.Adapter().Name)
	assert.Equal(t, renderer.DefaultFrameBufferCount, ctx.FrameCount())
	assert.Equal(t, uint32(0), ctx.FrameIndex())

	w, h := ctx.ClientSize()
	assert.Equal(t, gpu.Viewport{Width: float32(w), Height: float32(h), MaxDepth: 1}, ctx.Viewport())
	assert.Equal(t, gpu.Rect{Right: int32(w), Bottom: int32(h)}, ctx.ScissorRect())

	desc := ctx.SwapChain().Desc()
	assert.Equal(t, uint32(2), desc.BufferCount)
	assert.Equal(t, gpu.FormatR8G8B8A8Unorm, desc.Format)
	assert.Equal(t, gpu.SwapEffectFlipDiscard, desc.SwapEffect)
}

func TestDeviceContextWithoutHardwareAdapter(t *testing.T) {
	f := soft.NewFactory(soft.WithAdapters(gpu.AdapterDesc{Name: "warp", Software: true, MaxFeatureLevel: gpu.FeatureLevel12_1}))
	_, err := renderer.NewDeviceContext(f, fixedWindow{64, 64})

	var ie *core.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, core.ErrNoAdapter)
}

func TestDeviceContextRejectsLowFeatureLevel(t *testing.T) {
	f := soft.NewFactory(soft.WithAdapters(gpu.AdapterDesc{Name: "ancient", MaxFeatureLevel: gpu.FeatureLevel(0xa000)}))
	_, err := renderer.NewDeviceContext(f, fixedWindow{64, 64})
	assert.ErrorIs(t, err, core.ErrNoAdapter)
}

func TestDeviceContextQueueFailure(t *testing.T) {
	boom := errors.New("queue creation failed")
	f := soft.NewFactory(soft.WithFault(func(op string) error {
		if op == "CreateCommandQueue" {
			return boom
		}
		return nil
	}))
	_, err := renderer.NewDeviceContext(f, fixedWindow{64, 64})

	var ie *core.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "CreateCommandQueue", ie.Op)
	assert.ErrorIs(t, err, boom)
}

func TestDeviceContextOptions(t *testing.T) {
	_, err := renderer.NewDeviceContext(soft.NewFactory(), fixedWindow{64, 64}, renderer.WithFrameBufferCount(1))
	var ie *core.InitializationError
	assert.ErrorAs(t, err, &ie)

	ctx, _ := newTestContext(t, nil, renderer.WithFrameBufferCount(3), renderer.WithGPUWaitTimeout(time.Second))
	assert.Equal(t, uint32(3), ctx.FrameCount())
	assert.Len(t, ctx.Sync().Values(), 3)
}

func TestDeviceContextCloseIsIdempotent(t *testing.T) {
	ctx, err := renderer.NewDeviceContext(soft.NewFactory(), fixedWindow{64, 64})
	require.NoError(t, err)
	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())
}

func TestDeviceContextRejectsAcquireOrderPastBufferCount(t *testing.T) {
	f := soft.NewFactory(soft.WithAcquireOrder(0, 5))
	_, err := renderer.NewDeviceContext(f, fixedWindow{64, 64})

	var ie *core.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "CreateSwapChain", ie.Op)
}
