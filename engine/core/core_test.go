package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyUnwraps(t *testing.T) {
	cause := fmt.Errorf("CreateFence: %w", ErrUnknown)
	err := fmt.Errorf("render: %w", NewDeviceLostError("signal", cause))

	var lost *DeviceLostError
	require.True(t, errors.As(err, &lost))
	assert.Equal(t, "signal", lost.Op)
	assert.ErrorIs(t, err, ErrUnknown)

	var initErr *InitializationError
	assert.False(t, errors.As(err, &initErr))
}

func TestShaderCompilationErrorCarriesDiagnostic(t *testing.T) {
	err := error(&ShaderCompilationError{Stage: "vertex", Profile: "vs_6_0", Diagnostic: "error: unexpected token"})
	assert.Contains(t, err.Error(), "unexpected token")
	assert.Contains(t, err.Error(), "vs_6_0")
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[renderer]
backend = "soft"
gpu_wait_timeout = "250ms"

[assets]
watch = false
`))
	require.NoError(t, err)
	assert.Equal(t, "soft", cfg.Renderer.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.GPUWaitTimeout.Duration)
	assert.Equal(t, uint32(2), cfg.Renderer.FrameBufferCount)
	assert.Equal(t, uint32(1280), cfg.Application.Width)
	assert.False(t, cfg.Assets.Watch)
	assert.Equal(t, "shaders/shaderVS.hlsl", cfg.Shaders.Vertex)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	_, err := ParseConfig([]byte("[renderer]\nbackend = \"d3d9\"\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("[renderer]\nframe_buffer_count = 1\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("[renderer]\nno_such_key = 1\n"))
	assert.Error(t, err)
}

func TestConfigEncodeRoundTrip(t *testing.T) {
	data, err := DefaultConfig().Encode()
	require.NoError(t, err)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestEventsFireAndUnregister(t *testing.T) {
	require.True(t, EventInitialize())
	defer EventShutdown()

	var got string
	listener := &struct{}{}
	onChanged := func(code SystemEventCode, sender, l interface{}, data EventContext) bool {
		got = data.Data.C[0]
		return true
	}
	require.True(t, EventRegister(EVENT_CODE_ASSET_CHANGED, listener, onChanged))
	assert.False(t, EventRegister(EVENT_CODE_ASSET_CHANGED, listener, onChanged))

	ctx := EventContext{}
	ctx.Data.C[0] = "models/Player.glb"
	assert.True(t, EventFire(EVENT_CODE_ASSET_CHANGED, nil, ctx))
	assert.Equal(t, "models/Player.glb", got)

	assert.True(t, EventUnregister(EVENT_CODE_ASSET_CHANGED, listener, onChanged))
	assert.False(t, EventFire(EVENT_CODE_ASSET_CHANGED, nil, ctx))
}

func TestFrameMetricsAverages(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.001)
	assert.Equal(t, uint64(AVG_COUNT), m.TotalFrames())

	for i := 0; i < 40; i++ {
		m.Update(0.016)
	}
	assert.Greater(t, m.FPS(), 0.0)
}

func TestIdentifiers(t *testing.T) {
	ids := NewIdentifiers()
	id := ids.Acquire("player")
	owner, ok := ids.Owner(id)
	require.True(t, ok)
	assert.Equal(t, "player", owner)
	require.NoError(t, ids.Release(id))
	assert.Error(t, ids.Release(id))
}

func TestClockElapsed(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Update()
	assert.Greater(t, c.Elapsed(), 0.0)
	assert.Less(t, c.Elapsed(), 5.0)
}
