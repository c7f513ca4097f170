package scene

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedWindow struct{}

func (fixedWindow) ClientSize() (uint32, uint32) { return 160, 120 }

const (
	vertexShader = `
cbuffer ShaderParameters : register(b0) { float4x4 World; float4x4 View; float4x4 Proj; };
float4 main(float3 pos : POSITION, float3 normal : NORMAL) : SV_POSITION {
	return mul(Proj, mul(View, mul(World, float4(pos, 1.0))));
}
`
	pixelShader = `
Texture2D tex : register(t0);
SamplerState samp : register(s0);
float4 main(float4 pos : SV_POSITION) : SV_TARGET { return tex.Sample(samp, float2(0, 0)); }
`
)

// triangleDocument is a single triangle with one opaque material.
func triangleDocument() *gltf.Document {
	floats := []float32{
		0, 0, 0, 1, 0, 0, 0, 1, 0, // positions
		0, 0, 1, 0, 0, 1, 0, 0, 1, // normals
	}
	data := make([]byte, 4*len(floats), 4*len(floats)+6)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(f))
	}
	for _, idx := range []uint16{0, 1, 2} {
		data = binary.LittleEndian.AppendUint16(data, idx)
	}
	return &gltf.Document{
		Buffers: []*gltf.Buffer{{ByteLength: uint32(len(data)), Data: data}},
		BufferViews: []*gltf.BufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: 36},
			{Buffer: 0, ByteOffset: 36, ByteLength: 36},
			{Buffer: 0, ByteOffset: 72, ByteLength: 6},
		},
		Accessors: []*gltf.Accessor{
			{BufferView: gltf.Index(0), ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3, Count: 3},
			{BufferView: gltf.Index(1), ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3, Count: 3},
			{BufferView: gltf.Index(2), ComponentType: gltf.ComponentUshort, Type: gltf.AccessorScalar, Count: 3},
		},
		Materials: []*gltf.Material{{Name: "solid", AlphaMode: gltf.AlphaOpaque}},
		Meshes: []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
			Attributes: gltf.Attribute{"POSITION": 0, "NORMAL": 1},
			Indices:    gltf.Index(2),
			Material:   gltf.Index(0),
		}}}},
	}
}

type testRig struct {
	ctx    *Context
	device *soft.Device
	loads  map[string]int
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dc, err := renderer.NewDeviceContext(soft.NewFactory(), fixedWindow{})
	require.NoError(t, err)
	r := renderer.NewRenderer(dc, soft.Compiler{}, renderer.ShaderSources{
		Vertex:      renderer.ShaderSource{Name: "shaderVS.hlsl", Code: []byte(vertexShader)},
		OpaquePixel: renderer.ShaderSource{Name: "shaderOpaquePS.hlsl", Code: []byte(pixelShader)},
		AlphaPixel:  renderer.ShaderSource{Name: "shaderAlphaPS.hlsl", Code: []byte(pixelShader)},
	})
	t.Cleanup(func() {
		r.Close()
		dc.Close()
	})

	rig := &testRig{device: dc.Device().(*soft.Device), loads: make(map[string]int)}
	rig.ctx = NewContext(r, DefaultModelRegistry(), func(path string) (*gltf.Document, error) {
		rig.loads[path]++
		return triangleDocument(), nil
	})
	return rig
}

func TestGameSceneDrawsEveryObjectOnce(t *testing.T) {
	rig := newTestRig(t)
	m := NewManager(rig.ctx)
	m.Register(NewGameScene())
	require.NoError(t, m.ChangeScene("GameScene"))
	require.Equal(t, 3, m.Current().Arena.Len())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Update(1.0/60))
		require.NoError(t, m.Draw())
	}
	require.NoError(t, rig.ctx.Renderer.Context().WaitGPU())

	assert.Len(t, rig.device.Draws(), 9)
	assert.Empty(t, rig.device.ValidationErrors())
	for _, path := range DefaultModelRegistry() {
		assert.Equal(t, 1, rig.loads[path], "model %s prepared once", path)
	}
	require.NoError(t, m.Shutdown())
	assert.Nil(t, m.Current())
}

func TestChangeSceneTerminatesCurrent(t *testing.T) {
	rig := newTestRig(t)
	m := NewManager(rig.ctx)

	game := NewGameScene()
	empty := NewScene("Empty", nil)
	m.Register(game)
	m.Register(empty)

	require.NoError(t, m.ChangeScene("GameScene"))
	require.NoError(t, m.ChangeScene("Empty"))
	assert.Same(t, empty, m.Current())
	assert.Equal(t, 0, game.Arena.Len())

	// An empty scene still presents a cleared frame.
	require.NoError(t, m.Draw())

	assert.Error(t, m.ChangeScene("Missing"))
	assert.Same(t, empty, m.Current())

	// Re-entering populates the arena again.
	require.NoError(t, m.ChangeScene("GameScene"))
	assert.Equal(t, 3, game.Arena.Len())
}

func TestInitializeFailsOnMissingModel(t *testing.T) {
	rig := newTestRig(t)
	rig.ctx.Load = func(path string) (*gltf.Document, error) {
		return nil, errors.New("not found")
	}
	m := NewManager(rig.ctx)
	m.Register(NewGameScene())
	err := m.ChangeScene("GameScene")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models/Field.glb")
	assert.Nil(t, m.Current())

	delete(rig.ctx.Models, ModelField)
	_, err = rig.ctx.Model(ModelField)
	assert.Error(t, err)
}

func TestPlayerFollowsHeldKeys(t *testing.T) {
	require.True(t, core.EventInitialize())
	t.Cleanup(func() { core.EventShutdown() })

	rig := newTestRig(t)
	p := NewPlayer(mgl32.Vec3{})
	require.NoError(t, p.Initialize(rig.ctx))

	press := core.EventContext{}
	press.Data.U16[0] = keyW
	core.EventFire(core.EVENT_CODE_KEY_PRESSED, nil, press)
	require.NoError(t, p.Update(0.5))
	assert.InDelta(t, -2, p.Position().Z(), 1e-5)

	core.EventFire(core.EVENT_CODE_KEY_RELEASED, nil, press)
	require.NoError(t, p.Update(0.5))
	assert.InDelta(t, -2, p.Position().Z(), 1e-5)

	require.NoError(t, p.Terminate())
	core.EventFire(core.EVENT_CODE_KEY_PRESSED, nil, press)
	assert.Equal(t, mgl32.Vec3{}, p.Direction())
}
