package renderer_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/require"
)

type fixedWindow struct {
	width, height uint32
}

func (w fixedWindow) ClientSize() (uint32, uint32) { return w.width, w.height }

func newTestContext(t *testing.T, factoryOpts []soft.Option, opts ...renderer.Option) (*renderer.DeviceContext, *soft.Device) {
	t.Helper()
	ctx, err := renderer.NewDeviceContext(soft.NewFactory(factoryOpts...), fixedWindow{320, 240}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })
	return ctx, ctx.Device().(*soft.Device)
}

const (
	vertexShader = `
cbuffer ShaderParameters : register(b0) {
	float4x4 World;
	float4x4 View;
	float4x4 Proj;
};
struct VSOut { float4 pos : SV_POSITION; float3 normal : NORMAL; };
VSOut main(float3 pos : POSITION, float3 normal : NORMAL) {
	VSOut o;
	o.pos = mul(Proj, mul(View, mul(World, float4(pos, 1.0))));
	o.normal = normal;
	return o;
}
`
	opaquePixelShader = `
Texture2D tex : register(t0);
SamplerState samp : register(s0);
float4 main(float4 pos : SV_POSITION, float3 normal : NORMAL) : SV_TARGET {
	return float4(tex.Sample(samp, normal.xy * 0.5 + 0.5).rgb, 1.0);
}
`
	alphaPixelShader = `
Texture2D tex : register(t0);
SamplerState samp : register(s0);
float4 main(float4 pos : SV_POSITION, float3 normal : NORMAL) : SV_TARGET {
	return tex.Sample(samp, normal.xy * 0.5 + 0.5) * float4(1, 1, 1, 0.5);
}
`
)

func testShaders() renderer.ShaderSources {
	return renderer.ShaderSources{
		Vertex:      renderer.ShaderSource{Name: "shaderVS.hlsl", Code: []byte(vertexShader)},
		OpaquePixel: renderer.ShaderSource{Name: "shaderOpaquePS.hlsl", Code: []byte(opaquePixelShader)},
		AlphaPixel:  renderer.ShaderSource{Name: "shaderAlphaPS.hlsl", Code: []byte(alphaPixelShader)},
	}
}

// docBuilder assembles a single buffer glTF document in memory.
type docBuilder struct {
	doc *gltf.Document
}

func newDocBuilder() *docBuilder {
	return &docBuilder{doc: &gltf.Document{Buffers: []*gltf.Buffer{{}}}}
}

func (b *docBuilder) addView(data []byte, stride uint32) uint32 {
	buf := b.doc.Buffers[0]
	for len(buf.Data)%4 != 0 {
		buf.Data = append(buf.Data, 0)
	}
	view := &gltf.BufferView{Buffer: 0, ByteOffset: uint32(len(buf.Data)), ByteLength: uint32(len(data)), ByteStride: stride}
	buf.Data = append(buf.Data, data...)
	buf.ByteLength = uint32(len(buf.Data))
	b.doc.BufferViews = append(b.doc.BufferViews, view)
	return uint32(len(b.doc.BufferViews) - 1)
}

func (b *docBuilder) addAccessor(view uint32, ct gltf.ComponentType, at gltf.AccessorType, count int) uint32 {
	b.doc.Accessors = append(b.doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(view),
		ComponentType: ct,
		Type:          at,
		Count:         uint32(count),
	})
	return uint32(len(b.doc.Accessors) - 1)
}

func (b *docBuilder) vec3(v [][3]float32) uint32 {
	flat := make([]float32, 0, 3*len(v))
	for _, e := range v {
		flat = append(flat, e[:]...)
	}
	return b.addAccessor(b.addView(float32Bytes(flat), 0), gltf.ComponentFloat, gltf.AccessorVec3, len(v))
}

func (b *docBuilder) indices(idx interface{}) uint32 {
	var data []byte
	var ct gltf.ComponentType
	var count int
	switch v := idx.(type) {
	case []uint8:
		data, ct, count = append([]byte(nil), v...), gltf.ComponentUbyte, len(v)
	case []uint16:
		data = make([]byte, 2*len(v))
		for i, e := range v {
			binary.LittleEndian.PutUint16(data[2*i:], e)
		}
		ct, count = gltf.ComponentUshort, len(v)
	case []uint32:
		data = make([]byte, 4*len(v))
		for i, e := range v {
			binary.LittleEndian.PutUint32(data[4*i:], e)
		}
		ct, count = gltf.ComponentUint, len(v)
	}
	return b.addAccessor(b.addView(data, 0), ct, gltf.AccessorScalar, count)
}

func (b *docBuilder) primitive(positions, normals [][3]float32, idx interface{}, material *uint32) {
	attrs := gltf.Attribute{"POSITION": b.vec3(positions)}
	if normals != nil {
		attrs["NORMAL"] = b.vec3(normals)
	}
	prim := &gltf.Primitive{Attributes: attrs, Material: material}
	if idx != nil {
		prim.Indices = gltf.Index(b.indices(idx))
	}
	b.doc.Meshes = append(b.doc.Meshes, &gltf.Mesh{Name: "mesh", Primitives: []*gltf.Primitive{prim}})
}

func (b *docBuilder) material(name string, mode gltf.AlphaMode) uint32 {
	b.doc.Materials = append(b.doc.Materials, &gltf.Material{Name: name, AlphaMode: mode})
	return uint32(len(b.doc.Materials) - 1)
}

var (
	quadPositions = [][3]float32{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}}
	quadNormals   = [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	quadIndices   = []uint16{0, 1, 2, 0, 2, 3}
)

// quadDocument is one mesh with four vertices, six indices and one material of mode.
func quadDocument(mode gltf.AlphaMode) *gltf.Document {
	b := newDocBuilder()
	m := b.material("quad", mode)
	b.primitive(quadPositions, quadNormals, quadIndices, gltf.Index(m))
	return b.doc
}

func float32Bytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}
