package renderer_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 128})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadMaterialsUploadsTextures(t *testing.T) {
	ctx, _ := newTestContext(t, nil)

	b := newDocBuilder()
	view := b.addView(encodePNG(t), 0)
	b.doc.Images = []*gltf.Image{{MimeType: "image/png", BufferView: gltf.Index(view)}}
	b.doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	b.doc.Materials = []*gltf.Material{
		{Name: "base", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: 0}}},
		{Name: "normal", NormalTexture: &gltf.NormalTexture{Index: gltf.Index(0)}, AlphaMode: gltf.AlphaBlend},
		{Name: "plain", AlphaMode: gltf.AlphaMask},
	}

	heaps, err := ctx.Heaps().NewModelHeaps(renderer.MaterialCount(b.doc))
	require.NoError(t, err)
	defer heaps.Release()

	mats, err := renderer.LoadMaterials(ctx, heaps, b.doc)
	require.NoError(t, err)
	require.Len(t, mats, 3)
	defer func() {
		for i := range mats {
			mats[i].Release()
		}
	}()

	want := []byte{255, 0, 0, 255, 0, 255, 0, 128}
	assert.Equal(t, want, mats[0].Texture.(*soft.Resource).Bytes())
	assert.Equal(t, want, mats[1].Texture.(*soft.Resource).Bytes())
	assert.Equal(t, []byte{255, 255, 255, 255}, mats[2].Texture.(*soft.Resource).Bytes())

	assert.Equal(t, renderer.AlphaOpaque, mats[0].AlphaMode)
	assert.Equal(t, renderer.AlphaBlend, mats[1].AlphaMode)
	assert.Equal(t, renderer.AlphaMask, mats[2].AlphaMode)
	for i, m := range mats {
		assert.Equal(t, heaps.MaterialSlot(uint32(i)), m.Slot)
		assert.Equal(t, heaps.CBVSRV.GPU(m.Slot), m.SRV)
	}
	assert.Equal(t, uint64(2), mats[0].Texture.Desc().Width)
}

func TestUndecodableTextureFallsBackToWhite(t *testing.T) {
	ctx, _ := newTestContext(t, nil)

	b := newDocBuilder()
	view := b.addView([]byte("not an image"), 0)
	b.doc.Images = []*gltf.Image{{BufferView: gltf.Index(view)}}
	b.doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	b.doc.Materials = []*gltf.Material{
		{PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: 0}}},
	}

	heaps, err := ctx.Heaps().NewModelHeaps(1)
	require.NoError(t, err)
	defer heaps.Release()
	mats, err := renderer.LoadMaterials(ctx, heaps, b.doc)
	require.NoError(t, err)
	defer mats[0].Release()
	assert.Equal(t, []byte{255, 255, 255, 255}, mats[0].Texture.(*soft.Resource).Bytes())
}

func TestLinearWrapSampler(t *testing.T) {
	s := renderer.LinearWrapSampler()
	assert.Equal(t, gpu.FilterMinMagMipLinear, s.Filter)
	assert.Equal(t, gpu.AddressModeWrap, s.AddressU)
	assert.Equal(t, gpu.AddressModeWrap, s.AddressV)
	assert.Equal(t, gpu.AddressModeWrap, s.AddressW)
	assert.Equal(t, gpu.ComparisonNever, s.ComparisonFunc)
	assert.Equal(t, float32(-math.MaxFloat32), s.MinLOD)
	assert.Equal(t, float32(math.MaxFloat32), s.MaxLOD)
}

func TestAlphaModeFromGLTF(t *testing.T) {
	assert.Equal(t, renderer.AlphaOpaque, renderer.AlphaModeFromGLTF(gltf.AlphaOpaque))
	assert.Equal(t, renderer.AlphaMask, renderer.AlphaModeFromGLTF(gltf.AlphaMask))
	assert.Equal(t, renderer.AlphaBlend, renderer.AlphaModeFromGLTF(gltf.AlphaBlend))
	assert.Equal(t, "BLEND", renderer.AlphaBlend.String())
}
