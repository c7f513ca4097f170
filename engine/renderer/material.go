package renderer

import (
	"fmt"
	"image"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/spaghettifunk/ember/engine/assets/loaders"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type AlphaMode uint8

const (
	AlphaOpaque AlphaMode = iota
	AlphaMask
	AlphaBlend
)

func (m AlphaMode) String() string {
	switch m {
	case AlphaMask:
		return "MASK"
	case AlphaBlend:
		return "BLEND"
	}
	return "OPAQUE"
}

func AlphaModeFromGLTF(mode gltf.AlphaMode) AlphaMode {
	switch mode {
	case gltf.AlphaMask:
		return AlphaMask
	case gltf.AlphaBlend:
		return AlphaBlend
	}
	return AlphaOpaque
}

type Material struct {
	Name      string
	AlphaMode AlphaMode
	Texture   gpu.Resource
	// Slot is the CBV/SRV heap index of the texture view.
	Slot uint32
	SRV  gpu.GPUDescriptorHandle
}

func (m *Material) Release() {
	if m.Texture != nil {
		m.Texture.Release()
		m.Texture = nil
	}
}

// defaultMaterial stands in for models that declare no material.
var defaultMaterial = gltf.Material{Name: "default", AlphaMode: gltf.AlphaOpaque}

// LinearWrapSampler is the single sampler shared by every material.
func LinearWrapSampler() gpu.SamplerDesc {
	return gpu.SamplerDesc{
		Filter:         gpu.FilterMinMagMipLinear,
		AddressU:       gpu.AddressModeWrap,
		AddressV:       gpu.AddressModeWrap,
		AddressW:       gpu.AddressModeWrap,
		ComparisonFunc: gpu.ComparisonNever,
		MinLOD:         -math.MaxFloat32,
		MaxLOD:         math.MaxFloat32,
	}
}

// MaterialCount is the number of materials a document is rendered with.
func MaterialCount(doc *gltf.Document) uint32 {
	if len(doc.Materials) == 0 {
		return 1
	}
	return uint32(len(doc.Materials))
}

// LoadMaterials uploads one texture per material and writes its view into the material
// slots of heaps, together with the shared sampler.
func LoadMaterials(c *DeviceContext, heaps *ModelHeaps, doc *gltf.Document) ([]Material, error) {
	sources := doc.Materials
	if len(sources) == 0 {
		sources = []*gltf.Material{&defaultMaterial}
	}

	materials := make([]Material, 0, len(sources))
	release := func() {
		for i := range materials {
			materials[i].Release()
		}
	}
	for i, src := range sources {
		img, err := materialImage(doc, src)
		if err != nil {
			core.LogWarn("material %q: %s, using white", src.Name, err)
		}
		if img == nil {
			img = whiteImage()
		}
		tex, err := c.createTexture(img)
		if err != nil {
			release()
			return nil, err
		}
		slot := heaps.MaterialSlot(uint32(i))
		if err := c.device.CreateShaderResourceView(tex, heaps.CBVSRV.CPU(slot)); err != nil {
			tex.Release()
			release()
			return nil, core.NewResourceCreationError("CreateShaderResourceView", err)
		}
		materials = append(materials, Material{
			Name:      src.Name,
			AlphaMode: AlphaModeFromGLTF(src.AlphaMode),
			Texture:   tex,
			Slot:      slot,
			SRV:       heaps.CBVSRV.GPU(slot),
		})
	}

	if err := c.device.CreateSampler(LinearWrapSampler(), heaps.Samplers.CPU(0)); err != nil {
		release()
		return nil, core.NewResourceCreationError("CreateSampler", err)
	}
	return materials, nil
}

func (c *DeviceContext) createTexture(img *image.NRGBA) (gpu.Resource, error) {
	w, h := uint32(img.Rect.Dx()), uint32(img.Rect.Dy())
	tex, err := c.device.CreateCommittedResource(gpu.HeapTypeDefault,
		gpu.Tex2DDesc(gpu.FormatR8G8B8A8Unorm, w, h, gpu.ResourceFlagNone),
		gpu.ResourceStatePixelShaderResource, nil)
	if err != nil {
		return nil, core.NewResourceCreationError("CreateCommittedResource(texture)", err)
	}
	if err := tex.WriteToSubresource(img.Pix, uint32(img.Stride)); err != nil {
		tex.Release()
		return nil, core.NewResourceCreationError("WriteToSubresource", err)
	}
	return tex, nil
}

// materialImage decodes the base color texture of a material, or its normal texture when
// it has none. A nil image without error means the material is untextured.
func materialImage(doc *gltf.Document, m *gltf.Material) (*image.NRGBA, error) {
	var texIdx *uint32
	if m.PBRMetallicRoughness != nil && m.PBRMetallicRoughness.BaseColorTexture != nil {
		texIdx = gltf.Index(m.PBRMetallicRoughness.BaseColorTexture.Index)
	} else if m.NormalTexture != nil && m.NormalTexture.Index != nil {
		texIdx = m.NormalTexture.Index
	}
	if texIdx == nil {
		return nil, nil
	}
	if int(*texIdx) >= len(doc.Textures) {
		return nil, fmt.Errorf("texture %d out of range", *texIdx)
	}
	tex := doc.Textures[*texIdx]
	if tex.Source == nil || int(*tex.Source) >= len(doc.Images) {
		return nil, fmt.Errorf("texture %d has no image", *texIdx)
	}
	data, err := imageBytes(doc, doc.Images[*tex.Source])
	if err != nil {
		return nil, err
	}
	return loaders.DecodeRGBA(data)
}

func imageBytes(doc *gltf.Document, img *gltf.Image) ([]byte, error) {
	if img.BufferView != nil {
		if int(*img.BufferView) >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", *img.BufferView)
		}
		data, err := modeler.ReadBufferView(doc, doc.BufferViews[*img.BufferView])
		if err != nil {
			return nil, fmt.Errorf("image buffer view %d: %w", *img.BufferView, err)
		}
		return data, nil
	}
	if img.IsEmbeddedResource() {
		return img.MarshalData()
	}
	return nil, fmt.Errorf("external image %q is not supported", img.URI)
}

func whiteImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	copy(img.Pix, []byte{0xff, 0xff, 0xff, 0xff})
	return img
}
