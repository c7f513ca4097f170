package renderer

import (
	"fmt"

	"github.com/qmuntal/gltf"
	gltfbinary "github.com/qmuntal/gltf/binary"
	"github.com/qmuntal/gltf/modeler"
	"github.com/spaghettifunk/ember/engine/core"
)

// VertexStride is the byte size of one interleaved position+normal vertex.
const VertexStride = 6 * 4

type Mesh struct {
	Name          string
	Vertices      *BufferObject
	Indices       *BufferObject
	VertexCount   uint32
	IndexCount    uint32
	MaterialIndex int
}

func (m *Mesh) Release() {
	m.Vertices.Release()
	m.Indices.Release()
}

// PrimitiveGeometry is the CPU side geometry of one mesh primitive.
type PrimitiveGeometry struct {
	// Interleaved px py pz nx ny nz.
	Vertices      []float32
	Indices       []uint32
	MaterialIndex int
}

func (g PrimitiveGeometry) VertexCount() uint32 {
	return uint32(len(g.Vertices) / 6)
}

// BuildModelGeometry uploads one vertex and one index buffer per mesh primitive.
func BuildModelGeometry(c *DeviceContext, doc *gltf.Document) ([]Mesh, error) {
	var meshes []Mesh
	release := func() {
		for i := range meshes {
			meshes[i].Release()
		}
	}
	for mi, mesh := range doc.Meshes {
		for pi, prim := range mesh.Primitives {
			geom, err := ExtractPrimitive(doc, prim)
			if err != nil {
				release()
				return nil, core.NewResourceCreationError(fmt.Sprintf("mesh %d primitive %d", mi, pi), err)
			}
			vertices, err := float32Bytes(geom.Vertices)
			if err != nil {
				release()
				return nil, core.NewResourceCreationError(fmt.Sprintf("mesh %d primitive %d", mi, pi), err)
			}
			vb, err := c.CreateVertexBuffer(vertices, VertexStride)
			if err != nil {
				release()
				return nil, err
			}
			ib, err := c.CreateIndexBuffer(geom.Indices)
			if err != nil {
				vb.Release()
				release()
				return nil, err
			}
			meshes = append(meshes, Mesh{
				Name:          mesh.Name,
				Vertices:      vb,
				Indices:       ib,
				VertexCount:   geom.VertexCount(),
				IndexCount:    uint32(len(geom.Indices)),
				MaterialIndex: geom.MaterialIndex,
			})
		}
	}
	return meshes, nil
}

// ExtractPrimitive resolves POSITION, NORMAL and the index stream of a primitive through
// accessor, buffer view and buffer, and interleaves them as px py pz nx ny nz. Strided,
// sparse and narrow index accessors are decoded by the modeler package.
func ExtractPrimitive(doc *gltf.Document, prim *gltf.Primitive) (PrimitiveGeometry, error) {
	var g PrimitiveGeometry

	posAcc, err := attributeAccessor(doc, prim, "POSITION")
	if err != nil {
		return g, err
	}
	nrmAcc, err := attributeAccessor(doc, prim, "NORMAL")
	if err != nil {
		return g, err
	}
	positions, err := modeler.ReadPosition(doc, posAcc, nil)
	if err != nil {
		return g, fmt.Errorf("POSITION: %w", err)
	}
	normals, err := modeler.ReadNormal(doc, nrmAcc, nil)
	if err != nil {
		return g, fmt.Errorf("NORMAL: %w", err)
	}
	if len(normals) != len(positions) {
		return g, fmt.Errorf("%d positions but %d normals", len(positions), len(normals))
	}

	g.Vertices = make([]float32, 0, 6*len(positions))
	for i := range positions {
		g.Vertices = append(g.Vertices, positions[i][0], positions[i][1], positions[i][2])
		g.Vertices = append(g.Vertices, normals[i][0], normals[i][1], normals[i][2])
	}

	if prim.Indices != nil {
		idxAcc, err := accessor(doc, *prim.Indices)
		if err != nil {
			return g, fmt.Errorf("indices: %w", err)
		}
		g.Indices, err = modeler.ReadIndices(doc, idxAcc, nil)
		if err != nil {
			return g, fmt.Errorf("indices: %w", err)
		}
		for _, idx := range g.Indices {
			if int(idx) >= len(positions) {
				return g, fmt.Errorf("index %d out of range of %d vertices", idx, len(positions))
			}
		}
	} else {
		g.Indices = make([]uint32, len(positions))
		for i := range g.Indices {
			g.Indices[i] = uint32(i)
		}
	}

	if prim.Material != nil {
		g.MaterialIndex = int(*prim.Material)
	}
	return g, nil
}

func attributeAccessor(doc *gltf.Document, prim *gltf.Primitive, name string) (*gltf.Accessor, error) {
	idx, ok := prim.Attributes[name]
	if !ok {
		return nil, fmt.Errorf("primitive has no %s attribute", name)
	}
	acc, err := accessor(doc, idx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return acc, nil
}

// accessor looks up an accessor that has data to read. The modeler readers return a nil
// slice for accessors with neither a buffer view nor sparse values, and panic on byte
// offsets past the view or sparse indices past the accessor count.
func accessor(doc *gltf.Document, idx uint32) (*gltf.Accessor, error) {
	if int(idx) >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	acc := doc.Accessors[idx]
	if acc.BufferView == nil && acc.Sparse == nil {
		return nil, fmt.Errorf("accessor %d has no data", idx)
	}
	if acc.BufferView != nil {
		if int(*acc.BufferView) >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", *acc.BufferView)
		}
		if view := doc.BufferViews[*acc.BufferView]; acc.ByteOffset > view.ByteLength {
			return nil, fmt.Errorf("accessor %d starts at %d past buffer view end %d", idx, acc.ByteOffset, view.ByteLength)
		}
	}
	if acc.Sparse != nil {
		if err := checkSparse(doc, acc); err != nil {
			return nil, fmt.Errorf("accessor %d: %w", idx, err)
		}
	}
	return acc, nil
}

func checkSparse(doc *gltf.Document, acc *gltf.Accessor) error {
	sp := acc.Sparse
	views := uint32(len(doc.BufferViews))
	// modeler takes the values stride from the view at the values byte offset.
	if sp.Indices.BufferView >= views || sp.Values.BufferView >= views || sp.Values.ByteOffset >= views {
		return fmt.Errorf("sparse buffer view out of range")
	}
	if sp.Indices.ByteOffset > doc.BufferViews[sp.Indices.BufferView].ByteLength ||
		sp.Values.ByteOffset > doc.BufferViews[sp.Values.BufferView].ByteLength {
		return fmt.Errorf("sparse data starts past its buffer view")
	}
	indices, err := modeler.ReadIndices(doc, &gltf.Accessor{
		BufferView:    gltf.Index(sp.Indices.BufferView),
		ByteOffset:    sp.Indices.ByteOffset,
		ComponentType: sp.Indices.ComponentType,
		Type:          gltf.AccessorScalar,
		Count:         sp.Count,
	}, nil)
	if err != nil {
		return fmt.Errorf("sparse indices: %w", err)
	}
	for _, i := range indices {
		if i >= acc.Count {
			return fmt.Errorf("sparse index %d out of range of %d elements", i, acc.Count)
		}
	}
	return nil
}

func float32Bytes(v []float32) ([]byte, error) {
	out := make([]byte, 4*len(v))
	if err := gltfbinary.Write(out, 0, v); err != nil {
		return nil, err
	}
	return out, nil
}
