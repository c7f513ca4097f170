package renderer_test

import (
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPrimitiveInterleaves(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)

	g, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(4), g.VertexCount())
	assert.Equal(t, []float32{-1, -1, 0, 0, 0, 1}, g.Vertices[:6])
	assert.Equal(t, []float32{-1, 1, 0, 0, 0, 1}, g.Vertices[18:])
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, g.Indices)
	assert.Equal(t, 0, g.MaterialIndex)
}

func TestExtractPrimitiveWidensIndices(t *testing.T) {
	for name, idx := range map[string]interface{}{
		"u8":  []uint8{0, 1, 2, 0, 2, 3},
		"u16": []uint16{0, 1, 2, 0, 2, 3},
		"u32": []uint32{0, 1, 2, 0, 2, 3},
	} {
		t.Run(name, func(t *testing.T) {
			b := newDocBuilder()
			b.primitive(quadPositions, quadNormals, idx, nil)
			g, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
			require.NoError(t, err)
			assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, g.Indices)
		})
	}
}

func TestExtractPrimitiveWithoutIndices(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions[:3], quadNormals[:3], nil, gltf.Index(2))
	g, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, g.Indices)
	assert.Equal(t, 2, g.MaterialIndex)
}

func TestExtractPrimitiveHonorsStride(t *testing.T) {
	b := newDocBuilder()
	// Positions and normals interleaved in one view with a 24 byte stride.
	data := float32Bytes([]float32{
		0, 0, 0, 0, 1, 0,
		1, 0, 0, 0, 1, 0,
		0, 0, 1, 0, 1, 0,
	})
	view := b.addView(data, 24)
	pos := b.addAccessor(view, gltf.ComponentFloat, gltf.AccessorVec3, 3)
	nrm := b.addAccessor(view, gltf.ComponentFloat, gltf.AccessorVec3, 3)
	b.doc.Accessors[nrm].ByteOffset = 12
	prim := &gltf.Primitive{Attributes: gltf.Attribute{"POSITION": pos, "NORMAL": nrm}}

	g, err := renderer.ExtractPrimitive(b.doc, prim)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 0}, g.Vertices)
}

func TestExtractPrimitiveErrors(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions, nil, quadIndices, nil)
	_, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "NORMAL")

	b = newDocBuilder()
	b.primitive(quadPositions, quadNormals, []uint16{0, 1, 9}, nil)
	_, err = renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "out of range")

	b = newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	b.doc.Accessors[0].Count = 100
	_, err = renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "POSITION")

	b = newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	b.doc.Accessors[1].BufferView = nil
	_, err = renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "has no data")

	b = newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	b.doc.Meshes[0].Primitives[0].Attributes["NORMAL"] = 42
	_, err = renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "accessor 42 out of range")
}

func TestExtractPrimitiveAppliesSparseValues(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	// Replace the third position through a sparse substitution.
	idxView := b.addView([]byte{2, 0}, 0)
	valView := b.addView(float32Bytes([]float32{5, 6, 7}), 0)
	b.doc.Accessors[0].Sparse = &gltf.Sparse{
		Count:   1,
		Indices: gltf.SparseIndices{BufferView: idxView, ComponentType: gltf.ComponentUshort},
		Values:  gltf.SparseValues{BufferView: valView},
	}

	g, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	require.NoError(t, err)
	require.Equal(t, uint32(4), g.VertexCount())
	assert.Equal(t, []float32{-1, -1, 0, 0, 0, 1}, g.Vertices[:6])
	assert.Equal(t, []float32{5, 6, 7, 0, 0, 1}, g.Vertices[12:18])
	assert.Equal(t, []float32{-1, 1, 0, 0, 0, 1}, g.Vertices[18:])
}

func TestExtractPrimitiveRejectsSparseIndexPastCount(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions, quadNormals, quadIndices, nil)
	idxView := b.addView([]byte{9, 0}, 0)
	valView := b.addView(float32Bytes([]float32{5, 6, 7}), 0)
	b.doc.Accessors[0].Sparse = &gltf.Sparse{
		Count:   1,
		Indices: gltf.SparseIndices{BufferView: idxView, ComponentType: gltf.ComponentUshort},
		Values:  gltf.SparseValues{BufferView: valView},
	}

	_, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	assert.ErrorContains(t, err, "sparse index 9 out of range of 4 elements")
}

func TestExtractPrimitiveSparseWithoutBufferView(t *testing.T) {
	b := newDocBuilder()
	b.primitive(quadPositions[:3], quadNormals[:3], nil, nil)
	idxView := b.addView([]byte{1, 0}, 0)
	valView := b.addView(float32Bytes([]float32{0, 2, 0}), 0)
	b.doc.Accessors[0].BufferView = nil
	b.doc.Accessors[0].Sparse = &gltf.Sparse{
		Count:   1,
		Indices: gltf.SparseIndices{BufferView: idxView, ComponentType: gltf.ComponentUshort},
		Values:  gltf.SparseValues{BufferView: valView},
	}

	g, err := renderer.ExtractPrimitive(b.doc, b.doc.Meshes[0].Primitives[0])
	require.NoError(t, err)
	assert.Equal(t, []float32{
		0, 0, 0, 0, 0, 1,
		0, 2, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 1,
	}, g.Vertices)
	assert.Equal(t, []uint32{0, 1, 2}, g.Indices)
}

func TestBuildModelGeometryUploads(t *testing.T) {
	ctx, _ := newTestContext(t, nil)

	b := newDocBuilder()
	b.primitive(quadPositions, quadNormals, []uint8{0, 1, 2, 0, 2, 3}, gltf.Index(0))
	meshes, err := renderer.BuildModelGeometry(ctx, b.doc)
	require.NoError(t, err)
	require.Len(t, meshes, 1)
	defer meshes[0].Release()

	m := meshes[0]
	assert.Equal(t, uint32(4), m.VertexCount)
	assert.Equal(t, uint32(6), m.IndexCount)

	ib, ok := m.Indices.View.Index()
	require.True(t, ok)
	assert.Equal(t, uint32(6*4), ib.SizeInBytes, "declared index width matches the written one")
	vb, ok := m.Vertices.View.Vertex()
	require.True(t, ok)
	assert.Equal(t, uint32(4*renderer.VertexStride), vb.SizeInBytes)

	b.doc.Meshes[0].Primitives[0].Attributes = gltf.Attribute{"POSITION": 0}
	_, err = renderer.BuildModelGeometry(ctx, b.doc)
	var rce *core.ResourceCreationError
	assert.ErrorAs(t, err, &rce)
}
