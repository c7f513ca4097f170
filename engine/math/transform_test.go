package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestTransformCreateIsIdentity(t *testing.T) {
	tr := TransformCreate()
	assert.True(t, tr.Local().ApproxEqual(mgl32.Ident4()))
}

func TestTransformLocalOrder(t *testing.T) {
	tr := TransformFromPositionRotationScale(
		mgl32.Vec3{1, 2, 3},
		mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}),
		mgl32.Vec3{2, 2, 2},
	)
	// Scale first, then rotate +X onto -Z, then translate.
	p := tr.Local().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 1, p.X(), 1e-5)
	assert.InDelta(t, 2, p.Y(), 1e-5)
	assert.InDelta(t, 1, p.Z(), 1e-5)
}

func TestTransformRebuildsAfterChange(t *testing.T) {
	tr := TransformCreate()
	_ = tr.Local()
	tr.Translate(mgl32.Vec3{0, 5, 0})
	assert.InDelta(t, 5, tr.Local().Col(3).Y(), 1e-6)
	tr.SetPosition(mgl32.Vec3{})
	assert.InDelta(t, 0, tr.Local().Col(3).Y(), 1e-6)
}
