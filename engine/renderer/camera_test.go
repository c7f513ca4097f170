package renderer_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/stretchr/testify/assert"
)

func TestShaderParametersLayout(t *testing.T) {
	p := renderer.ShaderParameters{
		World: mgl32.Translate3D(1, 2, 3),
		View:  mgl32.Ident4(),
		Proj:  mgl32.Scale3D(2, 2, 2),
	}
	b := p.Bytes()
	assert.Len(t, b, 192)

	at := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])) }
	// Column-major: the translation is the fourth column.
	assert.Equal(t, float32(1), at(12))
	assert.Equal(t, float32(2), at(13))
	assert.Equal(t, float32(3), at(14))
	assert.Equal(t, float32(1), at(16))
	assert.Equal(t, float32(2), at(32))
}

func TestPerspectiveZOMapsDepthToUnitRange(t *testing.T) {
	proj := renderer.PerspectiveZO(mgl32.DegToRad(60), 1, 0.1, 100)

	near := proj.Mul4x1(mgl32.Vec4{0, 0, -0.1, 1})
	far := proj.Mul4x1(mgl32.Vec4{0, 0, -100, 1})
	assert.InDelta(t, 0, near.Z()/near.W(), 1e-5)
	assert.InDelta(t, 1, far.Z()/far.W(), 1e-5)
}

func TestCameraLookAt(t *testing.T) {
	cam := renderer.NewCamera()
	cam.LookAt(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{})

	view := cam.View()
	origin := view.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -5, origin.Z(), 1e-5)

	fwd := cam.Forward()
	assert.InDelta(t, 0, fwd.X(), 1e-5)
	assert.InDelta(t, -1, fwd.Z(), 1e-5)

	cam.MoveForward(2)
	assert.InDelta(t, 3, cam.Position.Z(), 1e-5)

	cam.Pitch(10)
	assert.InDelta(t, mgl32.DegToRad(89), cam.EulerRotation.X(), 1e-5)
}
