package renderer

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ShaderParameters is the per frame constant buffer block bound at b0.
type ShaderParameters struct {
	World mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

const shaderParametersSize = 3 * 16 * 4

// Bytes packs the matrices column-major, the HLSL cbuffer default.
func (p ShaderParameters) Bytes() []byte {
	out := make([]byte, shaderParametersSize)
	off := 0
	for _, m := range [3]mgl32.Mat4{p.World, p.View, p.Proj} {
		for _, f := range m {
			binary.LittleEndian.PutUint32(out[off:], math.Float32bits(f))
			off += 4
		}
	}
	return out
}

// PerspectiveZO is a right handed perspective projection mapping depth to [0, 1].
func PerspectiveZO(fovy, aspect, near, far float32) mgl32.Mat4 {
	f := float32(1 / math.Tan(float64(fovy)/2))
	nf := 1 / (near - far)
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, far * nf, -1,
		0, 0, near * far * nf, 0,
	}
}

type Camera struct {
	// Position and EulerRotation are set through the setters so the view is rebuilt.
	Position      mgl32.Vec3
	EulerRotation mgl32.Vec3
	FovY          float32
	Near          float32
	Far           float32

	isDirty    bool
	viewMatrix mgl32.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = mgl32.Vec3{}
	c.EulerRotation = mgl32.Vec3{}
	c.FovY = mgl32.DegToRad(60)
	c.Near = 0.1
	c.Far = 1000
	c.isDirty = false
	c.viewMatrix = mgl32.Ident4()
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

// LookAt places the camera at eye facing target.
func (c *Camera) LookAt(eye, target mgl32.Vec3) {
	dir := target.Sub(eye).Normalize()
	c.Position = eye
	c.EulerRotation = mgl32.Vec3{
		float32(math.Asin(float64(dir.Y()))),
		float32(math.Atan2(float64(-dir.X()), float64(-dir.Z()))),
		0,
	}
	c.isDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		rotation := mgl32.AnglesToQuat(c.EulerRotation.Y(), c.EulerRotation.X(), c.EulerRotation.Z(), mgl32.YXZ).Mat4()
		translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
		c.viewMatrix = translation.Mul4(rotation).Inv()
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) Projection(width, height uint32) mgl32.Mat4 {
	aspect := float32(1)
	if height != 0 {
		aspect = float32(width) / float32(height)
	}
	return PerspectiveZO(c.FovY, aspect, c.Near, c.Far)
}

func (c *Camera) Forward() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{-v.At(2, 0), -v.At(2, 1), -v.At(2, 2)}
}

func (c *Camera) Right() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{v.At(0, 0), v.At(0, 1), v.At(0, 2)}
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().Mul(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.Position.Add(c.Right().Mul(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(mgl32.Vec3{0, amount, 0}))
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp to avoid gimbal lock.
	limit := mgl32.DegToRad(89)
	c.EulerRotation[0] = mgl32.Clamp(c.EulerRotation[0]+amount, -limit, limit)
	c.isDirty = true
}
