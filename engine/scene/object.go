package scene

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
)

// GameObject is one of *Player, *Field or *Enemy.
type GameObject interface {
	Initialize(ctx *Context) error
	Update(dt float64) error
	Draw(ctx *Context) error

	transform() *math.Transform
}

type object struct {
	Model     ModelID
	Transform math.Transform
}

func newObject(model ModelID, position mgl32.Vec3) object {
	return object{Model: model, Transform: math.TransformFromPosition(position)}
}

func (o *object) transform() *math.Transform { return &o.Transform }

func (o *object) Position() mgl32.Vec3 { return o.Transform.Position }

func (o *object) Initialize(ctx *Context) error {
	_, err := ctx.Model(o.Model)
	return err
}

func (o *object) Draw(ctx *Context) error {
	m, err := ctx.Model(o.Model)
	if err != nil {
		return err
	}
	ctx.Submit(m, ctx.World())
	return nil
}

// Field is the static ground every other object stands on.
type Field struct {
	object
}

func NewField() *Field {
	return &Field{object: newObject(ModelField, mgl32.Vec3{})}
}

func (f *Field) Update(dt float64) error { return nil }

// GLFW key codes.
const (
	keyA = 65
	keyD = 68
	keyS = 83
	keyW = 87
)

// Player moves on the XZ plane while W, A, S or D are held.
type Player struct {
	object
	Speed float32

	held map[uint16]bool
}

func NewPlayer(position mgl32.Vec3) *Player {
	return &Player{
		object: newObject(ModelPlayer, position),
		Speed:  4,
		held:   make(map[uint16]bool),
	}
}

func (p *Player) Initialize(ctx *Context) error {
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, p, p.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, p, p.onKey)
	return p.object.Initialize(ctx)
}

func (p *Player) Terminate() error {
	core.EventUnregister(core.EVENT_CODE_KEY_PRESSED, p, p.onKey)
	core.EventUnregister(core.EVENT_CODE_KEY_RELEASED, p, p.onKey)
	return nil
}

func (p *Player) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	p.held[data.Data.U16[0]] = code == core.EVENT_CODE_KEY_PRESSED
	return false
}

// Direction is the unit movement direction implied by the held keys.
func (p *Player) Direction() mgl32.Vec3 {
	var dir mgl32.Vec3
	if p.held[keyW] {
		dir[2]--
	}
	if p.held[keyS] {
		dir[2]++
	}
	if p.held[keyA] {
		dir[0]--
	}
	if p.held[keyD] {
		dir[0]++
	}
	if dir.Len() == 0 {
		return dir
	}
	return dir.Normalize()
}

func (p *Player) Update(dt float64) error {
	if dir := p.Direction(); dir.Len() > 0 {
		p.Transform.Translate(dir.Mul(p.Speed * float32(dt)))
	}
	return nil
}

// Enemy circles its parent at a fixed radius.
type Enemy struct {
	object
	Radius       float32
	AngularSpeed float32

	angle float32
}

func NewEnemy(radius float32) *Enemy {
	return &Enemy{
		object:       newObject(ModelEnemy, mgl32.Vec3{radius, 0, 0}),
		Radius:       radius,
		AngularSpeed: 1,
	}
}

func (e *Enemy) Update(dt float64) error {
	e.angle += e.AngularSpeed * float32(dt)
	x, z := mgl32.Rotate2D(e.angle).Mul2x1(mgl32.Vec2{e.Radius, 0}).Elem()
	e.Transform.SetPosition(mgl32.Vec3{x, 0, z})
	e.Transform.SetRotation(mgl32.QuatRotate(-e.angle, mgl32.Vec3{0, 1, 0}))
	return nil
}
