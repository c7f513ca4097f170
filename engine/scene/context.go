package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/renderer"
)

type ModelID uint8

const (
	ModelField ModelID = iota
	ModelPlayer
	ModelEnemy
)

func (id ModelID) String() string {
	switch id {
	case ModelField:
		return "field"
	case ModelPlayer:
		return "player"
	case ModelEnemy:
		return "enemy"
	}
	return fmt.Sprintf("model(%d)", uint8(id))
}

// ModelRegistry maps a model to its asset path. Prepared models are keyed by that path.
type ModelRegistry map[ModelID]string

func DefaultModelRegistry() ModelRegistry {
	return ModelRegistry{
		ModelField:  "models/Field.glb",
		ModelPlayer: "models/Player.glb",
		ModelEnemy:  "models/Enemy.glb",
	}
}

// DocumentLoader decodes the model stored at an asset path.
type DocumentLoader func(path string) (*gltf.Document, error)

// Context is what game objects see of the engine while they initialize and draw.
type Context struct {
	Renderer *renderer.Renderer
	Models   ModelRegistry
	Load     DocumentLoader

	world mgl32.Mat4
	draws []renderer.DrawItem
}

func NewContext(r *renderer.Renderer, models ModelRegistry, load DocumentLoader) *Context {
	return &Context{Renderer: r, Models: models, Load: load, world: mgl32.Ident4()}
}

// Model returns the prepared model for id, preparing it on first use.
func (c *Context) Model(id ModelID) (*renderer.Model, error) {
	path, ok := c.Models[id]
	if !ok {
		return nil, fmt.Errorf("no asset registered for %s", id)
	}
	if m := c.Renderer.Model(path); m != nil {
		return m, nil
	}
	doc, err := c.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return c.Renderer.Prepare(path, doc)
}

// World is the world matrix of the object being drawn.
func (c *Context) World() mgl32.Mat4 { return c.world }

// Submit queues m for the frame being built.
func (c *Context) Submit(m *renderer.Model, world mgl32.Mat4) {
	c.draws = append(c.draws, renderer.DrawItem{Model: m, World: world})
}

func (c *Context) begin() {
	c.draws = c.draws[:0]
	c.world = mgl32.Ident4()
}
