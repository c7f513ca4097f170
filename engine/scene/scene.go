package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
)

// Scene is a named arena of game objects seen through one camera.
type Scene struct {
	Name   string
	Arena  *Arena
	Camera *renderer.Camera

	populate    func(s *Scene) error
	initialized bool
}

// NewScene creates an empty scene. populate fills the arena each time the scene is
// initialized.
func NewScene(name string, populate func(s *Scene) error) *Scene {
	return &Scene{Name: name, Arena: NewArena(), Camera: renderer.NewCamera(), populate: populate}
}

func (s *Scene) Initialize(ctx *Context) error {
	if s.initialized {
		return nil
	}
	if s.populate != nil {
		if err := s.populate(s); err != nil {
			s.Arena = NewArena()
			return fmt.Errorf("scene %s: %w", s.Name, err)
		}
	}
	if err := s.Arena.Each(func(id ObjectID, obj GameObject) error {
		return obj.Initialize(ctx)
	}); err != nil {
		_ = s.Terminate()
		return err
	}
	s.initialized = true
	core.LogInfo("scene %s initialized with %d objects", s.Name, s.Arena.Len())
	return nil
}

func (s *Scene) Update(dt float64) error {
	return s.Arena.Each(func(id ObjectID, obj GameObject) error {
		return obj.Update(dt)
	})
}

// Draw collects the objects' draws and renders them as one frame.
func (s *Scene) Draw(ctx *Context) error {
	ctx.begin()
	if err := s.Arena.Each(func(id ObjectID, obj GameObject) error {
		ctx.world = s.Arena.World(id)
		return obj.Draw(ctx)
	}); err != nil {
		return err
	}
	width, height := ctx.Renderer.Context().ClientSize()
	return ctx.Renderer.Render(renderer.FrameParams{
		View:       s.Camera.View(),
		Projection: s.Camera.Projection(width, height),
		Draws:      ctx.draws,
	})
}

// Terminate drops every object. A later Initialize populates the scene again.
func (s *Scene) Terminate() error {
	var errs []error
	_ = s.Arena.Each(func(id ObjectID, obj GameObject) error {
		if t, ok := obj.(interface{ Terminate() error }); ok {
			if err := t.Terminate(); err != nil {
				errs = append(errs, err)
			}
		}
		return nil
	})
	s.Arena = NewArena()
	s.initialized = false
	if len(errs) > 0 {
		return fmt.Errorf("scene %s: %v", s.Name, errs)
	}
	return nil
}

// NewGameScene is the field with the player on it and an enemy circling the player.
func NewGameScene() *Scene {
	return NewScene("GameScene", func(s *Scene) error {
		field, err := s.Arena.Add(NewField(), NoParent)
		if err != nil {
			return err
		}
		player, err := s.Arena.Add(NewPlayer(mgl32.Vec3{0, 0.5, 0}), field)
		if err != nil {
			return err
		}
		if _, err := s.Arena.Add(NewEnemy(3), player); err != nil {
			return err
		}
		s.Camera.LookAt(mgl32.Vec3{0, 6, 10}, mgl32.Vec3{})
		return nil
	})
}
