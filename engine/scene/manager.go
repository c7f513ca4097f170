package scene

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
)

// Manager owns the registered scenes and drives the current one.
type Manager struct {
	ctx     *Context
	scenes  map[string]*Scene
	current *Scene
}

func NewManager(ctx *Context) *Manager {
	return &Manager{ctx: ctx, scenes: make(map[string]*Scene)}
}

func (m *Manager) Register(s *Scene) {
	m.scenes[s.Name] = s
}

func (m *Manager) Current() *Scene { return m.current }

// ChangeScene terminates the current scene and initializes the one registered as name.
func (m *Manager) ChangeScene(name string) error {
	next, ok := m.scenes[name]
	if !ok {
		return fmt.Errorf("scene %q is not registered", name)
	}
	if m.current != nil {
		if err := m.current.Terminate(); err != nil {
			core.LogWarn("terminating scene %s: %s", m.current.Name, err)
		}
	}
	m.current = nil
	if err := next.Initialize(m.ctx); err != nil {
		return err
	}
	m.current = next
	return nil
}

func (m *Manager) Update(dt float64) error {
	if m.current == nil {
		return nil
	}
	return m.current.Update(dt)
}

func (m *Manager) Draw() error {
	if m.current == nil {
		return nil
	}
	return m.current.Draw(m.ctx)
}

func (m *Manager) Shutdown() error {
	if m.current == nil {
		return nil
	}
	err := m.current.Terminate()
	m.current = nil
	return err
}
