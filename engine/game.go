package engine

import (
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/scene"
)

// Game is implemented by the application. The engine owns the loop and calls back into
// these hooks; nil hooks are skipped.
type Game struct {
	Config       *core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

// Initialize registers the game's scenes and picks the first one.
type Initialize func(scenes *scene.Manager) error
type Update func(deltaTime float64) error
type Shutdown func() error
