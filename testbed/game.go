package testbed

import (
	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	scenes  *scene.Manager
	elapsed float64
}

func NewTestGame(cfg *core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(scenes *scene.Manager) error {
	core.LogDebug("TestGame Initialize fn....")

	state := g.State.(*gameState)
	state.scenes = scenes
	scenes.Register(scene.NewGameScene())
	return scenes.ChangeScene("GameScene")
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	core.LogDebug("TestGame ran for %.1fs", state.elapsed)
	return nil
}
