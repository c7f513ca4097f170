package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/qmuntal/gltf"
	"github.com/spaghettifunk/ember/engine/assets"
	"github.com/spaghettifunk/ember/engine/assets/loaders"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/scene"
	"github.com/spaghettifunk/ember/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Every subsystem has been released
	EngineStageStopped
)

type Option func(*Engine)

// WithMaxFrames stops the loop after n frames. Zero runs until quit.
func WithMaxFrames(n uint64) Option {
	return func(e *Engine) { e.maxFrames = n }
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    atomic.Bool
	maxFrames    uint64

	platform      *platform.Platform
	assetManager  *assets.AssetManager
	factory       gpu.Factory
	deviceContext *renderer.DeviceContext
	renderer      *renderer.Renderer
	sceneContext  *scene.Context
	scenes        *scene.Manager

	clock    *core.Clock
	metrics  *core.FrameMetrics
	lastTime float64
}

func New(g *Game, opts ...Option) (*Engine, error) {
	if g == nil || g.Config == nil {
		return nil, fmt.Errorf("game has no configuration")
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.Config,
		assetManager: assets.NewAssetManager(g.Config.Assets.Root),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Initialize brings every subsystem up in order. On failure whatever was already created
// is released again.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	if err := e.initialize(); err != nil {
		if cerr := e.close(); cerr != nil {
			core.LogWarn("releasing after failed initialization: %s", cerr)
		}
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) initialize() error {
	cfg := e.config
	core.SetLogLevel(cfg.Application.LogLevel)

	if !core.EventInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)

	if err := e.assetManager.Initialize(cfg.Assets.Watch); err != nil {
		return err
	}

	var window renderer.WindowTarget = headlessWindow{width: cfg.Application.Width, height: cfg.Application.Height}
	if cfg.Renderer.Backend != "soft" {
		e.platform = platform.New()
		if err := e.platform.Startup(cfg.Application.Name,
			cfg.Application.StartX, cfg.Application.StartY,
			cfg.Application.Width, cfg.Application.Height); err != nil {
			return err
		}
		window = e.platform
	}

	factory, compiler, err := NewBackend(cfg, e.platform)
	if err != nil {
		return err
	}
	e.factory = factory
	shaders, err := e.loadShaders()
	if err != nil {
		return err
	}
	// Broken shaders fail here, before any device object exists.
	if err := renderer.ValidateShaders(compiler, shaders); err != nil {
		return err
	}

	dc, err := renderer.NewDeviceContext(e.factory, window,
		renderer.WithFrameBufferCount(cfg.Renderer.FrameBufferCount),
		renderer.WithGPUWaitTimeout(cfg.Renderer.GPUWaitTimeout.Duration),
		renderer.WithVSync(cfg.Renderer.VSync),
		renderer.WithClearColor(cfg.Renderer.ClearColor),
	)
	if err != nil {
		return err
	}
	e.deviceContext = dc
	e.renderer = renderer.NewRenderer(dc, compiler, shaders)

	if err := e.preloadModels(); err != nil {
		return err
	}

	e.sceneContext = scene.NewContext(e.renderer, e.modelRegistry(), e.loadDocument)
	e.scenes = scene.NewManager(e.sceneContext)

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.scenes); err != nil {
			return err
		}
	}
	return nil
}

// preloadModels decodes the configured models on a job pool and prepares them in
// configuration order.
func (e *Engine) preloadModels() error {
	paths := e.config.Assets.Models
	if len(paths) == 0 {
		return nil
	}
	js, err := systems.NewJobSystem(min(len(paths), runtime.NumCPU()), len(paths))
	if err != nil {
		return err
	}
	defer js.Shutdown()

	var mu sync.Mutex
	docs := make(map[string]*gltf.Document, len(paths))
	var errs []error
	for _, path := range paths {
		path := path
		if err := js.Submit(systems.JobTask{
			Name: "load " + path,
			Run:  func() (interface{}, error) { return e.loadDocument(path) },
			OnComplete: func(result interface{}) {
				mu.Lock()
				docs[path] = result.(*gltf.Document)
				mu.Unlock()
			},
			OnFailure: func(err error) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("loading %s: %w", path, err))
				mu.Unlock()
			},
		}); err != nil {
			return err
		}
	}
	js.Wait()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, path := range paths {
		if e.renderer.Model(path) != nil {
			continue
		}
		if _, err := e.renderer.Prepare(path, docs[path]); err != nil {
			return err
		}
	}
	core.LogInfo("prepared %d models", len(paths))
	return nil
}

// modelRegistry maps the configured model paths, in order, onto the scene's models.
func (e *Engine) modelRegistry() scene.ModelRegistry {
	models := scene.DefaultModelRegistry()
	for i, path := range e.config.Assets.Models {
		if i > int(scene.ModelEnemy) {
			core.LogWarn("ignoring extra model %s", path)
			continue
		}
		models[scene.ModelID(i)] = path
	}
	return models
}

func (e *Engine) loadDocument(path string) (*gltf.Document, error) {
	res, err := e.assetManager.LoadAsset(path)
	if err != nil {
		return nil, err
	}
	doc, ok := res.Data.(*gltf.Document)
	if !ok {
		return nil, fmt.Errorf("%s is not a model", path)
	}
	return doc, nil
}

func (e *Engine) loadShader(path string) (renderer.ShaderSource, error) {
	res, err := e.assetManager.LoadAsset(path)
	if err != nil {
		return renderer.ShaderSource{}, err
	}
	code, ok := res.Data.([]byte)
	if !ok {
		return renderer.ShaderSource{}, fmt.Errorf("%s is not a shader", path)
	}
	return renderer.ShaderSource{Name: path, Code: code}, nil
}

func (e *Engine) loadShaders() (renderer.ShaderSources, error) {
	var src renderer.ShaderSources
	var err error
	if src.Vertex, err = e.loadShader(e.config.Shaders.Vertex); err != nil {
		return src, err
	}
	if src.OpaquePixel, err = e.loadShader(e.config.Shaders.OpaquePixel); err != nil {
		return src, err
	}
	if src.AlphaPixel, err = e.loadShader(e.config.Shaders.AlphaPixel); err != nil {
		return src, err
	}
	return src, nil
}

func (e *Engine) isShader(path string) bool {
	s := e.config.Shaders
	return path == s.Vertex || path == s.OpaquePixel || path == s.AlphaPixel
}

// Run drives the frame loop until quit, a failed frame or the frame limit. Every
// subsystem is released before it returns.
func (e *Engine) Run() (err error) {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	defer func() {
		if cerr := e.close(); err == nil {
			err = cerr
		}
	}()

	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			break
		}
		e.processAssetChanges()

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.scenes.Update(delta); err != nil {
			return err
		}
		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return err
			}
		}
		if err := e.scenes.Draw(); err != nil {
			var lost *core.DeviceLostError
			if errors.As(err, &lost) {
				core.LogError("device lost, shutting down: %s", err)
			}
			return err
		}

		e.clock.Update()
		e.metrics.Update(e.clock.Elapsed() - currentTime)
		if e.metrics.TotalFrames()%300 == 0 {
			core.LogDebug("%.1f fps, %.2f ms per frame", e.metrics.FPS(), e.metrics.FrameTime())
		}
		e.lastTime = currentTime

		if e.maxFrames > 0 && e.metrics.TotalFrames() >= e.maxFrames {
			break
		}
	}
	return nil
}

// processAssetChanges applies every pending change without blocking the frame. A model
// or shader that fails to rebuild is reported and the previous one stays in use.
func (e *Engine) processAssetChanges() {
	for {
		select {
		case c := <-e.assetManager.Changes():
			e.applyAssetChange(c)
		default:
			return
		}
	}
}

func (e *Engine) applyAssetChange(c assets.AssetChange) {
	if !c.Removed {
		switch {
		case c.Type == loaders.AssetTypeModel && e.renderer.Model(c.Path) != nil:
			doc, err := e.loadDocument(c.Path)
			if err == nil {
				_, err = e.renderer.Reload(c.Path, doc)
			}
			if err != nil {
				core.LogError("reloading %s: %s", c.Path, err)
			} else {
				core.LogInfo("reloaded model %s", c.Path)
			}
		case c.Type == loaders.AssetTypeShader && e.isShader(c.Path):
			src, err := e.loadShaders()
			if err == nil {
				err = e.renderer.SetShaders(src)
			}
			if err != nil {
				core.LogError("reloading shaders: %s", err)
			} else {
				core.LogInfo("reloaded shaders after %s changed", c.Path)
			}
		}
	}

	ctx := core.EventContext{}
	ctx.Data.C[0] = c.Path
	ctx.Data.C[1] = c.Type.String()
	core.EventFire(core.EVENT_CODE_ASSET_CHANGED, e, ctx)
}

// Shutdown asks the loop to stop after the current frame. Safe from any goroutine.
func (e *Engine) Shutdown() {
	e.isRunning.Store(false)
}

func (e *Engine) close() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if e.scenes != nil {
		if err := e.scenes.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.renderer != nil {
		if err := e.renderer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.deviceContext != nil {
		if err := e.deviceContext.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.factory != nil {
		e.factory.Release()
	}
	if e.gameInstance.FnShutdown != nil && e.scenes != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.assetManager.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	if err := core.EventShutdown(); err != nil {
		errs = append(errs, err)
	}
	core.LogInfo("shut down after %d frames", e.metrics.TotalFrames())
	e.currentStage = EngineStageStopped
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }

func (e *Engine) Scenes() *scene.Manager { return e.scenes }

func (e *Engine) Metrics() *core.FrameMetrics { return e.metrics }

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Shutdown()
		return true
	}
	return false
}
