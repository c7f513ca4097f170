package engine

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer/dxc"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/renderer/vulkan"
)

// headlessWindow stands in for the window when the soft backend renders off screen.
type headlessWindow struct {
	width, height uint32
}

func (w headlessWindow) ClientSize() (uint32, uint32) { return w.width, w.height }

// NewBackend returns the factory and shader compiler of the configured backend. The
// vulkan backend presents into p, the soft backend needs no window.
func NewBackend(cfg *core.Config, p *platform.Platform) (gpu.Factory, gpu.ShaderCompiler, error) {
	switch cfg.Renderer.Backend {
	case "soft":
		return soft.NewFactory(), soft.Compiler{}, nil
	case "vulkan":
		if p == nil {
			return nil, nil, fmt.Errorf("the vulkan backend needs a window")
		}
		f, err := vulkan.NewFactory(p,
			vulkan.WithApplicationName(cfg.Application.Name),
			vulkan.WithValidation(cfg.Application.LogLevel == "debug"),
		)
		if err != nil {
			return nil, nil, core.NewInitializationError("vulkan.NewFactory", err)
		}
		return f, dxc.New(cfg.Shaders.DXCPath), nil
	}
	return nil, nil, fmt.Errorf("unknown renderer backend %q", cfg.Renderer.Backend)
}

// NewCompiler returns the shader compiler of the configured backend without creating a
// device.
func NewCompiler(cfg *core.Config) gpu.ShaderCompiler {
	if cfg.Renderer.Backend == "soft" {
		return soft.Compiler{}
	}
	return dxc.New(cfg.Shaders.DXCPath)
}
