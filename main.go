/*
This is an example of application that will use the
engine package to render the game scene
*/
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/testbed"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.toml"

var (
	cfgFile   string
	backend   string
	maxFrames uint64
)

var rootCmd = &cobra.Command{
	Use:           "ember",
	Short:         "Renders the game scene",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

var shadersCmd = &cobra.Command{
	Use:          "shaders",
	Short:        "Compiles the configured shaders and reports diagnostics",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return compileShaders(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.toml when present)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "renderer backend, vulkan or soft")
	rootCmd.Flags().Uint64Var(&maxFrames, "frames", 0, "stop after this many frames, 0 runs until the window closes")
	rootCmd.AddCommand(shadersCmd)
}

func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg := core.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = core.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("backend") {
		cfg.Renderer.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.Application.LogLevel)
	return cfg, nil
}

func run(cfg *core.Config) error {
	tb := testbed.NewTestGame(cfg)

	e, err := engine.New(tb.Game, engine.WithMaxFrames(maxFrames))
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return err
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; ok {
			e.Shutdown()
		}
	}()

	return e.Run()
}

func compileShaders(cfg *core.Config) error {
	compiler := engine.NewCompiler(cfg)
	stages := []struct {
		path    string
		profile string
	}{
		{cfg.Shaders.Vertex, renderer.VertexShaderProfile},
		{cfg.Shaders.OpaquePixel, renderer.PixelShaderProfile},
		{cfg.Shaders.AlphaPixel, renderer.PixelShaderProfile},
	}
	var errs []error
	for _, s := range stages {
		src, err := os.ReadFile(filepath.Join(cfg.Assets.Root, s.path))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		bc, err := compiler.Compile(src, s.path, renderer.ShaderEntryPoint, s.profile)
		if err != nil {
			core.LogError("%s", err)
			errs = append(errs, err)
			continue
		}
		core.LogInfo("%s (%s): %d bytes", s.path, s.profile, len(bc))
	}
	return errors.Join(errs...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
