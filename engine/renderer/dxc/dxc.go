// Package dxc compiles HLSL to SPIR-V with the DirectX shader compiler.
package dxc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const DefaultPath = "dxc"

// Compiler runs the dxc binary once per stage. Vertex stages get their Y axis flipped so
// clip space matches the D3D convention the renderer builds its matrices for.
type Compiler struct {
	Path  string
	Flags []string
}

func New(path string) *Compiler {
	if path == "" {
		path = DefaultPath
	}
	return &Compiler{Path: path, Flags: []string{"-O3"}}
}

// Available reports whether the compiler binary can be found.
func (c *Compiler) Available() bool {
	_, err := exec.LookPath(c.Path)
	return err == nil
}

func (c *Compiler) Compile(source []byte, name string, entryPoint string, profile string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "ember-dxc-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "shader.hlsl"
	}
	in := filepath.Join(dir, base)
	out := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".spv")
	if err := os.WriteFile(in, source, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.args(in, out, entryPoint, profile)...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Diagnostics name the temp file; report them against the caller's name.
			diag := strings.ReplaceAll(strings.TrimSpace(stderr.String()), in, name)
			return nil, &gpu.CompileError{Name: name, Diagnostic: diag}
		}
		return nil, fmt.Errorf("running %s: %w", c.Path, err)
	}

	spirv, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("reading %s output: %w", c.Path, err)
	}
	core.LogDebug("dxc compiled %s (%s) into %d bytes of SPIR-V", name, profile, len(spirv))
	return spirv, nil
}

func (c *Compiler) args(in, out, entryPoint, profile string) []string {
	args := []string{"-spirv", "-T", profile, "-E", entryPoint}
	if strings.HasPrefix(profile, "vs_") {
		args = append(args, "-fvk-invert-y")
	}
	args = append(args, c.Flags...)
	return append(args, "-Fo", out, in)
}
