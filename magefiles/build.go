//go:build mage

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderProfiles = map[string]string{
	"shaderVS.hlsl":       "vs_6_0",
	"shaderOpaquePS.hlsl": "ps_6_0",
	"shaderAlphaPS.hlsl":  "ps_6_0",
}

// Compiles the HLSL shaders to SPIR-V under assets/shaders/bin.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the ember binary.
func (Build) Binary() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/ember", "."), withStream())
	return err
}

func buildShaders() error {
	if err := requireTool("dxc"); err != nil {
		return err
	}
	out := filepath.Join("assets", "shaders", "bin")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for name, profile := range shaderProfiles {
		args := []string{"-spirv", "-T", profile, "-E", "main"}
		if strings.HasPrefix(profile, "vs_") {
			args = append(args, "-fvk-invert-y")
		}
		spv := filepath.Join(out, strings.TrimSuffix(name, ".hlsl")+".spv")
		args = append(args, "-Fo", spv, filepath.Join("assets", "shaders", name))
		if _, err := executeCmd("dxc", withArgs(args...), withStream()); err != nil {
			return err
		}
	}
	return nil
}
