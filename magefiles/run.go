//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Checks the shaders and runs the engine on the vulkan backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "--backend", "vulkan"), withStream())
	return err
}

// Runs a few frames headless on the soft backend.
func (Run) Soft() error {
	_, err := executeCmd("go", withArgs("run", ".", "--backend", "soft", "--frames", "120"), withStream())
	return err
}

// Runs the test suite.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
