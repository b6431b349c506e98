//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the headless resource manager on assets/.
func (Run) Headless() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run headless...")
	if _, err := executeCmd("go", withArgs("run", ".", "-assets", "assets", "-backend", "null"), withStream()); err != nil {
		return err
	}
	return nil
}
