//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests of every package that builds without a Vulkan loader.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs(append([]string{"test"}, headlessPackages...)...), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs(append([]string{"test", "-race"}, headlessPackages...)...), withStream())
	return err
}

// Runs the Vulkan translation tests; needs the Vulkan headers for cgo.
func (Test) Vulkan() error {
	_, err := executeCmd("go", withArgs("test", "./engine/renderer/vulkan/..."), withStream())
	return err
}

type Lint mg.Namespace

// Runs go vet over the whole module.
func (Lint) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
