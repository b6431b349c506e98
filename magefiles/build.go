//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	binaryName = "anima-gpu"
	shaderDir  = "assets/shaders"
)

// Tidies the module and builds the headless binary into bin/.
func (Build) Binary() error {
	if err := goTidy(); err != nil {
		return err
	}
	out := filepath.Join("bin", binaryName)
	if _, err := executeCmd("go", withArgs("build", "-o", out, "."), withStream()); err != nil {
		return err
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Compiles every GLSL stage under assets/shaders to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderDir)
	if os.IsNotExist(err) {
		fmt.Printf("No %s directory, skipping shaders\n", shaderDir)
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".vert" && ext != ".frag" && ext != ".comp") {
			continue
		}
		src := filepath.Join(shaderDir, e.Name())
		dst := strings.TrimSuffix(src, ext) + "." + strings.TrimPrefix(ext, ".") + ".spv"
		if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}
