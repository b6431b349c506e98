package main

import (
	"testing"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func TestParseSurface(t *testing.T) {
	got, err := parseSurface("1280x720:4")
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 1280 || got.Height != 720 || got.SampleCount != metadata.SampleCount4 {
		t.Errorf("got %s", got)
	}
	if got.ColorFormat != metadata.FormatB8G8R8A8Srgb || got.DepthFormat != metadata.FormatD32Sfloat {
		t.Errorf("unexpected formats in %s", got)
	}

	got, err = parseSurface("800x600")
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleCount != metadata.SampleCount1 {
		t.Errorf("default sample count should be 1, got %d", got.SampleCount)
	}
}

func TestParseSurfaceRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "800", "0x600", "800x-1", "800x600:3", "800x600:x"} {
		if _, err := parseSurface(value); err == nil {
			t.Errorf("parseSurface(%q) should fail", value)
		}
	}
}
