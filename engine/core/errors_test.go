package core

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

type stringID string

func (s stringID) String() string { return string(s) }

func TestResourceCreationFailedIsMarked(t *testing.T) {
	cause := errors.New("out of device memory")
	err := NewResourceCreationFailed("sampler", struct{ MaxLod float32 }{4}, cause)

	if !errors.Is(err, ErrResourceCreationFailed) {
		t.Errorf("expected error to be marked as ErrResourceCreationFailed")
	}
	var typed *ResourceCreationFailed
	if !errors.As(err, &typed) {
		t.Fatalf("expected a *ResourceCreationFailed in the chain")
	}
	if typed.Kind != "sampler" {
		t.Errorf("expected kind sampler, got %s", typed.Kind)
	}
	if typed.Cause != cause {
		t.Errorf("expected the original cause to be kept")
	}
}

type samplerState struct {
	MaxLod float32
}

type samplerDescription struct {
	Name  string
	State *samplerState
}

func TestResourceCreationFailedPrintsPointees(t *testing.T) {
	desc := &samplerDescription{Name: "linear", State: &samplerState{MaxLod: 4}}
	err := NewResourceCreationFailed("sampler", desc, errors.New("out of device memory"))

	var typed *ResourceCreationFailed
	if !errors.As(err, &typed) {
		t.Fatalf("expected a *ResourceCreationFailed in the chain")
	}
	if typed.Description != desc {
		t.Errorf("expected the description itself to be kept")
	}
	msg := err.Error()
	if !strings.Contains(msg, "MaxLod:4") || !strings.Contains(msg, "linear") {
		t.Errorf("expected the nested description in %q", msg)
	}
	if strings.Contains(msg, "0x") {
		t.Errorf("expected no pointer addresses in %q", msg)
	}

	err = NewResourceCreationFailed("shader module", stringID("basic.vert"), errors.New("boom"))
	if !strings.Contains(err.Error(), "(basic.vert)") {
		t.Errorf("expected a Stringer description to print itself, got %q", err.Error())
	}
}

func TestContractViolationKeepsPercentSigns(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(os.Stderr)
	SetStrictContracts(false)

	ContractViolation("free of unknown %s", "textures/100%d.png")
	out := buf.String()
	if !strings.Contains(out, "textures/100%d.png") {
		t.Errorf("expected the path verbatim, got %q", out)
	}
	if strings.Contains(out, "MISSING") {
		t.Errorf("expected no formatting directives applied twice, got %q", out)
	}
}

func TestDependencyNotReady(t *testing.T) {
	err := DependencyNotReady("shader module", stringID("abc"))
	if !errors.Is(err, ErrDependencyNotReady) {
		t.Errorf("expected ErrDependencyNotReady, got %v", err)
	}
}

func TestContractViolationPanicsOnlyWhenStrict(t *testing.T) {
	SetStrictContracts(false)
	ContractViolation("commit of %s without a pending value", "x")

	SetStrictContracts(true)
	defer SetStrictContracts(false)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic in strict mode")
		}
		err, ok := r.(error)
		if !ok || !errors.HasAssertionFailure(err) {
			t.Errorf("expected an assertion failure, got %v", r)
		}
	}()
	ContractViolation("free of unknown %s", "y")
}
