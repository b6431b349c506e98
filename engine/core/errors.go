package core

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/davecgh/go-spew/spew"
)

var (
	ErrResourceCreationFailed = errors.New("resource creation failed")
	ErrDependencyNotReady     = errors.New("dependency not ready")
	ErrPoolExhausted          = errors.New("descriptor pool exhausted")
	ErrContractViolation      = errors.New("contract violation")
	ErrUnknownAsset           = errors.New("unknown asset")
	ErrQueueClosed            = errors.New("load queue closed")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrNoWorkers              = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize    = errors.New("attempting to create worker pool with a negative channel size")
	ErrUnknown                = errors.New("unknown")
)

// ResourceCreationFailed is returned when a backend factory could not create a
// native object. Description is the offending description itself; it is only
// formatted when the error is printed.
type ResourceCreationFailed struct {
	Kind        string
	Description interface{}
	Cause       error
}

// Follows pointers instead of printing their addresses.
var descriptionPrinter = spew.ConfigState{
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func (e *ResourceCreationFailed) Error() string {
	return fmt.Sprintf("failed to create %s (%s): %v", e.Kind, describe(e.Description), e.Cause)
}

func describe(description interface{}) string {
	if s, ok := description.(fmt.Stringer); ok {
		return s.String()
	}
	return descriptionPrinter.Sprintf("%+v", description)
}

func (e *ResourceCreationFailed) Unwrap() error {
	return e.Cause
}

// NewResourceCreationFailed builds the typed error and marks it so that
// errors.Is(err, ErrResourceCreationFailed) holds.
func NewResourceCreationFailed(kind string, description interface{}, cause error) error {
	return errors.Mark(&ResourceCreationFailed{
		Kind:        kind,
		Description: description,
		Cause:       cause,
	}, ErrResourceCreationFailed)
}

// DependencyNotReady reports a load that referenced an identity with nothing
// loaded behind it yet.
func DependencyNotReady(kind string, id fmt.Stringer) error {
	return errors.Wrapf(ErrDependencyNotReady, "%s %s", kind, id)
}

var strictContracts atomic.Bool

// SetStrictContracts turns contract violations into panics.
func SetStrictContracts(strict bool) {
	strictContracts.Store(strict)
}

func StrictContracts() bool {
	return strictContracts.Load()
}

// ContractViolation logs a misuse of an asynchronous protocol (commit without
// a pending value, free of an unknown identity, ...).
func ContractViolation(format string, args ...interface{}) {
	if strictContracts.Load() {
		panic(errors.AssertionFailedf(format, args...))
	}
	err := errors.Wrapf(ErrContractViolation, format, args...)
	LogWarn("%s", err.Error())
}
