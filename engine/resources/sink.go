package resources

import (
	"math"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type retiredResource[R any] struct {
	resource       R
	liveUntilFrame uint32
}

// DestructionSink delays destroying native objects until no command buffer
// submitted before their retirement can still reference them.
type DestructionSink[R any] struct {
	kind              metadata.ResourceKind
	maxFramesInFlight uint32
	frameIndex        uint32
	inFlight          *containers.RingQueue[retiredResource[R]]
	destroy           func(R) error
}

func NewDestructionSink[R any](kind metadata.ResourceKind, maxFramesInFlight uint32, destroy func(R) error) *DestructionSink[R] {
	return &DestructionSink[R]{
		kind:              kind,
		maxFramesInFlight: maxFramesInFlight,
		inFlight:          containers.NewRingQueue[retiredResource[R]](16),
		destroy:           destroy,
	}
}

// Retire schedules r for destruction on the (maxFramesInFlight+1)-th
// OnFrameComplete from now.
func (s *DestructionSink[R]) Retire(r R) {
	s.inFlight.Enqueue(retiredResource[R]{
		resource:       r,
		liveUntilFrame: s.frameIndex + s.maxFramesInFlight + 1,
	})
}

func (s *DestructionSink[R]) OnFrameComplete() {
	s.frameIndex++

	// Everything shares the same delay so the queue is ordered by liveUntilFrame.
	for !s.inFlight.IsEmpty() {
		front, _ := s.inFlight.Peek()
		if !reached(front.liveUntilFrame, s.frameIndex) {
			break
		}
		s.inFlight.Dequeue()
		s.destroyOne(front.resource)
	}
}

// Destroy destroys everything immediately. The device must be idle.
func (s *DestructionSink[R]) Destroy() {
	for !s.inFlight.IsEmpty() {
		r, _ := s.inFlight.Dequeue()
		s.destroyOne(r.resource)
	}
}

// Len is the number of resources waiting for their frame.
func (s *DestructionSink[R]) Len() int {
	return s.inFlight.Len()
}

func (s *DestructionSink[R]) destroyOne(r R) {
	if err := s.destroy(r); err != nil {
		core.LogError("failed to destroy %s: %s", s.kind, err.Error())
	}
}

// reached compares frame counters that wrap around.
func reached(liveUntil, frame uint32) bool {
	return frame-liveUntil < math.MaxUint32/2
}
