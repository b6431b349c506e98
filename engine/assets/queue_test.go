package assets

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
)

func TestLoadQueueSetRoutesByType(t *testing.T) {
	s := NewLoadQueueSet()
	h := HandleForPath("shaders/a.spv")
	if _, err := s.Load(h, 1, &ShaderAsset{Code: []byte{1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Commit(AssetKindShader, h, 1)
	s.Free(AssetKindShader, h)

	loads := s.Shaders.TakeLoadRequests()
	if len(loads) != 1 || loads[0].Handle != h || loads[0].Version != 1 {
		t.Fatalf("unexpected loads %+v", loads)
	}
	if c := s.Shaders.TakeCommitRequests(); len(c) != 1 || c[0].Version != 1 {
		t.Errorf("unexpected commits %+v", c)
	}
	if f := s.Shaders.TakeFreeRequests(); len(f) != 1 {
		t.Errorf("unexpected frees %+v", f)
	}
	if len(s.Images.TakeLoadRequests()) != 0 {
		t.Errorf("image queue should be empty")
	}

	if _, err := s.Load(h, 1, "nope"); !errors.Is(err, core.ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestLoadOpResolvesOnce(t *testing.T) {
	op := newLoadOp(HandleForPath("a"))
	if op.Err() != nil {
		t.Fatalf("pending op has no error")
	}
	op.Error(nil)
	if !errors.Is(op.Err(), core.ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", op.Err())
	}
	// second resolution is ignored
	op.Complete()
	if err := op.Wait(context.Background()); !errors.Is(err, core.ErrUnknown) {
		t.Errorf("expected the first result to stick, got %v", err)
	}
}

func TestLoadOpWaitHonorsContext(t *testing.T) {
	op := newLoadOp(HandleForPath("a"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := op.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a deadline error, got %v", err)
	}
}

func TestCloseFailsPendingLoads(t *testing.T) {
	q := NewLoadQueues[BufferAsset](AssetKindBuffer)
	pending := q.Handler().Load(HandleForPath("a.bin"), 1, &BufferAsset{})
	q.Close()
	if !errors.Is(pending.Err(), core.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed for the pending load, got %v", pending.Err())
	}
	late := q.Handler().Load(HandleForPath("b.bin"), 1, &BufferAsset{})
	if !errors.Is(late.Err(), core.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed after close, got %v", late.Err())
	}
}
