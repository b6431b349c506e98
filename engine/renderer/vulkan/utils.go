package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// check turns a failed VkResult into an error naming the call.
func check(result vk.Result, call string) error {
	if result == vk.Success {
		return nil
	}
	return errors.Wrapf(vk.Error(result), "%s", call)
}

var end = "\x00"
var endChar byte = '\x00'

// VulkanSafeString null terminates s for the C side.
func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

// handleTable maps the opaque ids handed to the resource caches to native
// Vulkan objects. Ids are never reused.
type handleTable[T any] struct {
	mu      sync.Mutex
	next    *atomic.Uint64
	entries map[uint64]T
}

func newHandleTable[T any](next *atomic.Uint64) *handleTable[T] {
	return &handleTable[T]{next: next, entries: make(map[uint64]T)}
}

func (t *handleTable[T]) insert(v T) uint64 {
	id := t.next.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = v
	return id
}

func (t *handleTable[T]) get(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	return v, ok
}

func (t *handleTable[T]) remove(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	delete(t.entries, id)
	return v, ok
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
