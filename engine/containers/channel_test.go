package containers

import (
	"sync"
	"testing"
)

func TestChannelDrainKeepsSendOrder(t *testing.T) {
	c := NewChannel[int]()
	for i := 0; i < 3; i++ {
		c.Send(i)
	}
	got := c.Drain()
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("expected [0 1 2], got %v", got)
	}
	if c.Len() != 0 {
		t.Errorf("expected an empty channel after drain, got %d", c.Len())
	}
}

func TestChannelConcurrentProducers(t *testing.T) {
	c := NewChannel[int]()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Send(i)
			}
		}()
	}
	wg.Wait()
	if n := len(c.Drain()); n != 800 {
		t.Errorf("expected 800 values, got %d", n)
	}
}

func TestChannelClose(t *testing.T) {
	c := NewChannel[string]()
	c.Send("before")
	c.Close()
	if c.Send("after") {
		t.Error("expected send on a closed channel to fail")
	}
	if got := c.Drain(); len(got) != 1 || got[0] != "before" {
		t.Errorf("expected [before], got %v", got)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[uint64]string{30: "c", 10: "a", 20: "b"})
	if len(keys) != 3 || keys[0] != 10 || keys[1] != 20 || keys[2] != 30 {
		t.Errorf("expected [10 20 30], got %v", keys)
	}
}
