package hub

import (
	"errors"
	"sync"
	"testing"
)

type recordSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordSender) SendText(p []byte) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(p))
	r.mu.Unlock()
	return nil
}

func TestSlot_RegisterReplaces(t *testing.T) {
	var s Slot
	a := &Handle{ID: 1, Conn: &recordSender{}}
	b := &Handle{ID: 2, Conn: &recordSender{}}
	if prev := s.Register(a); prev != nil {
		t.Fatalf("expected no previous handle, got %+v", prev)
	}
	if prev := s.Register(b); prev != a {
		t.Fatalf("expected a displaced, got %+v", prev)
	}
	if s.Current() != b {
		t.Fatalf("expected b current")
	}
}

func TestSlot_StaleReleaseKeepsNewer(t *testing.T) {
	var s Slot
	a := &Handle{ID: 1}
	b := &Handle{ID: 2}
	s.Register(a)
	s.Register(b)
	if s.Release(a) {
		t.Fatalf("stale release must not clear the slot")
	}
	if s.Current() != b {
		t.Fatalf("newer handle evicted")
	}
	if !s.Release(b) || s.Current() != nil {
		t.Fatalf("expected slot cleared")
	}
	if s.Release(b) {
		t.Fatalf("second release should be a no-op")
	}
}

func TestHandle_SendNil(t *testing.T) {
	var h *Handle
	if err := h.Send([]byte("x")); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
	rs := &recordSender{}
	h = &Handle{ID: 3, Conn: rs}
	if err := h.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(rs.msgs) != 1 || rs.msgs[0] != "hello" {
		t.Fatalf("unexpected messages %v", rs.msgs)
	}
}

func TestSlot_ConcurrentRegisterRelease(t *testing.T) {
	var s Slot
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			h := &Handle{ID: id}
			s.Register(h)
			s.Release(h)
		}(uint64(i))
	}
	wg.Wait()
	// The last handle registered is released by its own owner afterwards.
	if cur := s.Current(); cur != nil {
		t.Fatalf("expected empty slot, found %+v", cur)
	}
}
