package tracker

import (
	"errors"
	"sync"
	"testing"
)

func TestRegister_SetsPendingStatus(t *testing.T) {
	r := NewRegistry()
	tr := r.Register("req-1")
	if tr.Status != StatusPending {
		t.Errorf("expected StatusPending, got %v", tr.Status)
	}
	if tr.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", tr.Attempt)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 tracker, got %d", r.Len())
	}
}

func TestRegister_DuplicateIDPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("req-1")

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate request id")
		}
	}()
	r.Register("req-1")
}

func TestUpdateStatus_Transitions(t *testing.T) {
	r := NewRegistry()
	r.Register("req-1")

	r.UpdateStatus("req-1", StatusSent, 1, nil)
	tr, ok := r.Get("req-1")
	if !ok || tr.Status != StatusSent {
		t.Fatalf("expected StatusSent, got %+v ok=%v", tr, ok)
	}

	cause := errors.New("boom")
	r.UpdateStatus("req-1", StatusRetrying, 2, cause)
	tr, _ = r.Get("req-1")
	if tr.Status != StatusRetrying || tr.Attempt != 2 || tr.LastError != cause {
		t.Errorf("unexpected tracker after retrying transition: %+v", tr)
	}
}

func TestUnregister_RemovesTerminalEntries(t *testing.T) {
	r := NewRegistry()
	r.Register("req-1")
	r.Unregister("req-1")

	if r.Len() != 0 {
		t.Errorf("expected 0 trackers after unregister, got %d", r.Len())
	}
	if _, ok := r.Get("req-1"); ok {
		t.Error("expected tracker to be gone after unregister")
	}
}

func TestUpdateStatus_NoopAfterUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("req-1")
	r.Unregister("req-1")

	r.UpdateStatus("req-1", StatusCompleted, 1, nil) // must not panic or resurrect
	if r.Len() != 0 {
		t.Error("expected UpdateStatus on unregistered id to be a no-op")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := requestIDFor(i)
			r.Register(id)
			r.UpdateStatus(id, StatusSent, 1, nil)
			_ = r.Snapshot()
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("expected registry empty after concurrent churn, got %d", r.Len())
	}
}

func requestIDFor(i int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for j := range b {
		b[j] = hex[(i+j)%16]
	}
	return string(b)
}
