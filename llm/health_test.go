package llm

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestHealth(threshold int, recovery time.Duration) (*Health, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := NewHealth(HealthConfig{FailureThreshold: threshold, RecoveryTimeout: recovery})
	h.now = clock.now
	return h, clock
}

func TestHealth_CircuitOpens(t *testing.T) {
	h, _ := newTestHealth(2, time.Minute)

	if !h.Available("primary") {
		t.Error("expected unknown endpoint to be available")
	}

	h.MarkFailure("primary")
	if !h.Available("primary") {
		t.Error("expected primary to be available after 1 failure")
	}

	h.MarkFailure("primary")
	if h.Available("primary") {
		t.Error("expected primary to be unavailable after circuit opens")
	}

	st := h.Snapshot()["primary"]
	if !st.CircuitOpen || st.FailureCount != 2 || st.Available {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestHealth_Recovery(t *testing.T) {
	h, clock := newTestHealth(1, time.Minute)

	h.MarkFailure("primary")
	if h.Available("primary") {
		t.Fatal("expected open circuit")
	}

	clock.t = clock.t.Add(61 * time.Second)
	if !h.Available("primary") {
		t.Error("expected half-open after recovery timeout")
	}

	h.MarkSuccess("primary")
	st := h.Snapshot()["primary"]
	if st.CircuitOpen || st.FailureCount != 0 || !st.Available {
		t.Errorf("expected closed circuit after success, got %+v", st)
	}
	if st.LastSuccess.IsZero() {
		t.Error("expected last success to be set")
	}
}

func TestHealth_Filter(t *testing.T) {
	h, _ := newTestHealth(1, time.Minute)
	chain := []Endpoint{{Model: "a"}, {Model: "b"}, {Name: "c-named", Model: "c"}}

	h.MarkFailure("a")
	got := h.Filter(chain)
	if len(got) != 2 || got[0].Model != "b" || got[1].Model != "c" {
		t.Errorf("expected [b c], got %+v", got)
	}

	h.MarkFailure("b")
	h.MarkFailure("c-named")
	if got := h.Filter(chain); len(got) != 3 {
		t.Errorf("expected full chain when all circuits are open, got %d", len(got))
	}

	h.Reset()
	if len(h.Snapshot()) != 0 {
		t.Error("expected reset to clear state")
	}
}
