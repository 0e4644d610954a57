package rerr

import (
	"errors"
	"testing"
)

func TestNetwork_WrapsAndUnwraps(t *testing.T) {
	base := errors.New("connection reset")
	err := Network("send failed", base)

	if err.Kind != KindNetwork {
		t.Errorf("expected kind %q, got %q", KindNetwork, err.Kind)
	}
	if !err.Retryable {
		t.Error("expected Network to be retryable")
	}

	var target *Error
	if !errors.As(err, &target) {
		t.Error("expected errors.As to match *Error")
	}
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to match wrapped cause")
	}
}

func TestInvalidArgument_NeverRetryable(t *testing.T) {
	err := InvalidArgument("bad tool name", nil)
	if err.Retryable {
		t.Error("InvalidArgument must never be retryable")
	}
	if err.Kind != KindInvalidArgument {
		t.Errorf("expected kind %q, got %q", KindInvalidArgument, err.Kind)
	}
}

func TestTimeout_RespectsRetryOnTimeout(t *testing.T) {
	cases := []struct {
		name           string
		retryOnTimeout bool
		wantRetryable  bool
	}{
		{"retry enabled", true, true},
		{"retry disabled", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Timeout("deadline exceeded", nil, tc.retryOnTimeout)
			if err.Retryable != tc.wantRetryable {
				t.Errorf("expected Retryable=%v, got %v", tc.wantRetryable, err.Retryable)
			}
		})
	}
}

func TestPeerNack_TransientFlag(t *testing.T) {
	transient := PeerNack("unavailable", "server busy", true)
	if !transient.Retryable {
		t.Error("expected transient PeerNack to be retryable")
	}

	terminal := PeerNack("unknown_tool", "no such tool", false)
	if terminal.Retryable {
		t.Error("expected non-transient PeerNack to be terminal")
	}
}

func TestErrorString_IncludesCode(t *testing.T) {
	err := New(KindSequence, "missing_meta", "no rmcp sidecar", nil)
	got := err.Error()
	want := "sequence (missing_meta): no rmcp sidecar"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
