package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonBackendUnavailable)
	if Reason(err) != ReasonBackendUnavailable {
		t.Fatalf("expected reason %s, got %s", ReasonBackendUnavailable, Reason(err))
	}
	if !HasReason(err, ReasonBackendUnavailable) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTStream)
	second := Wrap(first, ReasonBackendProtocol)
	if Reason(second) != ReasonSTTStream {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonOfNil(t *testing.T) {
	if Wrap(nil, ReasonCallTerminated) != nil {
		t.Fatalf("expected nil wrap to stay nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
