package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfClassifiedError(t *testing.T) {
	err := New(InvalidInput, "bad image")
	if KindOf(err) != InvalidInput {
		t.Fatalf("expected invalid_input, got %q", KindOf(err))
	}
	if !IsKind(err, InvalidInput) {
		t.Fatal("expected IsKind to match")
	}
	if IsKind(err, MalformedResponse) {
		t.Fatal("expected IsKind to reject other kinds")
	}
}

func TestKindOfWrappedChain(t *testing.T) {
	cause := errors.New("tcp reset")
	err := fmt.Errorf("call failed: %w", Wrap(ServiceUnavailable, "analysis service call failed", cause))

	if KindOf(err) != ServiceUnavailable {
		t.Fatalf("expected service_unavailable through chain, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause preserved through Unwrap")
	}
}

func TestKindOfUnclassifiedDefaultsToServiceUnavailable(t *testing.T) {
	if KindOf(errors.New("mystery")) != ServiceUnavailable {
		t.Fatal("expected unclassified errors to report service_unavailable")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(InvalidInput, "ignored", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(DeviceUnavailable, "camera is busy")); got != "camera is busy" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := UserMessage(errors.New("raw")); got != "raw" {
		t.Fatalf("unexpected fallback: %q", got)
	}
	if got := UserMessage(nil); got != "" {
		t.Fatalf("expected empty for nil, got %q", got)
	}
}
