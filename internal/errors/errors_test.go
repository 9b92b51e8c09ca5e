package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestTransientEngineErrorWrapsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewTransientEngineError("docai", cause)

	if !IsTransient(err) {
		t.Fatal("expected transient")
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}

	wrapped := fmt.Errorf("select: %w", err)
	if !IsTransient(wrapped) {
		t.Fatal("transient check must see through wrapping")
	}
	if CodeOf(wrapped) != ErrorTransientEngine {
		t.Fatalf("code = %q", CodeOf(wrapped))
	}
}

func TestIsFatalConfig(t *testing.T) {
	err := NewFatalConfigError("bad tables", nil)
	if !IsFatalConfig(err) {
		t.Fatal("expected fatal config")
	}
	if IsFatalConfig(stderrors.New("plain")) {
		t.Fatal("plain errors are not fatal config")
	}
	if IsFatalConfig(NewOCRExhaustedError("doc-1", 3)) {
		t.Fatal("exhaustion is not fatal config")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != "" {
		t.Fatalf("code = %q, want empty", got)
	}
}

func TestToMapIncludesDetails(t *testing.T) {
	err := NewProcessingTimeoutError("doc-9", 5*time.Minute, stderrors.New("deadline"))
	m := err.ToMap()
	if m["error_code"] != string(ErrorProcessingTimeout) {
		t.Fatalf("map = %v", m)
	}
	if m["timeout_duration"] != "5m0s" {
		t.Fatalf("map = %v", m)
	}
	if m["cause"] != "deadline" {
		t.Fatalf("map = %v", m)
	}
}
