package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	wrapped := Wrap(ErrStorageUnavailable, "upload failed", fmt.Errorf("connection reset"))

	if !errors.Is(wrapped, NewError(ErrStorageUnavailable, "")) {
		t.Errorf("errors.Is() should match on Kind alone, ignoring Message")
	}
	if errors.Is(wrapped, NewError(ErrNotFoundKind, "")) {
		t.Errorf("errors.Is() should not match a different Kind")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(fmt.Errorf("plain error")) != ErrInternalKind {
		t.Errorf("KindOf(plain error) should default to ErrInternalKind")
	}
	if KindOf(NewError(ErrTimeoutKind, "deadline exceeded")) != ErrTimeoutKind {
		t.Errorf("KindOf should extract the declared Kind")
	}
}

func TestRetryable(t *testing.T) {
	retryable := []ErrorKind{ErrExtractorTransient, ErrStorageUnavailable, ErrTimeoutKind}
	for _, k := range retryable {
		if !Retryable(k) {
			t.Errorf("Retryable(%s) = false, want true", k)
		}
	}

	terminal := []ErrorKind{ErrInvalidInput, ErrAuthRequired, ErrSourceUnavailable, ErrConflictKind}
	for _, k := range terminal {
		if Retryable(k) {
			t.Errorf("Retryable(%s) = true, want false", k)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrStorageQuota, "write artifact", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) should hold through Unwrap")
	}
}
