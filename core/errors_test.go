package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewErrorCarriesTaxonomy(t *testing.T) {
	tests := []struct {
		code     string
		category goerrors.Category
		status   int
	}{
		{ErrorAuth, goerrors.CategoryAuth, http.StatusUnauthorized},
		{ErrorSignatureInvalid, goerrors.CategoryAuth, http.StatusUnauthorized},
		{ErrorNoSecretConfigured, goerrors.CategoryAuthz, http.StatusForbidden},
		{ErrorReplayDetected, goerrors.CategoryConflict, http.StatusConflict},
		{ErrorRateLimited, goerrors.CategoryRateLimit, http.StatusTooManyRequests},
		{ErrorOAuthStateMismatch, goerrors.CategoryAuth, http.StatusBadRequest},
		{ErrorOAuthExchangeFailed, goerrors.CategoryExternal, http.StatusBadGateway},
		{ErrorEncryption, goerrors.CategoryInternal, http.StatusInternalServerError},
		{ErrorDownstreamUnavailable, goerrors.CategoryExternal, http.StatusServiceUnavailable},
		{ErrorStorage, goerrors.CategoryInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		err := NewError(tc.code, "boom")
		if err.TextCode != tc.code || err.Category != tc.category || err.Code != tc.status {
			t.Fatalf("unexpected envelope for %s: %#v", tc.code, err)
		}
		if !IsErrorCode(fmt.Errorf("wrapped: %w", err), tc.code) {
			t.Fatalf("expected IsErrorCode to see through wrapping for %s", tc.code)
		}
	}
}

func TestWrapErrorKeepsSourceAndOverridesCode(t *testing.T) {
	source := NewNotFoundError("missing")
	wrapped := WrapError(source, ErrorStorage, "load failed")
	if wrapped.TextCode != ErrorStorage {
		t.Fatalf("expected storage text code, got %q", wrapped.TextCode)
	}
	if !errors.Is(wrapped, source) {
		t.Fatalf("expected wrapped error to unwrap to source")
	}
	if WrapError(nil, ErrorStorage, "noop") != nil {
		t.Fatalf("expected nil source to produce nil")
	}
}

func TestNewStorageErrorPreservesNotFound(t *testing.T) {
	err := NewStorageError(NewNotFoundError("subscription not found"), "load subscription")
	if !IsErrorCode(err, ErrorNotFound) {
		t.Fatalf("expected not found to pass through, got %v", err)
	}
	err = NewStorageError(errors.New("disk full"), "append event")
	if !IsErrorCode(err, ErrorStorage) {
		t.Fatalf("expected storage code, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	if got := MapError(ErrInvalidTenantID); got.TextCode != ErrorAuth {
		t.Fatalf("expected tenant errors to map to auth, got %q", got.TextCode)
	}
	if got := MapError(fmt.Errorf("x: %w", ErrUnknownProvider)); got.TextCode != ErrorNotFound {
		t.Fatalf("expected unknown provider to map to not found, got %q", got.TextCode)
	}
	got := MapError(errors.New("opaque"))
	if got.TextCode != ErrorInternal || got.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %#v", got)
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil mapping")
	}
}
