package oauth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// MemoryStateStore keeps authorization states in process. Consume deletes the
// entry before any check so a state value is never usable twice.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]core.OAuthState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]core.OAuthState{}}
}

func (s *MemoryStateStore) Save(_ context.Context, tenant core.TenantID, state core.OAuthState) error {
	if s == nil {
		return fmt.Errorf("oauth: state store is not configured")
	}
	value := strings.TrimSpace(state.State)
	if value == "" {
		return core.NewBadInputError("oauth: state is required")
	}
	state.State = value
	state.TenantID = tenant
	state.Scopes = slices.Clone(state.Scopes)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for key, existing := range s.entries {
		if existing.TenantID == tenant && !existing.ExpiresAt.IsZero() && now.After(existing.ExpiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[value] = state
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, tenant core.TenantID, provider core.Provider, state string) (core.OAuthState, error) {
	if s == nil {
		return core.OAuthState{}, fmt.Errorf("oauth: state store is not configured")
	}
	state = strings.TrimSpace(state)

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok && record.TenantID == tenant && record.Provider == provider {
		delete(s.entries, state)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return core.OAuthState{}, core.NewNotFoundError("oauth state not found")
	}
	record.Scopes = slices.Clone(record.Scopes)
	return record, nil
}

var _ core.OAuthStateStore = (*MemoryStateStore)(nil)
