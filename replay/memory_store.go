package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// MemoryStore is a process-local replay guard store. Records leave it only
// through PruneBefore or Delete.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	Now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) Insert(_ context.Context, tenant core.TenantID, record core.ReplayGuardRecord) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("replay: memory store is not configured")
	}
	key, err := memoryKey(tenant, record.DeliveryID)
	if err != nil {
		return false, err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return false, nil
	}
	s.entries[key] = createdAt.UTC()
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenant core.TenantID, deliveryID string) error {
	if s == nil {
		return fmt.Errorf("replay: memory store is not configured")
	}
	key, err := memoryKey(tenant, deliveryID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("replay: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for key, createdAt := range s.entries {
		if createdAt.Before(cutoff) {
			delete(s.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func memoryKey(tenant core.TenantID, deliveryID string) (string, error) {
	if tenant.IsZero() {
		return "", core.NewAuthError("replay: tenant is required")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return "", core.NewBadInputError("replay: delivery id is required")
	}
	return tenant.String() + "\x00" + deliveryID, nil
}

var (
	_ core.ReplayGuardStore  = (*MemoryStore)(nil)
	_ core.ReplayGuardPruner = (*MemoryStore)(nil)
)
