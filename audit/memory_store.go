package audit

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/google/uuid"
)

// MemoryStore keeps audit entries in process, newest last.
type MemoryStore struct {
	mu      sync.Mutex
	entries []core.AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, tenant core.TenantID, entry core.AuditLogEntry) (core.AuditLogEntry, error) {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return core.AuditLogEntry{}, core.NewBadInputError("audit action is required")
	}
	entry.TenantID = tenant.AuditTenant()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return entry, nil
}

func (s *MemoryStore) List(_ context.Context, tenant core.TenantID, filter core.AuditFilter) (core.AuditPage, error) {
	limit, offset := core.NormalizePage(filter.Limit, filter.Offset)
	action := strings.TrimSpace(filter.Action)

	s.mu.Lock()
	matched := make([]core.AuditLogEntry, 0, len(s.entries))
	for _, entry := range slices.Backward(s.entries) {
		if entry.TenantID != tenant {
			continue
		}
		if action != "" && entry.Action != action {
			continue
		}
		matched = append(matched, entry)
	}
	s.mu.Unlock()

	page := core.AuditPage{Items: []core.AuditLogEntry{}, Total: len(matched)}
	if offset < len(matched) {
		page.Items = matched[offset:min(offset+limit, len(matched))]
	}
	return page, nil
}

// Count returns how many entries with action exist for tenant.
func (s *MemoryStore) Count(tenant core.TenantID, action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if entry.TenantID == tenant && entry.Action == action {
			count++
		}
	}
	return count
}

var _ core.AuditStore = (*MemoryStore)(nil)
