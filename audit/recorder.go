package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// Recorder is the single write path into the audit log. Details are redacted
// before they are persisted.
type Recorder struct {
	store    core.AuditStore
	observer *core.Observer
	now      func() time.Time
}

func NewRecorder(store core.AuditStore, observer *core.Observer) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store is required")
	}
	return &Recorder{
		store:    store,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record appends one entry. A zero tenant is recorded under the reserved
// unresolved tenant.
func (r *Recorder) Record(ctx context.Context, tenant core.TenantID, action string, details map[string]any) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("audit: recorder is not configured")
	}
	action = strings.TrimSpace(action)
	entry, err := r.store.Append(ctx, tenant.AuditTenant(), core.AuditLogEntry{
		Action:    action,
		Details:   core.RedactSensitiveMap(details),
		CreatedAt: r.now(),
	})
	if err != nil {
		r.observer.Error(ctx, "audit append failed", map[string]any{
			"tenant_id": tenant.AuditTenant().String(),
			"action":    action,
			"error":     err.Error(),
		})
		return err
	}
	r.observer.Counter(ctx, "broker.audit.entries.total", 1, map[string]string{"action": entry.Action})
	return nil
}

func (r *Recorder) List(ctx context.Context, tenant core.TenantID, filter core.AuditFilter) (core.AuditPage, error) {
	if r == nil || r.store == nil {
		return core.AuditPage{}, fmt.Errorf("audit: recorder is not configured")
	}
	if tenant.IsZero() {
		return core.AuditPage{}, core.NewAuthError("audit: tenant is required")
	}
	return r.store.List(ctx, tenant, filter)
}

var _ core.AuditRecorder = (*Recorder)(nil)
