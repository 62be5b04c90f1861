package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// Guard admits each (tenant, delivery) pair once. Records are kept for the
// configured retention, which must exceed every provider's redelivery horizon.
type Guard struct {
	store     core.ReplayGuardStore
	pruner    core.ReplayGuardPruner
	retention time.Duration
	observer  *core.Observer
	now       func() time.Time
}

type Config struct {
	Store     core.ReplayGuardStore
	Pruner    core.ReplayGuardPruner
	Retention time.Duration
	Observer  *core.Observer
	Now       func() time.Time
}

func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("replay: store is required")
	}
	if horizon := core.MaxRedeliveryHorizon(); cfg.Retention <= horizon {
		return nil, fmt.Errorf("replay: retention %s must exceed the longest redelivery horizon %s", cfg.Retention, horizon)
	}
	pruner := cfg.Pruner
	if pruner == nil {
		pruner, _ = cfg.Store.(core.ReplayGuardPruner)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Guard{
		store:     cfg.Store,
		pruner:    pruner,
		retention: cfg.Retention,
		observer:  cfg.Observer,
		now:       now,
	}, nil
}

// Key scopes a provider delivery id so ids from different providers never
// collide within a tenant.
func Key(provider core.Provider, deliveryID string) string {
	return provider.String() + ":" + strings.TrimSpace(deliveryID)
}

// Admit records the delivery and reports ReplayRejected when the tenant has
// already admitted it. A duplicate is a decision, not an error.
func (g *Guard) Admit(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	deliveryID string,
) (core.ReplayDecision, error) {
	if tenant.IsZero() {
		return "", core.NewAuthError("replay: tenant is required")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return "", core.NewBadInputError("replay: delivery id is required")
	}
	inserted, err := g.store.Insert(ctx, tenant, core.ReplayGuardRecord{
		TenantID:   tenant,
		DeliveryID: Key(provider, deliveryID),
		Provider:   provider,
		CreatedAt:  g.now(),
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		return core.ReplayRejected, nil
	}
	return core.ReplayAdmitted, nil
}

// Release forgets an admitted delivery whose processing could not be
// persisted, so the provider's redelivery is admitted again.
func (g *Guard) Release(ctx context.Context, tenant core.TenantID, provider core.Provider, deliveryID string) error {
	return g.store.Delete(ctx, tenant, Key(provider, deliveryID))
}

func (g *Guard) Retention() time.Duration {
	return g.retention
}

// Prune deletes records older than the retention window.
func (g *Guard) Prune(ctx context.Context) (int, error) {
	if g.pruner == nil {
		return 0, nil
	}
	startedAt := time.Now()
	cutoff := g.now().Add(-g.retention)
	pruned, err := g.pruner.PruneBefore(ctx, cutoff)
	g.observer.Operation(ctx, startedAt, "replay_prune", err, map[string]any{
		"cutoff": cutoff,
		"pruned": pruned,
	})
	return pruned, err
}

// RunPruner prunes on every tick until ctx is done.
func (g *Guard) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = g.Prune(ctx)
		}
	}
}
