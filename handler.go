package broker

import (
	"context"
	"net/http"

	"github.com/goliatone/go-integration-broker/httpapi"
)

func (b *Broker) buildHandler() error {
	var metrics http.Handler
	if b.metrics != nil {
		metrics = b.metrics.Handler()
	}
	server, err := httpapi.New(httpapi.Config{
		Commands:     b.facade.Commands(),
		Queries:      b.facade.Queries(),
		Webhooks:     b.processor,
		Limiter:      b.limiter,
		Audit:        b.recorder,
		Metrics:      metrics,
		Observer:     b.observer,
		TenantHeader: b.cfg.HTTP.TenantHeader,
		MaxBodyBytes: b.cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return err
	}
	b.handler = server
	return nil
}

// Serve listens on the configured address until ctx is cancelled. Background
// workers are not started; call Start first.
func (b *Broker) Serve(ctx context.Context) error {
	return httpapi.Serve(ctx, b.cfg.HTTP, b.handler, b.observer)
}
