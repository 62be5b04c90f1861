package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

type pool struct {
	dispatcher *Dispatcher
	workers    int
	queueSize  int

	mu        sync.RWMutex
	queue     chan core.DispatchRef
	running   bool
	cancel    context.CancelFunc
	stopSweep context.CancelFunc
	wg        sync.WaitGroup
}

func newPool(d *Dispatcher, workers int, queueSize int) *pool {
	return &pool{dispatcher: d, workers: workers, queueSize: queueSize}
}

// offer hands ref to a worker without blocking. It reports false when the
// pool is stopped or full; the record then waits for the sweeper.
func (p *pool) offer(ref core.DispatchRef) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}
	select {
	case p.queue <- ref:
		return true
	default:
		return false
	}
}

// Start launches the workers and the redelivery sweeper. ctx bounds their
// lifetime; Shutdown stops them gracefully.
func (d *Dispatcher) Start(ctx context.Context) error {
	p := d.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("dispatch: dispatcher already started")
	}
	workCtx, cancel := context.WithCancel(ctx)
	sweepCtx, stopSweep := context.WithCancel(workCtx)
	queue := make(chan core.DispatchRef, p.queueSize)
	p.queue = queue
	p.cancel = cancel
	p.stopSweep = stopSweep
	p.running = true

	for range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ref := range queue {
				if _, err := d.Dispatch(workCtx, ref); err != nil {
					d.observer.Error(workCtx, "dispatch: pass failed", map[string]any{
						"tenant_id":   ref.TenantID.String(),
						"dispatch_id": ref.DispatchID,
						"error":       err.Error(),
					})
				}
			}
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		d.runSweeper(sweepCtx)
	}()

	d.observer.Info(ctx, "dispatch: workers started", map[string]any{
		"workers":        p.workers,
		"sweep_interval": d.cfg.SweepInterval.String(),
	})
	return nil
}

// Shutdown stops accepting work and waits for in-flight passes until ctx
// expires. Passes still running at the deadline are cancelled; their records
// are persisted as queued and picked up again after restart.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	p := d.pool
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.queue)
	cancel, stopSweep := p.cancel, p.stopSweep
	p.mu.Unlock()

	stopSweep()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil {
				d.observer.Error(ctx, "dispatch: sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Sweep schedules due records: pending ones the pool had no room for, queued
// ones whose retry time passed and dispatching ones whose lease expired.
func (d *Dispatcher) Sweep(ctx context.Context) (scheduled int, err error) {
	if d.due == nil {
		return 0, nil
	}
	startedAt := d.now()
	defer func() {
		d.observer.Operation(ctx, startedAt, "dispatch_sweep", err, map[string]any{"scheduled": scheduled})
	}()
	refs, err := d.due.ListDue(ctx, startedAt, d.cfg.QueueSize)
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		if d.jobs != nil {
			if err := d.jobs.EnqueueRedelivery(ctx, ref); err != nil {
				return scheduled, err
			}
			scheduled++
			continue
		}
		if !d.pool.offer(ref) {
			break
		}
		scheduled++
	}
	return scheduled, nil
}
