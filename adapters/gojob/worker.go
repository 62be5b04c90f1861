package gojob

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"

	"github.com/goliatone/go-job/queue"
)

// Dispatcher runs one dispatch pass for a record.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref core.DispatchRef) (core.DispatchRecord, error)
}

type RedeliverySource interface {
	Dequeue(ctx context.Context) (*Redelivery, error)
}

type WorkerHook interface {
	OnStart(ctx context.Context, event WorkerEvent)
	OnSuccess(ctx context.Context, event WorkerEvent)
	OnFailure(ctx context.Context, event WorkerEvent)
	OnRetry(ctx context.Context, event WorkerEvent)
}

type WorkerEvent struct {
	Ref       core.DispatchRef
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// RedeliveryWorker consumes broker.dispatch.redeliver jobs.
type RedeliveryWorker struct {
	source     RedeliverySource
	dispatcher Dispatcher
	policy     RetryPolicy
	hook       WorkerHook
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRedeliveryWorker(source RedeliverySource, dispatcher Dispatcher, policy RetryPolicy, hook WorkerHook) (*RedeliveryWorker, error) {
	if source == nil || dispatcher == nil {
		return nil, errors.New("gojob: source and dispatcher are required")
	}
	if hook == nil {
		hook = ObserverHook{}
	}
	return &RedeliveryWorker{
		source:     source,
		dispatcher: dispatcher,
		policy:     policy,
		hook:       hook,
		now:        func() time.Time { return time.Now().UTC() },
		attempts:   map[string]int{},
	}, nil
}

// Run processes deliveries until ctx is done.
func (w *RedeliveryWorker) Run(ctx context.Context) error {
	for {
		if err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RunOnce dequeues and handles one delivery. Records left queued by an open
// circuit are requeued until the breaker reopens; every other settled outcome
// is acked.
func (w *RedeliveryWorker) RunOnce(ctx context.Context) error {
	redelivery, err := w.source.Dequeue(ctx)
	if err != nil {
		return err
	}
	event := WorkerEvent{StartedAt: w.now()}

	ref, err := redelivery.Ref()
	if err != nil {
		event.Err = err
		w.hook.OnStart(ctx, event)
		w.hook.OnFailure(ctx, event)
		return redelivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}
	event.Ref = ref
	event.Attempt = w.nextAttempt(ref.DispatchID)
	w.hook.OnStart(ctx, event)

	record, err := w.dispatcher.Dispatch(ctx, ref)
	event.Duration = w.now().Sub(event.StartedAt)
	if err != nil {
		event.Err = err
		return w.retry(ctx, redelivery, event, err.Error())
	}
	if record.Status == core.DispatchStatusQueued {
		event.Delay = max(record.NextAttemptAt.Sub(w.now()), 0)
		return w.retry(ctx, redelivery, event, "circuit open")
	}
	w.forget(ref.DispatchID)
	w.hook.OnSuccess(ctx, event)
	return redelivery.Ack(ctx)
}

func (w *RedeliveryWorker) retry(ctx context.Context, redelivery *Redelivery, event WorkerEvent, reason string) error {
	opts := w.policy.NormalizeAttempt(queue.NackOptions{Requeue: true, Delay: event.Delay, Reason: reason}, event.Attempt)
	event.Delay = opts.Delay
	if opts.DeadLetter || !opts.Requeue {
		w.forget(event.Ref.DispatchID)
		if event.Err == nil {
			event.Err = errors.New(reason)
		}
		w.hook.OnFailure(ctx, event)
	} else {
		w.hook.OnRetry(ctx, event)
	}
	return redelivery.Nack(ctx, opts)
}

func (w *RedeliveryWorker) nextAttempt(dispatchID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[dispatchID]++
	return w.attempts[dispatchID]
}

func (w *RedeliveryWorker) forget(dispatchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, dispatchID)
}

// ObserverHook logs worker events.
type ObserverHook struct {
	Observer *core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event WorkerEvent) {
	h.Observer.Debug(ctx, "redelivery job started", eventFields(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event WorkerEvent) {
	h.Observer.Counter(ctx, "broker.jobs.redeliver.total", 1, map[string]string{"outcome": "success"})
}

func (h ObserverHook) OnFailure(ctx context.Context, event WorkerEvent) {
	h.Observer.Counter(ctx, "broker.jobs.redeliver.total", 1, map[string]string{"outcome": "failure"})
	h.Observer.Error(ctx, "redelivery job failed", eventFields(event))
}

func (h ObserverHook) OnRetry(ctx context.Context, event WorkerEvent) {
	h.Observer.Counter(ctx, "broker.jobs.redeliver.total", 1, map[string]string{"outcome": "retry"})
	h.Observer.Warn(ctx, "redelivery job requeued", eventFields(event))
}

func eventFields(event WorkerEvent) map[string]any {
	fields := map[string]any{
		"attempt":  event.Attempt,
		"delay_ms": event.Delay.Milliseconds(),
	}
	if event.Ref.DispatchID != "" {
		fields["tenant_id"] = event.Ref.TenantID.String()
		fields["dispatch_id"] = event.Ref.DispatchID
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var (
	_ WorkerHook       = ObserverHook{}
	_ RedeliverySource = (*Source)(nil)
)
