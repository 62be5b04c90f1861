package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// RedeliverJobID names the go-job task that redelivers one dispatch record.
const RedeliverJobID = "broker.dispatch.redeliver"

// RetryPolicy bounds how often a redelivery job is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps the delay and turns a requeue into a dead letter
// once attempt reaches MaxAttempts.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Queue hands dispatch records to a go-job queue for redelivery. The
// dispatch id is the idempotency key, so a record swept twice before its job
// runs is enqueued once.
type Queue struct {
	enqueuer queue.Enqueuer
}

func NewQueue(enqueuer queue.Enqueuer) *Queue {
	return &Queue{enqueuer: enqueuer}
}

func (q *Queue) EnqueueRedelivery(ctx context.Context, ref core.DispatchRef) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if ref.TenantID.IsZero() || strings.TrimSpace(ref.DispatchID) == "" {
		return core.NewBadInputError("gojob: redelivery needs a tenant and a dispatch id")
	}
	return q.enqueuer.Enqueue(ctx, redeliverMessage(ref))
}

// Source reads redelivery jobs from a go-job queue.
type Source struct {
	dequeuer queue.Dequeuer
}

func NewSource(dequeuer queue.Dequeuer) *Source {
	return &Source{dequeuer: dequeuer}
}

func (s *Source) Dequeue(ctx context.Context) (*Redelivery, error) {
	if s == nil || s.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := s.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	ref, err := refFromMessage(delivery.Message())
	return &Redelivery{delivery: delivery, ref: ref, err: err}, nil
}

// Redelivery is one dequeued job. Ref fails for messages that do not carry
// a dispatch record; those are dead lettered by the worker.
type Redelivery struct {
	delivery queue.Delivery
	ref      core.DispatchRef
	err      error
}

func (r *Redelivery) Ref() (core.DispatchRef, error) {
	return r.ref, r.err
}

func (r *Redelivery) Ack(ctx context.Context) error {
	return r.delivery.Ack(ctx)
}

func (r *Redelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	return r.delivery.Nack(ctx, opts)
}

func redeliverMessage(ref core.DispatchRef) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          RedeliverJobID,
		ScriptPath:     RedeliverJobID,
		IdempotencyKey: ref.DispatchID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
		Parameters: map[string]any{
			"tenant_id":   ref.TenantID.String(),
			"dispatch_id": ref.DispatchID,
			"event_id":    ref.EventID,
		},
	}
}

func refFromMessage(msg *job.ExecutionMessage) (core.DispatchRef, error) {
	if msg == nil {
		return core.DispatchRef{}, core.NewBadInputError("gojob: job message is required")
	}
	if msg.JobID != RedeliverJobID {
		return core.DispatchRef{}, core.NewBadInputError(fmt.Sprintf("gojob: unexpected job %q", msg.JobID))
	}
	tenantID, _ := msg.Parameters["tenant_id"].(string)
	tenant, err := core.ParseTenantID(tenantID)
	if err != nil {
		return core.DispatchRef{}, core.NewBadInputError("gojob: job message has no valid tenant")
	}
	dispatchID, _ := msg.Parameters["dispatch_id"].(string)
	if strings.TrimSpace(dispatchID) == "" {
		return core.DispatchRef{}, core.NewBadInputError("gojob: job message has no dispatch id")
	}
	eventID, _ := msg.Parameters["event_id"].(string)
	return core.DispatchRef{TenantID: tenant, DispatchID: dispatchID, EventID: eventID}, nil
}

var _ core.RedeliveryQueue = (*Queue)(nil)
