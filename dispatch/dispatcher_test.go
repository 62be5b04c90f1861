package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/store/memory"
	"github.com/goliatone/go-integration-broker/transport"
)

var tenant = core.MustTenantID("acme")

type orchestrator struct {
	*httptest.Server
	mu       sync.Mutex
	statuses []int
	requests []capturedTrigger
}

type capturedTrigger struct {
	headers http.Header
	body    TriggerRequest
}

// newOrchestrator answers with statuses in order, repeating the last one.
func newOrchestrator(t *testing.T, statuses ...int) *orchestrator {
	t.Helper()
	o := &orchestrator{statuses: statuses}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body TriggerRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		o.mu.Lock()
		o.requests = append(o.requests, capturedTrigger{headers: r.Header.Clone(), body: body})
		status := o.statuses[min(len(o.requests), len(o.statuses))-1]
		o.mu.Unlock()
		if r.URL.Path != TriggersPath {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *orchestrator) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

type fixture struct {
	dispatcher    *Dispatcher
	dispatches    *memory.DispatchStore
	events        *memory.EventStore
	subscriptions *memory.SubscriptionStore
	audit         *audit.MemoryStore
	clock         *testClock
	sleeps        []time.Duration
}

func newFixture(t *testing.T, baseURL string, mutate func(*core.OrchestratorConfig)) *fixture {
	t.Helper()
	clock := newTestClock()
	f := &fixture{
		dispatches:    memory.NewDispatchStore(),
		events:        memory.NewEventStore(),
		subscriptions: memory.NewSubscriptionStore(),
		audit:         audit.NewMemoryStore(),
		clock:         clock,
	}
	f.dispatches.Now = clock.Now
	recorder, err := audit.NewRecorder(f.audit, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	cfg := core.OrchestratorConfig{
		BaseURL:          baseURL,
		Timeout:          time.Second,
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       time.Second,
		FailureThreshold: 10,
		CoolDown:         30 * time.Second,
		MaxCoolDown:      time.Minute,
		Workers:          2,
		QueueSize:        8,
		SweepInterval:    time.Hour,
		Lease:            time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.dispatcher, err = New(Config{
		Orchestrator:  cfg,
		Dispatches:    f.dispatches,
		Events:        f.events,
		Subscriptions: f.subscriptions,
		Audit:         recorder,
		Client:        transport.NewClient(nil),
		Now:           clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			clock.Advance(d)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return f
}

func (f *fixture) submit(t *testing.T, eventID string, eventType string) core.DispatchRecord {
	t.Helper()
	event := core.NormalizedEvent{
		SchemaVersion: core.EventSchemaVersion,
		EventID:       eventID,
		TenantID:      tenant,
		Provider:      core.ProviderGitHub,
		DeliveryID:    "d-" + eventID,
		EventType:     eventType,
		TriggerType:   "repository.push",
		OccurredAt:    f.clock.Now(),
		Raw:           map[string]any{"event": "push"},
		Labels:        map[string]string{},
	}
	if _, _, err := f.events.Append(context.Background(), tenant, event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	record, err := f.dispatcher.Submit(context.Background(), tenant, event)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return record
}

func (f *fixture) dispatch(t *testing.T, record core.DispatchRecord) core.DispatchRecord {
	t.Helper()
	out, err := f.dispatcher.Dispatch(context.Background(), core.DispatchRef{TenantID: tenant, DispatchID: record.ID, EventID: record.EventID})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return out
}

func (f *fixture) attempts(t *testing.T, record core.DispatchRecord) []core.DispatchAttempt {
	t.Helper()
	attempts, err := f.dispatches.ListAttempts(context.Background(), tenant, record.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	return attempts
}

func TestDispatch_AcceptedPropagatesCorrelationAndIdempotency(t *testing.T) {
	server := newOrchestrator(t, http.StatusAccepted)
	f := newFixture(t, server.URL, nil)
	record := f.submit(t, "evt-1", "github.push")
	if record.Status != core.DispatchStatusPending || record.CorrelationID == "" {
		t.Fatalf("unexpected submitted record %+v", record)
	}

	out := f.dispatch(t, record)
	if out.Status != core.DispatchStatusAccepted || out.Attempts != 1 {
		t.Fatalf("unexpected record %+v", out)
	}
	if server.calls() != 1 {
		t.Fatalf("expected one orchestrator call, got %d", server.calls())
	}
	got := server.requests[0]
	if got.headers.Get(HeaderCorrelationID) != record.CorrelationID ||
		got.headers.Get(HeaderIdempotencyKey) != "evt-1" ||
		got.headers.Get(HeaderTenantID) != "acme" {
		t.Fatalf("unexpected headers %v", got.headers)
	}
	if got.body.CorrelationID != record.CorrelationID || got.body.Event.EventID != "evt-1" || got.body.Targets == nil {
		t.Fatalf("unexpected body %+v", got.body)
	}
	attempts := f.attempts(t, record)
	if len(attempts) != 1 || attempts[0].Outcome != core.DispatchOutcomeAccepted || attempts[0].CorrelationID != record.CorrelationID {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
	if f.audit.Count(tenant, audit.ActionDispatchAccepted) != 1 {
		t.Fatalf("expected dispatch.accepted audit entry")
	}

	again := f.dispatch(t, out)
	if again.Status != core.DispatchStatusAccepted || server.calls() != 1 {
		t.Fatalf("expected accepted record not to be dispatched again")
	}
}

func TestDispatch_RetriesWithExponentialBackoffThenSucceeds(t *testing.T) {
	server := newOrchestrator(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
	f := newFixture(t, server.URL, nil)
	record := f.submit(t, "evt-2", "github.push")

	out := f.dispatch(t, record)
	if out.Status != core.DispatchStatusAccepted || out.Attempts != 3 {
		t.Fatalf("unexpected record %+v", out)
	}
	if len(f.sleeps) != 2 || f.sleeps[0] != 100*time.Millisecond || f.sleeps[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff %v", f.sleeps)
	}
	attempts := f.attempts(t, record)
	outcomes := []core.DispatchOutcome{core.DispatchOutcomeRetry, core.DispatchOutcomeRetry, core.DispatchOutcomeAccepted}
	for i, attempt := range attempts {
		if attempt.Outcome != outcomes[i] || attempt.Attempt != i+1 {
			t.Fatalf("unexpected attempt %d: %+v", i, attempt)
		}
	}
}

func TestDispatch_ExhaustedRetriesFailDurablyAndCanBeRedelivered(t *testing.T) {
	server := newOrchestrator(t, http.StatusBadGateway)
	f := newFixture(t, server.URL, nil)
	record := f.submit(t, "evt-3", "github.push")

	out := f.dispatch(t, record)
	if out.Status != core.DispatchStatusFailed || out.Attempts != 3 || out.LastStatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected record %+v", out)
	}
	if f.audit.Count(tenant, audit.ActionDispatchFailed) != 1 {
		t.Fatalf("expected dispatch.failed audit entry")
	}

	requeued, err := f.dispatcher.Redeliver(context.Background(), tenant, "evt-3")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if requeued.Status != core.DispatchStatusQueued {
		t.Fatalf("expected queued record, got %s", requeued.Status)
	}
	server.mu.Lock()
	server.statuses = []int{http.StatusOK}
	server.mu.Unlock()
	out = f.dispatch(t, requeued)
	if out.Status != core.DispatchStatusAccepted || out.Attempts != 4 {
		t.Fatalf("expected redelivery to be accepted on the fourth attempt, got %+v", out)
	}
	if _, err := f.dispatcher.Redeliver(context.Background(), tenant, "evt-3"); !core.IsErrorCode(err, core.ErrorInvalidTransition) {
		t.Fatalf("expected accepted dispatch not to be redeliverable, got %v", err)
	}
}

func TestDispatch_PermanentRejectionIsNotRetried(t *testing.T) {
	server := newOrchestrator(t, http.StatusUnprocessableEntity)
	f := newFixture(t, server.URL, nil)
	record := f.submit(t, "evt-4", "github.push")

	out := f.dispatch(t, record)
	if out.Status != core.DispatchStatusFailed || server.calls() != 1 || len(f.sleeps) != 0 {
		t.Fatalf("expected a single failed attempt, got %+v after %d calls", out, server.calls())
	}
	if f.dispatcher.Breaker().State() != BreakerClosed {
		t.Fatalf("expected permanent rejections not to trip the breaker")
	}
}

func TestDispatch_OpenCircuitQueuesWithoutNetworkCall(t *testing.T) {
	server := newOrchestrator(t, http.StatusInternalServerError)
	f := newFixture(t, server.URL, func(cfg *core.OrchestratorConfig) {
		cfg.MaxAttempts = 1
		cfg.FailureThreshold = 2
	})
	f.dispatch(t, f.submit(t, "evt-5", "github.push"))
	f.dispatch(t, f.submit(t, "evt-6", "github.push"))
	if f.dispatcher.Breaker().State() != BreakerOpen {
		t.Fatalf("expected open circuit after two failures")
	}

	record := f.submit(t, "evt-7", "github.push")
	out := f.dispatch(t, record)
	if server.calls() != 2 {
		t.Fatalf("expected no network call while open, got %d calls", server.calls())
	}
	if out.Status != core.DispatchStatusQueued || !out.NextAttemptAt.Equal(f.dispatcher.Breaker().ReopensAt()) {
		t.Fatalf("expected queued until the breaker reopens, got %+v", out)
	}
	attempts := f.attempts(t, record)
	if len(attempts) != 1 || attempts[0].Outcome != core.DispatchOutcomeCircuitOpen || attempts[0].CorrelationID == "" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
	if f.audit.Count(tenant, audit.ActionDispatchQueued) != 1 {
		t.Fatalf("expected dispatch.queued audit entry")
	}

	f.clock.Advance(30 * time.Second)
	server.mu.Lock()
	server.statuses = []int{http.StatusOK}
	server.mu.Unlock()
	out = f.dispatch(t, out)
	if out.Status != core.DispatchStatusAccepted || f.dispatcher.Breaker().State() != BreakerClosed {
		t.Fatalf("expected the probe to deliver and close the circuit, got %+v", out)
	}
}

func TestSubmit_RoutesThroughSubscriptions(t *testing.T) {
	server := newOrchestrator(t, http.StatusOK)
	f := newFixture(t, server.URL, nil)
	ctx := context.Background()
	for _, sub := range []core.Subscription{
		{Provider: core.ProviderGitHub, EventType: "github.push", Target: "workflow-build"},
		{Provider: core.ProviderGitHub, EventType: "*", Target: "workflow-log"},
		{Provider: core.ProviderGitHub, EventType: "github.issues", Target: "workflow-triage"},
	} {
		if _, err := f.subscriptions.Create(ctx, tenant, sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	record := f.submit(t, "evt-8", "github.push")
	if len(record.Targets) != 2 || record.Targets[0] != "workflow-build" && record.Targets[1] != "workflow-build" {
		t.Fatalf("unexpected targets %v", record.Targets)
	}
	f.dispatch(t, record)
	if got := server.requests[0].body.Targets; len(got) != 2 {
		t.Fatalf("expected targets in the trigger body, got %v", got)
	}
}

func TestSubmit_UnmatchedSubscriptionsLeaveEventUnrouted(t *testing.T) {
	server := newOrchestrator(t, http.StatusOK)
	f := newFixture(t, server.URL, nil)
	if _, err := f.subscriptions.Create(context.Background(), tenant, core.Subscription{
		Provider: core.ProviderGitHub, EventType: "github.issues", Target: "workflow-triage",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	record := f.submit(t, "evt-9", "github.push")
	if record.Status != core.DispatchStatusUnrouted {
		t.Fatalf("expected unrouted record, got %s", record.Status)
	}
	f.dispatch(t, record)
	if server.calls() != 0 {
		t.Fatalf("expected unrouted event not to be dispatched")
	}
	if f.audit.Count(tenant, audit.ActionDispatchUnrouted) != 1 {
		t.Fatalf("expected dispatch.unrouted audit entry")
	}
}

func TestSubmit_IsIdempotentPerEvent(t *testing.T) {
	server := newOrchestrator(t, http.StatusOK)
	f := newFixture(t, server.URL, nil)
	first := f.submit(t, "evt-10", "github.push")
	second := f.submit(t, "evt-10", "github.push")
	if first.ID != second.ID || first.CorrelationID != second.CorrelationID {
		t.Fatalf("expected one record per event")
	}
}
