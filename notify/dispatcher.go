// Package notify sends outbound notifications and tracks their lifecycle:
// pending -> sent -> delivered | failed | bounced, with bounded retries of
// failed and bounced notifications.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
)

type Request struct {
	Channel    core.NotificationChannel `json:"channel"`
	Subject    string                   `json:"subject"`
	Body       string                   `json:"body"`
	Metadata   map[string]any           `json:"metadata"`
	MaxRetries *int                     `json:"maxRetries,omitempty"`
}

type Config struct {
	Store             core.NotificationStore
	Senders           map[core.NotificationChannel]Sender
	Audit             core.AuditRecorder
	Observer          *core.Observer
	DefaultMaxRetries int
	Workers           int
	QueueSize         int
}

type Dispatcher struct {
	store      core.NotificationStore
	senders    map[core.NotificationChannel]Sender
	audit      core.AuditRecorder
	observer   *core.Observer
	maxRetries int
	workers    int
	queueSize  int

	mu      sync.RWMutex
	queue   chan core.Notification
	running bool
	wg      sync.WaitGroup
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notify: notification store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("notify: audit recorder is required")
	}
	if len(cfg.Senders) == 0 {
		return nil, fmt.Errorf("notify: at least one sender is required")
	}
	defaults := core.DefaultConfig().Notifications
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = defaults.DefaultMaxRetries
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	return &Dispatcher{
		store:      cfg.Store,
		senders:    cfg.Senders,
		audit:      cfg.Audit,
		observer:   cfg.Observer,
		maxRetries: cfg.DefaultMaxRetries,
		workers:    cfg.Workers,
		queueSize:  cfg.QueueSize,
	}, nil
}

// Enqueue persists a pending notification and hands it to the sender pool.
// Without a running pool, or when the pool is full, it is sent inline.
func (d *Dispatcher) Enqueue(ctx context.Context, tenant core.TenantID, req Request) (core.Notification, error) {
	channel := core.NotificationChannel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
	sender, ok := d.senders[channel]
	if !ok {
		return core.Notification{}, core.NewValidationError("channel", fmt.Sprintf("unsupported channel %q", req.Channel))
	}
	if strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.Subject) == "" {
		return core.Notification{}, core.NewValidationError("body", "subject or body is required")
	}
	if err := sender.Validate(req.Metadata); err != nil {
		return core.Notification{}, err
	}
	maxRetries := d.maxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return core.Notification{}, core.NewValidationError("maxRetries", "must not be negative")
		}
		maxRetries = *req.MaxRetries
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	created, err := d.store.Create(ctx, tenant, core.Notification{
		SchemaVersion: core.NotificationSchemaVersion,
		TenantID:      tenant,
		Channel:       channel,
		Subject:       strings.TrimSpace(req.Subject),
		Body:          req.Body,
		Status:        core.NotificationStatusPending,
		Metadata:      metadata,
		MaxRetries:    maxRetries,
	})
	if err != nil {
		return core.Notification{}, err
	}
	d.record(ctx, tenant, audit.ActionNotificationEnqueued, created, nil)
	return d.schedule(ctx, created), nil
}

func (d *Dispatcher) Get(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	return d.store.Get(ctx, tenant, id)
}

// UpdateStatus records a delivery outcome reported by the provider or the
// orchestrator.
func (d *Dispatcher) UpdateStatus(
	ctx context.Context,
	tenant core.TenantID,
	id string,
	status core.NotificationStatus,
	reason string,
) (core.Notification, error) {
	switch status {
	case core.NotificationStatusDelivered, core.NotificationStatusFailed, core.NotificationStatusBounced:
	default:
		return core.Notification{}, core.NewValidationError("status", "must be delivered, failed or bounced")
	}
	current, err := d.store.Get(ctx, tenant, id)
	if err != nil {
		return core.Notification{}, err
	}
	if err := core.ValidateNotificationTransition(current.Status, status); err != nil {
		return core.Notification{}, core.WrapError(err, core.ErrorInvalidTransition, err.Error())
	}
	next := current
	next.Status = status
	if status != core.NotificationStatusDelivered {
		next.LastError = strings.TrimSpace(reason)
	}
	updated, err := d.store.Update(ctx, tenant, next, current.Status)
	if err != nil {
		return core.Notification{}, err
	}
	details := map[string]any{"from": string(current.Status), "to": string(status)}
	if reason = strings.TrimSpace(reason); reason != "" {
		details["reason"] = reason
	}
	d.record(ctx, tenant, audit.ActionNotificationStatus, updated, details)
	return updated, nil
}

// Retry moves a failed or bounced notification back to pending and resends
// it. Past MaxRetries it fails with NOTIFICATION_RETRIES_EXHAUSTED.
func (d *Dispatcher) Retry(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	current, err := d.store.Get(ctx, tenant, id)
	if err != nil {
		return core.Notification{}, err
	}
	if !current.Status.Retryable() {
		return core.Notification{}, core.NewError(
			core.ErrorInvalidTransition,
			fmt.Sprintf("notification is %s and cannot be retried", current.Status),
		)
	}
	if current.RetryCount >= current.MaxRetries {
		d.record(ctx, tenant, audit.ActionNotificationRetriesExhausted, current, nil)
		return core.Notification{}, core.NewError(
			core.ErrorNotificationRetriesExhausted,
			fmt.Sprintf("notification exhausted its %d retries", current.MaxRetries),
		)
	}
	next := current
	next.Status = core.NotificationStatusPending
	next.RetryCount++
	next.LastError = ""
	next.ProviderRef = ""
	updated, err := d.store.Update(ctx, tenant, next, current.Status)
	if err != nil {
		return core.Notification{}, err
	}
	d.record(ctx, tenant, audit.ActionNotificationRetried, updated, nil)
	return d.schedule(ctx, updated), nil
}

// MarkDelivered moves a sent notification to delivered. Delivered ones are
// returned unchanged.
func (d *Dispatcher) MarkDelivered(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	current, err := d.store.Get(ctx, tenant, id)
	if err != nil {
		return core.Notification{}, err
	}
	if current.Status == core.NotificationStatusDelivered {
		return current, nil
	}
	return d.UpdateStatus(ctx, tenant, id, core.NotificationStatusDelivered, "")
}

func (d *Dispatcher) schedule(ctx context.Context, notification core.Notification) core.Notification {
	if d.offer(notification) {
		return notification
	}
	return d.deliver(ctx, notification)
}

// deliver sends a pending notification and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, notification core.Notification) (out core.Notification) {
	startedAt := time.Now()
	var err error
	defer func() {
		d.observer.Operation(ctx, startedAt, "notification_send", err, map[string]any{
			"tenant_id":       notification.TenantID.String(),
			"notification_id": notification.ID,
			"channel":         string(notification.Channel),
			"status":          string(out.Status),
		})
	}()

	sender := d.senders[notification.Channel]
	var providerRef string
	if sender == nil {
		err = fmt.Errorf("notify: no sender for channel %s", notification.Channel)
	} else {
		providerRef, err = sender.Send(ctx, notification)
	}

	next := notification
	action := audit.ActionNotificationSent
	if err != nil {
		next.Status = core.NotificationStatusFailed
		next.LastError = err.Error()
		action = audit.ActionNotificationFailed
	} else {
		next.Status = core.NotificationStatusSent
		next.ProviderRef = providerRef
	}
	persistCtx := context.WithoutCancel(ctx)
	updated, updateErr := d.store.Update(persistCtx, notification.TenantID, next, core.NotificationStatusPending)
	if updateErr != nil {
		d.observer.Error(ctx, "notify: persist send outcome failed", map[string]any{
			"notification_id": notification.ID,
			"error":           updateErr.Error(),
		})
		return notification
	}
	var details map[string]any
	if err != nil {
		details = map[string]any{"error": err.Error()}
	}
	d.record(persistCtx, notification.TenantID, action, updated, details)
	d.observer.Counter(ctx, "broker.notifications.total", 1, map[string]string{
		"channel": string(notification.Channel),
		"status":  string(updated.Status),
	})
	return updated
}

func (d *Dispatcher) record(ctx context.Context, tenant core.TenantID, action string, notification core.Notification, extra map[string]any) {
	details := map[string]any{
		"notification_id": notification.ID,
		"channel":         string(notification.Channel),
		"status":          string(notification.Status),
		"retry_count":     notification.RetryCount,
	}
	for key, value := range extra {
		details[key] = value
	}
	if err := d.audit.Record(ctx, tenant, action, details); err != nil {
		d.observer.Error(ctx, "notify: audit write failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func (d *Dispatcher) offer(notification core.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return false
	}
	select {
	case d.queue <- notification:
		return true
	default:
		return false
	}
}

// Start launches the sender pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("notify: dispatcher already started")
	}
	queue := make(chan core.Notification, d.queueSize)
	d.queue = queue
	d.running = true
	for range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for notification := range queue {
				d.deliver(ctx, notification)
			}
		}()
	}
	return nil
}

// Shutdown stops accepting work and drains queued notifications until ctx
// expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
