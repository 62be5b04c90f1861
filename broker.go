// Package broker wires the integration broker: credential vault, OAuth
// broker, webhook verification, replay guard, trigger and notification
// dispatch, rate limiting and the audit log.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/adapters/gojob"
	"github.com/goliatone/go-integration-broker/adapters/gologger"
	promrecorder "github.com/goliatone/go-integration-broker/adapters/prometheus"
	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/dispatch"
	"github.com/goliatone/go-integration-broker/notify"
	"github.com/goliatone/go-integration-broker/oauth"
	"github.com/goliatone/go-integration-broker/ratelimit"
	"github.com/goliatone/go-integration-broker/replay"
	"github.com/goliatone/go-integration-broker/security"
	"github.com/goliatone/go-integration-broker/transport"
	"github.com/goliatone/go-integration-broker/webhooks"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig builds a validated Config from BROKER_ environment variables
// with runtime overrides layered on top.
func LoadConfig(ctx context.Context, overrides map[string]any) (Config, error) {
	return core.LoadConfig(ctx, core.NewEnvConfigLoader(), core.StaticConfigLoader(overrides))
}

type Option func(*options)

type options struct {
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	metrics        core.MetricsRecorder
	client         *persistence.Client
	memory         bool
	httpClient     *http.Client
	now            func() time.Time
	jobEnqueuer    queue.Enqueuer
	jobDequeuer    queue.Dequeuer
	jobPolicy      gojob.RetryPolicy
}

func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithMetrics replaces the built-in Prometheus recorder. /metrics is only
// served when the recorder is a Prometheus recorder.
func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithPersistenceClient uses an already opened and migrated database.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithMemoryStores keeps all state in process memory.
func WithMemoryStores() Option {
	return func(o *options) {
		o.memory = true
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithJobQueue routes sweeper redeliveries through a go-job queue and runs a
// redelivery worker on its deliveries.
func WithJobQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy gojob.RetryPolicy) Option {
	return func(o *options) {
		o.jobEnqueuer = enqueuer
		o.jobDequeuer = dequeuer
		o.jobPolicy = policy
	}
}

// Broker owns every component and implements the command and query
// services the HTTP surface and CLI run against.
type Broker struct {
	cfg      Config
	observer *core.Observer
	metrics  *promrecorder.Recorder
	now      func() time.Time
	stores   *stores

	recorder   *audit.Recorder
	vault      *security.Vault
	oauth      *oauth.Broker
	guard      *replay.Guard
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Dispatcher
	approvals  *approval.Service
	limiter    *ratelimit.TenantLimiter
	processor  *webhooks.Processor
	worker     *gojob.RedeliveryWorker
	facade     *Facade
	handler    http.Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	b := &Broker{cfg: cfg, now: o.now}
	metrics := o.metrics
	if metrics == nil {
		b.metrics = promrecorder.NewRecorder()
		metrics = b.metrics
	} else if recorder, ok := metrics.(*promrecorder.Recorder); ok {
		b.metrics = recorder
	}
	b.observer = gologger.NewObserver(cfg.ServiceName, o.loggerProvider, o.logger, metrics)

	var err error
	if b.stores, err = openStores(ctx, cfg, o); err != nil {
		return nil, err
	}
	if err := b.build(o); err != nil {
		_ = b.stores.close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) build(o options) error {
	var err error
	cfg := b.cfg
	if b.recorder, err = audit.NewRecorder(b.stores.audit, b.observer); err != nil {
		return err
	}

	keyring, err := security.NewKeyringFromConfig(cfg.Security)
	if err != nil {
		return err
	}
	if b.vault, err = security.NewVault(security.VaultConfig{
		Credentials: b.stores.credentials,
		Secrets:     b.stores.secrets,
		Candidates:  b.stores.candidates,
		Cipher:      keyring,
		Observer:    b.observer,
		Now:         b.now,
	}); err != nil {
		return err
	}

	providers := map[core.Provider]core.ProviderConfig{}
	for _, provider := range core.SupportedProviders() {
		if providerCfg := cfg.Provider(provider); providerCfg.OAuthConfigured() {
			providers[provider] = providerCfg
		}
	}
	if b.oauth, err = oauth.NewBroker(oauth.Config{
		Providers:    providers,
		States:       b.stores.states,
		Vault:        b.vault,
		Audit:        b.recorder,
		HTTPClient:   o.httpClient,
		StateTTL:     cfg.OAuth.StateTTL,
		Timeout:      cfg.OAuth.ExchangeTimeout,
		RetryBackoff: cfg.OAuth.ExchangeRetryBackoff,
		Observer:     b.observer,
		Now:          b.now,
	}); err != nil {
		return err
	}

	if b.guard, err = replay.NewGuard(replay.Config{
		Store:     b.stores.replay,
		Retention: cfg.Replay.Retention,
		Observer:  b.observer,
		Now:       b.now,
	}); err != nil {
		return err
	}

	client := transport.NewClient(o.httpClient)
	var jobs core.RedeliveryQueue
	if o.jobEnqueuer != nil {
		jobs = gojob.NewQueue(o.jobEnqueuer)
	}
	if b.dispatcher, err = dispatch.New(dispatch.Config{
		Orchestrator:  cfg.Orchestrator,
		Dispatches:    b.stores.dispatches,
		Events:        b.stores.events,
		Subscriptions: b.stores.subscriptions,
		Audit:         b.recorder,
		Client:        client,
		Jobs:          jobs,
		Observer:      b.observer,
		Now:           b.now,
	}); err != nil {
		return err
	}
	if o.jobDequeuer != nil {
		source := gojob.NewSource(o.jobDequeuer)
		if b.worker, err = gojob.NewRedeliveryWorker(source, b.dispatcher, o.jobPolicy, gojob.ObserverHook{Observer: b.observer}); err != nil {
			return err
		}
	}

	if b.notifier, err = notify.New(notify.Config{
		Store: b.stores.notifications,
		Senders: map[core.NotificationChannel]notify.Sender{
			core.NotificationChannelSlack: &notify.SlackSender{
				Tokens:  b.oauth,
				Client:  client,
				APIURL:  cfg.Notifications.SlackAPIURL,
				Timeout: cfg.Notifications.Timeout,
			},
			core.NotificationChannelWebhook: &notify.WebhookSender{
				Client:  client,
				Timeout: cfg.Notifications.Timeout,
			},
		},
		Audit:             b.recorder,
		Observer:          b.observer,
		DefaultMaxRetries: cfg.Notifications.DefaultMaxRetries,
		Workers:           cfg.Notifications.Workers,
		QueueSize:         cfg.Notifications.QueueSize,
	}); err != nil {
		return err
	}

	if b.approvals, err = approval.NewService(b.notifier, b.stores.events, b.dispatcher, b.recorder); err != nil {
		return err
	}

	limiterCfg := ratelimit.ConfigFrom(cfg.RateLimit)
	limiterCfg.Audit = b.recorder
	limiterCfg.Observer = b.observer
	limiterCfg.Now = b.now
	if b.limiter, err = ratelimit.NewTenantLimiter(limiterCfg); err != nil {
		return err
	}

	verifier := webhooks.NewVerifier(
		webhooks.WithTimestampSkew(cfg.Webhooks.TimestampSkew),
		webhooks.WithClock(b.now),
	)
	if b.processor, err = webhooks.NewProcessor(webhooks.ProcessorConfig{
		Resolver:  webhooks.NewResolver(b.vault, verifier),
		Limiter:   b.limiter,
		Replay:    b.guard,
		Events:    b.stores.events,
		Submitter: b.dispatcher,
		Audit:     b.recorder,
		Observer:  b.observer,
		Now:       b.now,
	}); err != nil {
		return err
	}

	if b.facade, err = NewFacade(b); err != nil {
		return err
	}
	return b.buildHandler()
}

func (b *Broker) Config() Config {
	return b.cfg
}

func (b *Broker) Facade() *Facade {
	return b.facade
}

// Handler is the broker's HTTP surface.
func (b *Broker) Handler() http.Handler {
	return b.handler
}

// ProcessWebhook runs one inbound delivery through the webhook pipeline.
func (b *Broker) ProcessWebhook(ctx context.Context, req webhooks.Request) (webhooks.Result, error) {
	return b.processor.Process(ctx, req)
}

// Start seeds bootstrap secrets and launches the background workers. ctx
// bounds their lifetime; Shutdown stops them gracefully.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("broker: already started")
	}
	if err := b.seedBootstrapSecrets(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := b.dispatcher.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := b.notifier.Start(runCtx); err != nil {
		cancel()
		_ = b.dispatcher.Shutdown(context.Background())
		return err
	}
	b.goRun(func() { b.limiter.Run(runCtx) })
	b.goRun(func() { b.guard.RunPruner(runCtx, b.cfg.Replay.PruneInterval) })
	if b.worker != nil {
		b.goRun(func() {
			if err := b.worker.Run(runCtx); err != nil {
				b.observer.Error(runCtx, "broker: redelivery worker stopped", map[string]any{"error": err.Error()})
			}
		})
	}
	b.cancel = cancel
	b.running = true
	b.observer.Info(ctx, "broker: started", map[string]any{"service": b.cfg.ServiceName})
	return nil
}

func (b *Broker) goRun(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Shutdown drains in-flight dispatches and notifications until ctx expires.
// Undispatched records stay durable for the next start.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	dispatchErr := b.dispatcher.Shutdown(ctx)
	notifyErr := b.notifier.Shutdown(ctx)
	cancel()
	b.wg.Wait()
	if dispatchErr != nil {
		return dispatchErr
	}
	return notifyErr
}

// Close shuts the broker down and releases a database it opened itself.
func (b *Broker) Close(ctx context.Context) error {
	shutdownErr := b.Shutdown(ctx)
	if err := b.stores.close(); err != nil {
		return err
	}
	return shutdownErr
}
