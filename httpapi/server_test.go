package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/query"
	"github.com/goliatone/go-integration-broker/ratelimit"
	"github.com/goliatone/go-integration-broker/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-a"

type fakeProcessor struct {
	calls  []webhooks.Request
	result webhooks.Result
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, req webhooks.Request) (webhooks.Result, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

type fakeIntegrations struct {
	tenant core.TenantID
}

func (f *fakeIntegrations) ListIntegrations(_ context.Context, tenant core.TenantID) ([]query.Integration, error) {
	f.tenant = tenant
	return []query.Integration{{Provider: core.ProviderSlack, Connected: true}}, nil
}

type fakeSubscriptions struct {
	deleted []string
	created []core.Subscription
}

func (f *fakeSubscriptions) CreateSubscription(_ context.Context, tenant core.TenantID, sub core.Subscription) (core.Subscription, error) {
	sub.ID = "sub-1"
	sub.TenantID = tenant
	f.created = append(f.created, sub)
	return sub, nil
}

func (f *fakeSubscriptions) DeleteSubscription(_ context.Context, _ core.TenantID, id string) error {
	if id == "missing" {
		return core.NewNotFoundError("subscription not found")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	server    *Server
	processor *fakeProcessor
	audit     *audit.MemoryStore
	subs      *fakeSubscriptions
	reader    *fakeIntegrations
}

func newFixture(t *testing.T, limiter Limiter, maxBody int64) fixture {
	t.Helper()
	store := audit.NewMemoryStore()
	recorder, err := audit.NewRecorder(store, nil)
	require.NoError(t, err)

	processor := &fakeProcessor{}
	subs := &fakeSubscriptions{}
	reader := &fakeIntegrations{}
	server, err := New(Config{
		Commands: command.Set{
			CreateSubscription: command.NewCreateSubscriptionCommand(subs),
			DeleteSubscription: command.NewDeleteSubscriptionCommand(subs),
		},
		Queries: query.Set{
			ListIntegrations: query.NewListIntegrationsQuery(reader),
		},
		Webhooks:     processor,
		Limiter:      limiter,
		Audit:        recorder,
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		MaxBodyBytes: maxBody,
	})
	require.NoError(t, err)
	return fixture{server: server, processor: processor, audit: store, subs: subs, reader: reader}
}

func (f fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func tenantHeader() map[string]string {
	return map[string]string{DefaultTenantHeader: testTenant}
}

func TestNewRequiresWebhookProcessorAndAudit(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Webhooks: &fakeProcessor{}})
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestWebhookAcceptedReturns202WithEventID(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.processor.result = webhooks.Result{StatusCode: http.StatusAccepted, EventID: "evt-1", DispatchID: "d-1"}

	rec := f.do(t, http.MethodPost, "/webhooks/jira", `{"event":"push"}`, map[string]string{"X-Signature": "abc"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted","eventId":"evt-1"}`, rec.Body.String())
	require.Len(t, f.processor.calls, 1)
	call := f.processor.calls[0]
	assert.Equal(t, core.ProviderJira, call.Provider)
	assert.Equal(t, "/webhooks/jira", call.Path)
	assert.Equal(t, `{"event":"push"}`, string(call.Body))
	assert.Equal(t, "abc", call.Headers.Get("X-Signature"))
}

func TestWebhookSlackChallengeEchoed(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.processor.result = webhooks.Result{StatusCode: http.StatusOK, Challenge: "c-123"}

	rec := f.do(t, http.MethodPost, "/webhooks/slack", `{"type":"url_verification"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"c-123"}`, rec.Body.String())
}

func TestWebhookErrorsUseEnvelope(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"replay", core.NewReplayDetectedError("delivery already processed"), http.StatusConflict, core.ErrorReplayDetected},
		{"signature", core.NewSignatureInvalidError("bad signature"), http.StatusUnauthorized, core.ErrorSignatureInvalid},
		{"no secret", core.NewNoSecretConfiguredError("no secret"), http.StatusForbidden, core.ErrorNoSecretConfigured},
		{"rate limited", core.NewRateLimitedError("slow down"), http.StatusTooManyRequests, core.ErrorRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, 0)
			f.processor.err = tc.err

			rec := f.do(t, http.MethodPost, "/webhooks/github", `{}`, nil)

			require.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.code, body.Code)
			assert.Equal(t, tc.status, body.Status)
		})
	}
}

func TestInternalErrorsAreMaskedInEnvelope(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.processor.err = core.NewStorageError(errors.New("pq: connection refused to 10.0.0.7"), "append event").
		WithMetadata(map[string]any{"table": "normalized_events"})

	rec := f.do(t, http.MethodPost, "/webhooks/github", `{}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, core.ErrorStorage, body.Code)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.Equal(t, "internal error", body.Message)
	assert.Empty(t, body.Details)
	assert.NotEmpty(t, body.RequestID)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestWebhookUnknownProviderIsNotFound(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodPost, "/webhooks/gitlab", `{}`, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.ErrorNotFound, decodeError(t, rec).Code)
	assert.Empty(t, f.processor.calls)
}

func TestWebhookBodyOverLimitRejected(t *testing.T) {
	f := newFixture(t, nil, 8)

	rec := f.do(t, http.MethodPost, "/webhooks/github", `{"event":"push"}`, nil)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, core.ErrorBadInput, decodeError(t, rec).Code)
	assert.Empty(t, f.processor.calls)
}

func TestManagementRequiresTenantHeader(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodGet, "/v1/integrations", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, core.ErrorAuth, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/integrations", "", map[string]string{DefaultTenantHeader: "bad tenant!"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	unresolved := core.TenantID{}.AuditTenant()
	assert.Equal(t, 2, f.audit.Count(unresolved, audit.ActionAuthRejected))
	assert.True(t, f.reader.tenant.IsZero())
}

func TestReservedAuditTenantHeaderIsRejected(t *testing.T) {
	f := newFixture(t, nil, 0)

	for _, value := range []string{core.UnresolvedTenant, "Unresolved"} {
		rec := f.do(t, http.MethodGet, "/v1/audit", "", map[string]string{DefaultTenantHeader: value})
		require.Equal(t, http.StatusUnauthorized, rec.Code, value)
		assert.Equal(t, core.ErrorAuth, decodeError(t, rec).Code)
	}
	assert.Equal(t, 2, f.audit.Count(core.TenantID{}.AuditTenant(), audit.ActionAuthRejected))
}

func TestListIntegrationsScopedToHeaderTenant(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodGet, "/v1/integrations", "", tenantHeader())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testTenant, f.reader.tenant.String())
	var body struct {
		Items []query.Integration `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, core.ProviderSlack, body.Items[0].Provider)
}

func TestSubscriptionCreateDefaultsWildcardAndDelete(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodPost, "/v1/subscriptions", `{"provider":"github","target":"wf-1"}`, tenantHeader())
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.subs.created, 1)
	assert.Equal(t, core.WildcardEventType, f.subs.created[0].EventType)

	rec = f.do(t, http.MethodDelete, "/v1/subscriptions/sub-1", "", tenantHeader())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sub-1"}, f.subs.deleted)

	rec = f.do(t, http.MethodDelete, "/v1/subscriptions/missing", "", tenantHeader())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedJSONIsBadInput(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodPost, "/v1/subscriptions", `{"provider":`, tenantHeader())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, core.ErrorBadInput, decodeError(t, rec).Code)
	assert.Empty(t, f.subs.created)
}

func TestInvalidPageParamsRejected(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodGet, "/v1/audit?limit=-1", "", tenantHeader())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, core.ErrorBadInput, body.Code)
	require.NotEmpty(t, body.Validation)
	assert.Equal(t, "limit", body.Validation[0].Field)
}

func TestManagementRateLimitedPerTenantAndRoute(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter, err := ratelimit.NewTenantLimiter(ratelimit.Config{
		RequestsPerSecond: 1,
		Burst:             1,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)
	f := newFixture(t, limiter, 0)

	rec := f.do(t, http.MethodGet, "/v1/integrations", "", tenantHeader())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/integrations", "", tenantHeader())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, core.ErrorRateLimited, decodeError(t, rec).Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// other tenants keep their own bucket
	rec = f.do(t, http.MethodGet, "/v1/integrations", "", map[string]string{DefaultTenantHeader: "tenant-b"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// path parameters share the route bucket
	rec = f.do(t, http.MethodDelete, "/v1/subscriptions/a", "", tenantHeader())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/v1/subscriptions/b", "", tenantHeader())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUnknownRouteIsNotFoundEnvelope(t *testing.T) {
	f := newFixture(t, nil, 0)

	rec := f.do(t, http.MethodGet, "/nope", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.ErrorNotFound, decodeError(t, rec).Code)
}
