package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/notify"
	"github.com/goliatone/go-integration-broker/oauth"
	"github.com/goliatone/go-integration-broker/query"
	"github.com/goliatone/go-integration-broker/webhooks"
)

type WebhookAccepted struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

type rotateSecretRequest struct {
	Secret    string `json:"secret"`
	AccountID string `json:"accountId"`
}

type startOAuthRequest struct {
	Scopes []string `json:"scopes"`
}

type notificationStatusRequest struct {
	Status core.NotificationStatus `json:"status"`
	Reason string                  `json:"reason"`
}

type subscriptionRequest struct {
	Provider  core.Provider `json:"provider"`
	EventType string        `json:"eventType"`
	Target    string        `json:"target"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.cfg.Webhooks.Process(r.Context(), webhooks.Request{
		Provider: provider,
		Path:     r.URL.Path,
		Headers:  r.Header,
		Body:     body,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": result.Challenge})
		return
	}
	writeJSON(w, http.StatusAccepted, WebhookAccepted{Status: "accepted", EventID: result.EventID})
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Queries.ListIntegrations.Query(r.Context(), query.ListIntegrationsMessage{
		Tenant: tenantFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[query.Integration]{Items: items})
}

func (s *Server) handleStartOAuth(w http.ResponseWriter, r *http.Request) {
	provider, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req startOAuthRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := command.Run[command.StartOAuthMessage, oauth.StartResult](r.Context(), s.cfg.Commands.StartOAuth, command.StartOAuthMessage{
		Tenant:   tenantFrom(r.Context()),
		Provider: provider,
		Scopes:   req.Scopes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params := r.URL.Query()
	if providerErr := strings.TrimSpace(params.Get("error")); providerErr != "" {
		s.writeError(w, r, core.NewError(core.ErrorOAuthExchangeFailed, "provider denied authorization: "+providerErr))
		return
	}
	out, err := command.Run[command.CompleteOAuthMessage, oauth.CallbackResult](r.Context(), s.cfg.Commands.CompleteOAuth, command.CompleteOAuthMessage{
		Tenant:   tenantFrom(r.Context()),
		Provider: provider,
		State:    params.Get("state"),
		Code:     params.Get("code"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	provider, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rotateSecretRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := command.Run[command.RotateWebhookSecretMessage, core.RotatedWebhookSecret](r.Context(), s.cfg.Commands.RotateWebhookSecret, command.RotateWebhookSecretMessage{
		Tenant:    tenantFrom(r.Context()),
		Provider:  provider,
		Secret:    req.Secret,
		AccountID: req.AccountID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	provider, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var decision approval.Decision
	if err := s.decode(r, &decision); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := command.Run[command.RecordApprovalMessage, approval.Result](r.Context(), s.cfg.Commands.RecordApproval, command.RecordApprovalMessage{
		Tenant:   tenantFrom(r.Context()),
		Provider: provider,
		Decision: decision,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if out.Repeated {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *Server) handleEnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req notify.Request
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := command.Run[command.EnqueueNotificationMessage, core.Notification](r.Context(), s.cfg.Commands.EnqueueNotification, command.EnqueueNotificationMessage{
		Tenant:     tenantFrom(r.Context()),
		Channel:    req.Channel,
		Subject:    req.Subject,
		Body:       req.Body,
		Metadata:   req.Metadata,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	out, err := s.cfg.Queries.GetNotification.Query(r.Context(), query.GetNotificationMessage{
		Tenant:         tenantFrom(r.Context()),
		NotificationID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNotificationStatus(w http.ResponseWriter, r *http.Request) {
	var req notificationStatusRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := command.Run[command.UpdateNotificationStatusMessage, core.Notification](r.Context(), s.cfg.Commands.UpdateNotificationStatus, command.UpdateNotificationStatusMessage{
		Tenant:         tenantFrom(r.Context()),
		NotificationID: chi.URLParam(r, "id"),
		Status:         req.Status,
		Reason:         req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryNotification(w http.ResponseWriter, r *http.Request) {
	out, err := command.Run[command.RetryNotificationMessage, core.Notification](r.Context(), s.cfg.Commands.RetryNotification, command.RetryNotificationMessage{
		Tenant:         tenantFrom(r.Context()),
		NotificationID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := core.EventFilter{
		EventType: strings.TrimSpace(params.Get("eventType")),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := strings.TrimSpace(params.Get("provider")); raw != "" {
		provider, parseErr := core.ParseProvider(raw)
		if parseErr != nil {
			s.writeError(w, r, core.NewValidationError("provider", "unsupported provider"))
			return
		}
		filter.Provider = provider
	}
	out, err := s.cfg.Queries.ListEvents.Query(r.Context(), query.ListEventsMessage{
		Tenant: tenantFrom(r.Context()),
		Filter: filter,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	out, err := s.cfg.Queries.GetEvent.Query(r.Context(), query.GetEventMessage{
		Tenant:  tenantFrom(r.Context()),
		EventID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	out, err := command.Run[command.RedeliverEventMessage, core.DispatchRecord](r.Context(), s.cfg.Commands.RedeliverEvent, command.RedeliverEventMessage{
		Tenant:  tenantFrom(r.Context()),
		EventID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Queries.ListSubscriptions.Query(r.Context(), query.ListSubscriptionsMessage{
		Tenant: tenantFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[core.Subscription]{Items: items})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = core.WildcardEventType
	}
	out, err := command.Run[command.CreateSubscriptionMessage, core.Subscription](r.Context(), s.cfg.Commands.CreateSubscription, command.CreateSubscriptionMessage{
		Tenant:    tenantFrom(r.Context()),
		Provider:  req.Provider,
		EventType: eventType,
		Target:    req.Target,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	out, err := s.cfg.Queries.GetSubscription.Query(r.Context(), query.GetSubscriptionMessage{
		Tenant:         tenantFrom(r.Context()),
		SubscriptionID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Commands.DeleteSubscription.Execute(r.Context(), command.DeleteSubscriptionMessage{
		Tenant:         tenantFrom(r.Context()),
		SubscriptionID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.cfg.Queries.ListAudit.Query(r.Context(), query.ListAuditMessage{
		Tenant: tenantFrom(r.Context()),
		Filter: core.AuditFilter{
			Action: strings.TrimSpace(r.URL.Query().Get("action")),
			Limit:  limit,
			Offset: offset,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// readBody reads at most MaxBodyBytes; larger payloads are rejected before
// any verification work.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, core.WrapError(err, core.ErrorBadInput, "read request body")
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return nil, core.NewError(core.ErrorBadInput, "payload too large").WithCode(http.StatusRequestEntityTooLarge)
	}
	return body, nil
}

// decode accepts an empty body as the zero value of dst.
func (s *Server) decode(r *http.Request, dst any) error {
	body, err := s.readBody(r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return core.NewBadInputError(fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset))
		}
		return core.NewBadInputError("malformed JSON body")
	}
	return nil
}

func pageParams(r *http.Request) (int, int, error) {
	params := r.URL.Query()
	limit, err := intParam(params.Get("limit"), "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := intParam(params.Get("offset"), "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(raw string, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, core.NewValidationError(field, field+" must be a non-negative integer")
	}
	return value, nil
}
