package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integration-broker/core"
)

func TestClient_PostJSONSendsHeadersAndReturnsErrorStatuses(t *testing.T) {
	var received map[string]any
	var correlation string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlation = r.Header.Get("X-Correlation-ID")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"busy"}`))
	}))
	defer server.Close()

	client := NewClient(server.Client())
	res, err := client.PostJSON(context.Background(), server.URL, http.Header{"X-Correlation-ID": {"corr-1"}}, map[string]any{"hello": "world"}, time.Second)
	if err != nil {
		t.Fatalf("expected error status to be returned as a response, got %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if correlation != "corr-1" || received["hello"] != "world" {
		t.Fatalf("unexpected request %q %+v", correlation, received)
	}
	if Snippet(res.Body) != `{"error":"busy"}` {
		t.Fatalf("unexpected snippet %q", Snippet(res.Body))
	}
}

func TestClient_TimeoutIsDownstreamUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(server.Client()).Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorDownstreamUnavailable || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("unexpected error %q / %q", rich.TextCode, rich.Category)
	}
	if !IsTransportFailure(err) {
		t.Fatalf("expected transport failure")
	}
}

func TestClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(nil).Do(context.Background(), Request{URL: "/v1/triggers"})
	if !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected BAD_INPUT, got %v", err)
	}
	if IsTransportFailure(err) {
		t.Fatalf("bad input is not a transport failure")
	}
}
