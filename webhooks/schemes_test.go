package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func hexHMAC(secret []byte, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// signedHeaders returns the headers a provider would send for body.
func signedHeaders(provider core.Provider, secret []byte, body []byte, at time.Time) http.Header {
	headers := http.Header{}
	switch provider {
	case core.ProviderSlack:
		timestamp := strconv.FormatInt(at.Unix(), 10)
		headers.Set(HeaderSlackTimestamp, timestamp)
		headers.Set(HeaderSlackSignature, "v0="+hexHMAC(secret, []byte("v0:"+timestamp+":"+string(body))))
	case core.ProviderGitHub:
		headers.Set(HeaderHubSignature, "sha256="+hexHMAC(secret, body))
	default:
		headers.Set(HeaderSignature, hexHMAC(secret, body))
	}
	return headers
}

func signatureHeader(provider core.Provider) string {
	switch provider {
	case core.ProviderSlack:
		return HeaderSlackSignature
	case core.ProviderGitHub:
		return HeaderHubSignature
	}
	return HeaderSignature
}

func TestVerifier_SingleByteFlipsInvalidateEveryScheme(t *testing.T) {
	secret := []byte("whsec-test")
	body := []byte(`{"event":"push","id":"d-1"}`)
	verifier := NewVerifier(WithClock(func() time.Time { return fixedNow }))

	for _, provider := range core.SupportedProviders() {
		t.Run(provider.String(), func(t *testing.T) {
			headers := signedHeaders(provider, secret, body, fixedNow)
			if err := verifier.Verify(provider, secret, headers, body); err != nil {
				t.Fatalf("expected valid signature, got %v", err)
			}

			for i := range body {
				flipped := append([]byte(nil), body...)
				flipped[i] ^= 0x01
				if err := verifier.Verify(provider, secret, headers, flipped); err == nil {
					t.Fatalf("expected body flip at %d to be rejected", i)
				}
			}

			name := signatureHeader(provider)
			signature := headers.Get(name)
			for i := range len(signature) {
				flipped := []byte(signature)
				flipped[i] ^= 0x01
				tampered := headers.Clone()
				tampered.Set(name, string(flipped))
				if err := verifier.Verify(provider, secret, tampered, body); err == nil {
					t.Fatalf("expected signature flip at %d to be rejected", i)
				}
			}

			if err := verifier.Verify(provider, []byte("other-secret"), headers, body); !errors.Is(err, ErrSignatureMismatch) {
				t.Fatalf("expected wrong secret to mismatch, got %v", err)
			}
		})
	}
}

func TestVerifier_MissingSignatureIsRejected(t *testing.T) {
	verifier := NewVerifier(WithClock(func() time.Time { return fixedNow }))
	body := []byte(`{}`)
	headers := http.Header{}
	headers.Set(HeaderSlackTimestamp, strconv.FormatInt(fixedNow.Unix(), 10))
	for _, provider := range core.SupportedProviders() {
		if err := verifier.Verify(provider, []byte("secret"), headers, body); err == nil {
			t.Fatalf("expected %s without signature to be rejected", provider)
		}
	}
}

func TestVerifier_SlackTimestampOutsideSkewIsRejected(t *testing.T) {
	secret := []byte("slack-secret")
	body := []byte(`{"type":"event_callback"}`)
	verifier := NewVerifier(
		WithClock(func() time.Time { return fixedNow }),
		WithTimestampSkew(5*time.Minute),
	)

	fresh := signedHeaders(core.ProviderSlack, secret, body, fixedNow.Add(-4*time.Minute))
	if err := verifier.Verify(core.ProviderSlack, secret, fresh, body); err != nil {
		t.Fatalf("expected timestamp within skew to verify, got %v", err)
	}
	for _, at := range []time.Time{fixedNow.Add(-6 * time.Minute), fixedNow.Add(6 * time.Minute)} {
		stale := signedHeaders(core.ProviderSlack, secret, body, at)
		if err := verifier.Verify(core.ProviderSlack, secret, stale, body); !errors.Is(err, ErrStaleTimestamp) {
			t.Fatalf("expected stale timestamp at %s, got %v", at, err)
		}
		if err := verifier.Precheck(core.ProviderSlack, stale); !errors.Is(err, ErrStaleTimestamp) {
			t.Fatalf("expected precheck to reject stale timestamp, got %v", err)
		}
	}
}

func TestVerifier_GitHubRequiresPrefixedSignature(t *testing.T) {
	secret := []byte("gh-secret")
	body := []byte(`{"event":"push"}`)
	headers := http.Header{}
	headers.Set(HeaderHubSignature, hexHMAC(secret, body))
	if err := NewVerifier().Verify(core.ProviderGitHub, secret, headers, body); err == nil {
		t.Fatalf("expected unprefixed github signature to be rejected")
	}

	generic := http.Header{}
	generic.Set(HeaderSignature, "sha256="+hexHMAC(secret, body))
	if err := NewVerifier().Verify(core.ProviderJira, secret, generic, body); err != nil {
		t.Fatalf("expected optional prefix to be accepted, got %v", err)
	}
}
