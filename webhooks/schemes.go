package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

const (
	HeaderSlackSignature = "X-Slack-Signature"
	HeaderSlackTimestamp = "X-Slack-Request-Timestamp"
	HeaderHubSignature   = "X-Hub-Signature-256"
	HeaderSignature      = "X-Webhook-Signature"

	slackSignatureVersion = "v0"
	sha256Prefix          = "sha256="
)

var (
	ErrSignatureMissing  = errors.New("webhooks: signature header is missing")
	ErrSignatureMismatch = errors.New("webhooks: signature does not match")
	ErrStaleTimestamp    = errors.New("webhooks: request timestamp outside the allowed skew")
	ErrUnknownScheme     = errors.New("webhooks: no verification scheme for provider")
)

// Scheme verifies one provider's signature format against a secret.
type Scheme interface {
	Verify(secret []byte, headers http.Header, body []byte) error
}

// slackScheme signs "v0:<timestamp>:<body>" and bounds the timestamp skew.
type slackScheme struct {
	skew time.Duration
	now  func() time.Time
}

func (s slackScheme) Verify(secret []byte, headers http.Header, body []byte) error {
	if err := s.CheckTimestamp(headers); err != nil {
		return err
	}
	signature := strings.TrimSpace(headers.Get(HeaderSlackSignature))
	version, digest, ok := strings.Cut(signature, "=")
	if !ok || version != slackSignatureVersion || digest == "" {
		return ErrSignatureMissing
	}
	timestamp := strings.TrimSpace(headers.Get(HeaderSlackTimestamp))
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(slackSignatureVersion + ":" + timestamp + ":"))
	_, _ = mac.Write(body)
	return compareHex(digest, mac.Sum(nil))
}

// CheckTimestamp rejects requests whose timestamp is outside the skew window,
// independently of the signature.
func (s slackScheme) CheckTimestamp(headers http.Header) error {
	raw := strings.TrimSpace(headers.Get(HeaderSlackTimestamp))
	if raw == "" {
		return fmt.Errorf("%w: %s header is missing", ErrStaleTimestamp, HeaderSlackTimestamp)
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrStaleTimestamp)
	}
	deviation := s.now().Sub(time.Unix(seconds, 0))
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > s.skew {
		return ErrStaleTimestamp
	}
	return nil
}

// bodyHMACScheme is a hex HMAC-SHA256 over the raw body in one header, with
// an optional "sha256=" prefix.
type bodyHMACScheme struct {
	header        string
	requirePrefix bool
}

func (s bodyHMACScheme) Verify(secret []byte, headers http.Header, body []byte) error {
	signature := strings.TrimSpace(headers.Get(s.header))
	if s.requirePrefix {
		if !strings.HasPrefix(signature, sha256Prefix) {
			return ErrSignatureMissing
		}
	}
	signature = strings.TrimPrefix(signature, sha256Prefix)
	if signature == "" {
		return ErrSignatureMissing
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return compareHex(signature, mac.Sum(nil))
}

func compareHex(signature string, expected []byte) error {
	decoded, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(decoded, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// Verifier resolves the scheme of a provider by table lookup.
type Verifier struct {
	schemes map[core.Provider]Scheme
}

type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	skew time.Duration
	now  func() time.Time
}

func WithTimestampSkew(skew time.Duration) VerifierOption {
	return func(o *verifierOptions) {
		if skew > 0 {
			o.skew = skew
		}
	}
}

func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func NewVerifier(opts ...VerifierOption) *Verifier {
	options := verifierOptions{
		skew: 5 * time.Minute,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &Verifier{schemes: map[core.Provider]Scheme{
		core.ProviderSlack:  slackScheme{skew: options.skew, now: options.now},
		core.ProviderGitHub: bodyHMACScheme{header: HeaderHubSignature, requirePrefix: true},
		core.ProviderGoogle: bodyHMACScheme{header: HeaderSignature},
		core.ProviderJira:   bodyHMACScheme{header: HeaderSignature},
	}}
}

// Verify returns nil when the request is authentic for secret.
func (v *Verifier) Verify(provider core.Provider, secret []byte, headers http.Header, body []byte) error {
	scheme, ok := v.schemes[provider]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownScheme, provider)
	}
	if len(secret) == 0 {
		return ErrSignatureMismatch
	}
	return scheme.Verify(secret, headers, body)
}

// Precheck runs the secret-independent checks of a provider's scheme.
func (v *Verifier) Precheck(provider core.Provider, headers http.Header) error {
	scheme, ok := v.schemes[provider]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownScheme, provider)
	}
	if checker, ok := scheme.(interface{ CheckTimestamp(http.Header) error }); ok {
		return checker.CheckTimestamp(headers)
	}
	return nil
}
