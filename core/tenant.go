package core

import (
	"errors"
	"fmt"
	"strings"
)

const maxTenantIDLength = 64

// UnresolvedTenant is the reserved audit tenant used when a rejected request
// could not be attributed to any tenant.
const UnresolvedTenant = "unresolved"

var ErrInvalidTenantID = errors.New("core: invalid tenant id")

// TenantID identifies the authenticated tenant of the current request. The
// zero value is not a valid tenant; values are produced by ParseTenantID only.
type TenantID struct {
	value string
}

// ParseTenantID validates a caller-supplied tenant id. The reserved
// UnresolvedTenant name is rejected in any case.
func ParseTenantID(raw string) (TenantID, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return TenantID{}, fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if strings.EqualFold(value, UnresolvedTenant) {
		return TenantID{}, fmt.Errorf("%w: %q is reserved", ErrInvalidTenantID, UnresolvedTenant)
	}
	if len(value) > maxTenantIDLength {
		return TenantID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidTenantID, maxTenantIDLength)
	}
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case i > 0 && (r == '_' || r == '-' || r == '.'):
		default:
			return TenantID{}, fmt.Errorf("%w: unexpected character %q", ErrInvalidTenantID, r)
		}
	}
	return TenantID{value: value}, nil
}

// ParseAuditTenantID reads the tenant column of a stored audit row, where
// the reserved UnresolvedTenant is a legal value.
func ParseAuditTenantID(raw string) (TenantID, error) {
	if strings.TrimSpace(raw) == UnresolvedTenant {
		return TenantID{}.AuditTenant(), nil
	}
	return ParseTenantID(raw)
}

// MustTenantID is ParseTenantID for trusted literals; it panics on invalid input.
func MustTenantID(raw string) TenantID {
	tenant, err := ParseTenantID(raw)
	if err != nil {
		panic(err)
	}
	return tenant
}

func (t TenantID) String() string {
	return t.value
}

func (t TenantID) IsZero() bool {
	return t.value == ""
}

// AuditTenant returns the tenant label used on audit rows, falling back to
// UnresolvedTenant for the zero value.
func (t TenantID) AuditTenant() TenantID {
	if t.IsZero() {
		return TenantID{value: UnresolvedTenant}
	}
	return t
}

func (t TenantID) MarshalText() ([]byte, error) {
	return []byte(t.value), nil
}

func (t *TenantID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = TenantID{}
		return nil
	}
	parsed, err := ParseTenantID(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
