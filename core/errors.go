package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuth                         = "AUTH_ERROR"
	ErrorSignatureInvalid             = "SIGNATURE_INVALID"
	ErrorNoSecretConfigured           = "NO_SECRET_CONFIGURED"
	ErrorReplayDetected               = "REPLAY_DETECTED"
	ErrorRateLimited                  = "RATE_LIMITED"
	ErrorOAuthStateMismatch           = "OAUTH_STATE_MISMATCH"
	ErrorOAuthExchangeFailed          = "OAUTH_EXCHANGE_FAILED"
	ErrorEncryption                   = "ENCRYPTION_ERROR"
	ErrorDownstreamUnavailable        = "DOWNSTREAM_UNAVAILABLE"
	ErrorStorage                      = "STORAGE_ERROR"
	ErrorBadInput                     = "BAD_INPUT"
	ErrorNotFound                     = "NOT_FOUND"
	ErrorNotificationRetriesExhausted = "NOTIFICATION_RETRIES_EXHAUSTED"
	ErrorInvalidTransition            = "INVALID_TRANSITION"
	ErrorInternal                     = "INTERNAL"
)

var errorCategories = map[string]goerrors.Category{
	ErrorAuth:                         goerrors.CategoryAuth,
	ErrorSignatureInvalid:             goerrors.CategoryAuth,
	ErrorNoSecretConfigured:           goerrors.CategoryAuthz,
	ErrorReplayDetected:               goerrors.CategoryConflict,
	ErrorRateLimited:                  goerrors.CategoryRateLimit,
	ErrorOAuthStateMismatch:           goerrors.CategoryAuth,
	ErrorOAuthExchangeFailed:          goerrors.CategoryExternal,
	ErrorEncryption:                   goerrors.CategoryInternal,
	ErrorDownstreamUnavailable:        goerrors.CategoryExternal,
	ErrorStorage:                      goerrors.CategoryInternal,
	ErrorBadInput:                     goerrors.CategoryBadInput,
	ErrorNotFound:                     goerrors.CategoryNotFound,
	ErrorNotificationRetriesExhausted: goerrors.CategoryConflict,
	ErrorInvalidTransition:            goerrors.CategoryConflict,
	ErrorInternal:                     goerrors.CategoryInternal,
}

var errorStatuses = map[string]int{
	ErrorAuth:                         http.StatusUnauthorized,
	ErrorSignatureInvalid:             http.StatusUnauthorized,
	ErrorNoSecretConfigured:           http.StatusForbidden,
	ErrorReplayDetected:               http.StatusConflict,
	ErrorRateLimited:                  http.StatusTooManyRequests,
	ErrorOAuthStateMismatch:           http.StatusBadRequest,
	ErrorOAuthExchangeFailed:          http.StatusBadGateway,
	ErrorEncryption:                   http.StatusInternalServerError,
	ErrorDownstreamUnavailable:        http.StatusServiceUnavailable,
	ErrorStorage:                      http.StatusInternalServerError,
	ErrorBadInput:                     http.StatusBadRequest,
	ErrorNotFound:                     http.StatusNotFound,
	ErrorNotificationRetriesExhausted: http.StatusConflict,
	ErrorInvalidTransition:            http.StatusConflict,
	ErrorInternal:                     http.StatusInternalServerError,
}

// NewError builds a broker error for one of the Error* text codes.
func NewError(textCode string, message string) *goerrors.Error {
	category, ok := errorCategories[textCode]
	if !ok {
		category = goerrors.CategoryInternal
	}
	return goerrors.New(message, category).
		WithCode(statusForTextCode(textCode, category)).
		WithTextCode(textCode)
}

// WrapError wraps source under a broker text code. The text code of the
// result is always textCode, even when source already carries one.
func WrapError(source error, textCode string, message string) *goerrors.Error {
	if source == nil {
		return nil
	}
	category, ok := errorCategories[textCode]
	if !ok {
		category = goerrors.CategoryInternal
	}
	wrapped := goerrors.New(message, category)
	wrapped.Source = source
	return wrapped.
		WithCode(statusForTextCode(textCode, category)).
		WithTextCode(textCode)
}

func NewAuthError(message string) *goerrors.Error {
	return NewError(ErrorAuth, message)
}

func NewSignatureInvalidError(message string) *goerrors.Error {
	return NewError(ErrorSignatureInvalid, message)
}

func NewNoSecretConfiguredError(message string) *goerrors.Error {
	return NewError(ErrorNoSecretConfigured, message)
}

func NewReplayDetectedError(message string) *goerrors.Error {
	return NewError(ErrorReplayDetected, message)
}

func NewRateLimitedError(message string) *goerrors.Error {
	return NewError(ErrorRateLimited, message)
}

func NewOAuthStateMismatchError(message string) *goerrors.Error {
	return NewError(ErrorOAuthStateMismatch, message)
}

func NewOAuthExchangeFailedError(source error, message string) *goerrors.Error {
	if source == nil {
		return NewError(ErrorOAuthExchangeFailed, message)
	}
	return WrapError(source, ErrorOAuthExchangeFailed, message)
}

func NewEncryptionError(source error, message string) *goerrors.Error {
	if source == nil {
		return NewError(ErrorEncryption, message)
	}
	return WrapError(source, ErrorEncryption, message)
}

func NewDownstreamUnavailableError(message string) *goerrors.Error {
	return NewError(ErrorDownstreamUnavailable, message)
}

func NewStorageError(source error, message string) *goerrors.Error {
	if source == nil {
		return NewError(ErrorStorage, message)
	}
	if IsErrorCode(source, ErrorNotFound) || IsErrorCode(source, ErrorStorage) {
		return asBrokerError(source)
	}
	return WrapError(source, ErrorStorage, message)
}

func NewBadInputError(message string) *goerrors.Error {
	return NewError(ErrorBadInput, message)
}

func NewValidationError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

func NewNotFoundError(message string) *goerrors.Error {
	return NewError(ErrorNotFound, message)
}

// ErrorTextCode returns the broker text code carried by err, if any.
func ErrorTextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(richErr.TextCode)
	}
	return ""
}

func IsErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// MapError converts any error into the broker error envelope used by the HTTP
// surface and the audit log.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	switch {
	case errors.Is(err, ErrInvalidTenantID):
		return NewAuthError(err.Error())
	case errors.Is(err, ErrUnknownProvider):
		return NewNotFoundError(err.Error())
	case errors.Is(err, ErrInvalidNotificationStatusTransition):
		return NewError(ErrorInvalidTransition, err.Error())
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func asBrokerError(err error) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return MapError(err)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" || err.TextCode == "INTERNAL_ERROR" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Code == 0 {
		err.Code = statusForTextCode(err.TextCode, err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuth
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorDownstreamUnavailable
	default:
		return ErrorInternal
	}
}

func statusForTextCode(textCode string, category goerrors.Category) int {
	if status, ok := errorStatuses[textCode]; ok {
		return status
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
