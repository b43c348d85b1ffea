// Package errors defines the closed set of upstream failure kinds the
// failover controller classifies responses into (spec §7), plus the
// RelayError type the rest of the request path uses to carry one kind
// through to an HTTP status and an Anthropic-shaped error body.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind is one of the classification outcomes the controller produces for
// an upstream attempt.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindQuotaExhausted     Kind = "quota_exhausted"
	KindAuthFailed         Kind = "authentication_failed"
	KindValidationRequired Kind = "validation_required"
	KindInvalidRequest     Kind = "invalid_request"
	KindPermissionDenied   Kind = "permission_denied"
	KindServerError        Kind = "server_error"
	KindNetworkError       Kind = "network_error"
	KindTimeout            Kind = "timeout"
	KindServiceUnavailable Kind = "service_unavailable"
	KindNotImplemented     Kind = "not_implemented"
	KindEmptyResponse      Kind = "empty_response"
)

// RelayError is the one error type that crosses component boundaries in
// the request path. Everything the controller produces, and everything a
// handler turns into an HTTP response, is a *RelayError.
type RelayError struct {
	Kind         Kind
	Message      string
	Retryable    bool
	ResetMs      *int64
	AccountEmail string
	VerifyURL    string
	StatusCode   int // only set for invalid_request/permission_denied passthrough
}

func (e *RelayError) Error() string {
	return e.Message
}

// New builds a RelayError of the given kind.
func New(kind Kind, message string) *RelayError {
	return &RelayError{Kind: kind, Message: message, Retryable: retryableByDefault(kind)}
}

func retryableByDefault(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindQuotaExhausted, KindValidationRequired,
		KindServerError, KindNetworkError, KindTimeout, KindServiceUnavailable,
		KindEmptyResponse:
		return true
	default:
		return false
	}
}

// WithReset attaches a reset-time hint in milliseconds.
func (e *RelayError) WithReset(resetMs int64) *RelayError {
	e.ResetMs = &resetMs
	return e
}

// WithAccount attaches the account email the error pertains to.
func (e *RelayError) WithAccount(email string) *RelayError {
	e.AccountEmail = email
	return e
}

// WithVerifyURL attaches a re-verification URL (validation_required).
func (e *RelayError) WithVerifyURL(url string) *RelayError {
	e.VerifyURL = url
	return e
}

// ToJSON renders the Anthropic error envelope: {type:"error", error:{type,message}}.
func (e *RelayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    string(e.Kind),
			"message": e.Message,
		},
	}
}

// MarshalJSON implements json.Marshaler.
func (e *RelayError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// HTTPStatus maps a Kind to the HTTP status spec §7 assigns it.
func (e *RelayError) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindRateLimited, KindQuotaExhausted:
		return 429
	case KindAuthFailed:
		return 401
	case KindValidationRequired, KindPermissionDenied:
		return 403
	case KindInvalidRequest:
		return 400
	case KindNotImplemented:
		return 501
	case KindServiceUnavailable:
		return 503
	case KindEmptyResponse:
		return 502
	case KindServerError:
		return 502
	default:
		return 500
	}
}

// ClassifyUpstream maps an upstream HTTP status and response body to a
// Kind (spec §7). It does not attempt to parse reset times or decide
// retryability beyond the Kind's default — callers needing the precise
// reset time use the rate-limit parser alongside this.
func ClassifyUpstream(statusCode int, body string) Kind {
	lower := strings.ToLower(body)

	switch statusCode {
	case 400:
		return KindInvalidRequest
	case 401:
		return KindAuthFailed
	case 403:
		if strings.Contains(lower, "verify") || strings.Contains(lower, "re-authenticate") ||
			strings.Contains(lower, "verification") {
			return KindValidationRequired
		}
		return KindPermissionDenied
	case 404, 501:
		return KindNotImplemented
	case 429:
		if strings.Contains(lower, "quota_exhausted") || strings.Contains(lower, "quota exhausted") {
			return KindQuotaExhausted
		}
		return KindRateLimited
	case 408:
		return KindTimeout
	case 502, 503, 504, 529:
		return KindServiceUnavailable
	default:
		if statusCode >= 500 {
			return KindServerError
		}
		return KindServerError
	}
}

// IsRetryable reports whether a Kind is one the controller should retry
// (on another account, another endpoint, or after a sleep) rather than
// surface immediately.
func IsRetryable(kind Kind) bool {
	return retryableByDefault(kind)
}

// AsRelayError unwraps err into a *RelayError if it is (or wraps) one.
func AsRelayError(err error) (*RelayError, bool) {
	var re *RelayError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// FormatAPIError renders any error as the Anthropic error envelope.
func FormatAPIError(err error) map[string]interface{} {
	if re, ok := AsRelayError(err); ok {
		return re.ToJSON()
	}
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// HTTPStatusFromError returns the HTTP status for any error value.
func HTTPStatusFromError(err error) int {
	if re, ok := AsRelayError(err); ok {
		return re.HTTPStatus()
	}
	return 500
}

// ErrorWithContext prefixes err with a short description, preserving
// unwrapping.
func ErrorWithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
