package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryInvalidInput     Category = "invalid_input"
	CategoryVerification     Category = "verification_failed"
	CategoryPolicyBlocked    Category = "policy_blocked"
	CategoryConsentDenied    Category = "consent_denied"
	CategoryConsentTimeout   Category = "consent_timeout"
	CategoryIOFailure        Category = "io_failure"
	CategoryNetworkTransient Category = "network_transient"
	CategoryNetworkPermanent Category = "network_permanent"
	CategoryInternalFailure  Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

// Configuration reports missing or contradictory client settings. It is returned
// before any consent request is built.
func Configuration(code, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), CategoryInvalidInput, code, "check ACP_* environment variables or client options", false)
}

// Transport classifies a failure to reach a channel. Status codes of 5xx and 429
// are retryable, everything else is permanent.
func Transport(cause error, statusCode int) error {
	if cause == nil {
		return nil
	}
	if statusCode == 0 || statusCode == 429 || statusCode >= 500 {
		return Wrap(cause, CategoryNetworkTransient, "transport_unavailable", "retry once the channel is reachable", true)
	}
	return Wrap(cause, CategoryNetworkPermanent, "transport_rejected", "check the endpoint URL and credentials", false)
}

// Cancelled classifies a caller abandoning a pending consent request. The
// action must be treated as not approved.
func Cancelled(cause error) error {
	return Wrap(cause, CategoryConsentTimeout, "consent_cancelled", "the caller stopped waiting; the action was not approved", false)
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}
