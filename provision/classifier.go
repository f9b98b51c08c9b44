package provision

import (
	"errors"
	"strings"
	"time"

	"github.com/capstan-ci/capstan/cloud"
)

// ErrorKind is the closed set of semantic launch failure kinds the engine
// branches on.
type ErrorKind int

const (
	// KindCapacity: no inventory for this option. Retry with a different
	// option, never the same one.
	KindCapacity ErrorKind = iota
	// KindRateLimit: transient throttling. Retry the same option after a
	// backoff delay.
	KindRateLimit
	// KindConfiguration: caller input is invalid. Aborts the entire run.
	KindConfiguration
	// KindUnknown: non-retryable for this option, surfaced as a generic
	// failure; does not abort the run unless no options remain.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindCapacity:
		return "capacity"
	case KindRateLimit:
		return "rate-limit"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Classification is the outcome of classifying one launch failure.
type Classification struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is the server-suggested delay for rate limits, zero if the
	// backend did not suggest one.
	RetryAfter time.Duration
}

var capacityCodes = map[string]bool{
	"insufficient-capacity": true,
	"insufficient_capacity": true,
	"no-capacity":           true,
	"no_capacity":           true,
}

var rateLimitCodes = map[string]bool{
	"rate-limit":        true,
	"rate_limit":        true,
	"too-many-requests": true,
	"too_many_requests": true,
}

var configurationCodes = map[string]bool{
	"invalid-instance-type": true,
	"invalid_instance_type": true,
	"invalid-region":        true,
	"invalid_region":        true,
	"authentication-error":  true,
	"authentication_error":  true,
	"quota-exceeded":        true,
	"quota_exceeded":        true,
	"invalid-ssh-key":       true,
	"invalid_ssh_key":       true,
}

// Classify maps a raw launch error to exactly one ErrorKind plus a
// human-readable message. Pure and side-effect-free.
//
// The machine-readable code is normalized (lower-case, spaces to hyphens)
// and matched against the fixed code sets first; unrecognized codes fall
// back to a substring search on the message, which protects against backend
// code drift.
func Classify(err error) Classification {
	var apiErr *cloud.APIError
	if !errors.As(err, &apiErr) {
		return Classification{Kind: KindUnknown, Message: err.Error()}
	}

	code := strings.ReplaceAll(strings.ToLower(apiErr.Code), " ", "-")
	message := apiErr.Message
	if message == "" {
		message = apiErr.Error()
	}

	switch {
	case capacityCodes[code] || strings.Contains(strings.ToLower(message), "capacity"):
		return Classification{Kind: KindCapacity, Message: message}
	case rateLimitCodes[code] || strings.Contains(strings.ToLower(message), "rate"):
		return Classification{Kind: KindRateLimit, Message: message, RetryAfter: apiErr.RetryAfter}
	case configurationCodes[code]:
		return Classification{Kind: KindConfiguration, Message: message}
	default:
		return Classification{Kind: KindUnknown, Message: message}
	}
}
