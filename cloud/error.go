package cloud

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Canonical machine-readable error codes. Providers translate their native
// failure codes to these so classification stays backend-agnostic.
const (
	CodeInsufficientCapacity = "insufficient-capacity"
	CodeRateLimit            = "rate-limit"
	CodeInvalidInstanceType  = "invalid-instance-type"
	CodeInvalidRegion        = "invalid-region"
	CodeAuthentication       = "authentication-error"
	CodeQuotaExceeded        = "quota-exceeded"
	CodeInvalidSSHKey        = "invalid-ssh-key"
	CodeNotFound             = "not-found"
)

// APIError is a structured backend failure: a machine-readable code, a
// human-readable message, the transport status code, and an optional
// server-suggested retry delay.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a backend "no such instance" response.
// The readiness poller treats this as "still provisioning".
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == CodeNotFound
	}
	return false
}
