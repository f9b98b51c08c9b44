package openstack

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gophercloud/gophercloud"

	"github.com/capstan-ci/capstan/cloud"
)

// mapError translates gophercloud response errors to canonical
// cloud.APIError codes. Nova reports capacity exhaustion as a "no valid
// host" fault rather than a dedicated code, hence the message sniffing.
func mapError(err error) error {
	var statusErr gophercloud.StatusCodeError
	if !errors.As(err, &statusErr) {
		return err
	}

	status := statusErr.GetStatusCode()
	message := err.Error()
	apiErr := &cloud.APIError{
		StatusCode: status,
		Message:    message,
	}

	switch {
	case strings.Contains(message, "No valid host"):
		apiErr.Code = cloud.CodeInsufficientCapacity
	case status == http.StatusTooManyRequests:
		apiErr.Code = cloud.CodeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Code = cloud.CodeAuthentication
	case status == http.StatusRequestEntityTooLarge:
		// Nova's OverLimit quota response.
		apiErr.Code = cloud.CodeQuotaExceeded
	case status == http.StatusNotFound:
		apiErr.Code = cloud.CodeNotFound
	case status == http.StatusBadRequest:
		apiErr.Code = cloud.CodeInvalidInstanceType
	}
	return apiErr
}
