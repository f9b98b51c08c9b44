package ec2

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/capstan-ci/capstan/cloud"
)

// mapError translates native EC2 API error codes to canonical cloud.APIError
// codes so the classifier stays backend-agnostic. Non-API errors pass
// through unchanged.
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return &cloud.APIError{
		Code:    canonicalCode(apiErr.ErrorCode()),
		Message: apiErr.ErrorMessage(),
	}
}

func canonicalCode(code string) string {
	switch {
	case code == "InsufficientInstanceCapacity" || code == "InsufficientCapacity" || code == "Unsupported":
		return cloud.CodeInsufficientCapacity
	case code == "RequestLimitExceeded" || strings.Contains(code, "Throttl"):
		return cloud.CodeRateLimit
	case code == "InvalidInstanceType" || strings.HasPrefix(code, "InvalidParameterValue"):
		return cloud.CodeInvalidInstanceType
	case strings.HasPrefix(code, "InvalidAMIID"):
		// AMIs are configured per region, so a bad AMI is caller input.
		return cloud.CodeInvalidRegion
	case strings.HasPrefix(code, "InvalidKeyPair"):
		return cloud.CodeInvalidSSHKey
	case code == "AuthFailure" || code == "UnauthorizedOperation" || code == "OptInRequired":
		return cloud.CodeAuthentication
	case code == "VcpuLimitExceeded" || code == "InstanceLimitExceeded" || code == "MaxSpotInstanceCountExceeded":
		return cloud.CodeQuotaExceeded
	case strings.HasSuffix(code, ".NotFound"):
		return cloud.CodeNotFound
	default:
		return strings.ToLower(code)
	}
}
