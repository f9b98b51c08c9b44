// Package lambdacloud implements cloud.Provider against a Lambda-style GPU
// cloud REST API. Capacity there is constrained and often unavailable, which
// is exactly what the provisioning engine's fallback search is for.
package lambdacloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/capstan-ci/capstan/cloud"
)

const DefaultBaseURL = "https://cloud.lambdalabs.com/api/v1"

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// Client implements cloud.Provider
var _ cloud.Provider = (*Client)(nil)

func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) Name() string {
	return "lambda"
}

type apiErrorBody struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion"`
		RetryAfter int    `json:"retry_after"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiError turns a non-2xx response into a structured cloud.APIError,
// picking up a server-suggested delay from the body or the Retry-After
// header.
func (c *Client) apiError(resp *http.Response, payload []byte) error {
	apiErr := &cloud.APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
	}

	var body apiErrorBody
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Message != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.RetryAfter = time.Duration(body.Error.RetryAfter) * time.Second
	}
	if apiErr.RetryAfter == 0 {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return apiErr
}

// ListAvailability reports, per instance type, the regions with capacity
// available right now.
func (c *Client) ListAvailability(ctx context.Context) (cloud.Availability, error) {
	var out struct {
		Data map[string]struct {
			RegionsWithCapacityAvailable []struct {
				Name string `json:"name"`
			} `json:"regions_with_capacity_available"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance-types", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list instance types: %w", err)
	}

	availability := make(cloud.Availability, len(out.Data))
	for class, info := range out.Data {
		regions := make([]string, 0, len(info.RegionsWithCapacityAvailable))
		for _, region := range info.RegionsWithCapacityAvailable {
			regions = append(regions, region.Name)
		}
		availability[class] = regions
	}
	return availability, nil
}

func (c *Client) Launch(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
	payload := map[string]any{
		"instance_type_name": req.Class,
		"region_name":        req.Region,
		"ssh_key_names":      req.SSHKeyNames,
		"quantity":           req.Count,
	}
	if req.Name != "" {
		payload["name"] = req.Name
	}

	var out struct {
		Data struct {
			InstanceIDs []string `json:"instance_ids"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/instance-operations/launch", payload, &out); err != nil {
		return nil, err
	}
	return out.Data.InstanceIDs, nil
}

func (c *Client) Status(ctx context.Context, instanceID string) (cloud.InstanceStatus, error) {
	var out struct {
		Data struct {
			Status   string `json:"status"`
			IP       string `json:"ip"`
			Hostname string `json:"hostname"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/instances/"+instanceID, nil, &out); err != nil {
		return cloud.InstanceStatus{}, err
	}

	return cloud.InstanceStatus{
		State:     stateFromStatus(out.Data.Status),
		RawStatus: out.Data.Status,
		Address:   out.Data.IP,
		Hostname:  out.Data.Hostname,
	}, nil
}

func stateFromStatus(status string) cloud.State {
	switch status {
	case "active":
		return cloud.StateActive
	case "booting":
		return cloud.StateBooting
	case "terminating":
		return cloud.StateTerminating
	case "terminated":
		return cloud.StateTerminated
	default:
		return cloud.StateUnknown
	}
}

func (c *Client) Terminate(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	payload := map[string]any{"instance_ids": instanceIDs}
	if err := c.do(ctx, http.MethodPost, "/instance-operations/terminate", payload, nil); err != nil {
		return fmt.Errorf("failed to terminate instances: %w", err)
	}
	return nil
}

// SSHKey is a public key registered with the backend.
type SSHKey struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListSSHKeys returns the SSH keys registered in the account, used by the
// CLI to validate plan files before launching anything.
func (c *Client) ListSSHKeys(ctx context.Context) ([]SSHKey, error) {
	var out struct {
		Data []SSHKey `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/ssh-keys", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list ssh keys: %w", err)
	}
	return out.Data, nil
}
