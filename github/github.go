// Package github is the token-issuing side of the CI platform: it mints
// single-use runner registration tokens, resolves the runner release to
// install, and waits for runners to register. The provisioning engine only
// sees it through provision.TokenSource.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capstan-ci/capstan/provision"
)

const DefaultBaseURL = "https://api.github.com"

type Client struct {
	token   string
	repo    string
	baseURL string
	http    *http.Client
}

// Client implements provision.TokenSource
var _ provision.TokenSource = (*Client)(nil)

// New builds a client for the given owner/name repository, authenticated
// with a personal access token.
func New(token, repo string) *Client {
	return &Client{
		token:   token,
		repo:    repo,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// RegistrationTokens mints count single-use registration tokens, one per
// requested runner.
func (c *Client) RegistrationTokens(ctx context.Context, count int) ([]string, error) {
	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var out struct {
			Token string `json:"token"`
		}
		path := fmt.Sprintf("/repos/%s/actions/runners/registration-token", c.repo)
		if err := c.do(ctx, http.MethodPost, path, &out); err != nil {
			return nil, fmt.Errorf("failed to create registration token: %w", err)
		}
		tokens = append(tokens, out.Token)
	}
	return tokens, nil
}

// LatestRunnerRelease resolves the download URL of the latest runner
// release tarball for the given platform and architecture (e.g. "linux",
// "x64").
func (c *Client) LatestRunnerRelease(ctx context.Context, platform, arch string) (string, error) {
	var out struct {
		Assets []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/actions/runner/releases/latest", &out); err != nil {
		return "", fmt.Errorf("failed to fetch latest runner release: %w", err)
	}

	want := fmt.Sprintf("%s-%s", platform, arch)
	for _, asset := range out.Assets {
		if strings.Contains(asset.Name, want) && strings.HasSuffix(asset.Name, ".tar.gz") {
			return asset.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("no runner release asset found for %s", want)
}

// WaitForRunner polls until a runner carrying the given label is registered
// with the repository, or the timeout elapses.
func (c *Client) WaitForRunner(ctx context.Context, label string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		registered, err := c.runnerRegistered(ctx, label)
		if err != nil {
			return err
		}
		if registered {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("runner %q did not register within %s", label, timeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) runnerRegistered(ctx context.Context, label string) (bool, error) {
	var out struct {
		Runners []struct {
			Labels []struct {
				Name string `json:"name"`
			} `json:"labels"`
		} `json:"runners"`
	}
	path := fmt.Sprintf("/repos/%s/actions/runners?per_page=100", c.repo)
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return false, fmt.Errorf("failed to list runners: %w", err)
	}

	for _, runner := range out.Runners {
		for _, l := range runner.Labels {
			if l.Name == label {
				return true, nil
			}
		}
	}
	return false, nil
}
