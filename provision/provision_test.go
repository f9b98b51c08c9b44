package provision

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/capstan-ci/capstan/cloud"
)

// --- Mock provider ---

type mockProvider struct {
	listFunc   func(ctx context.Context) (cloud.Availability, error)
	launchFunc func(ctx context.Context, req cloud.LaunchRequest) ([]string, error)
	statusFunc func(ctx context.Context, id string) (cloud.InstanceStatus, error)

	mu       sync.Mutex
	launches []cloud.LaunchRequest
	statuses []string
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) ListAvailability(ctx context.Context) (cloud.Availability, error) {
	if p.listFunc != nil {
		return p.listFunc(ctx)
	}
	return cloud.Availability{}, nil
}

func (p *mockProvider) Launch(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
	p.mu.Lock()
	p.launches = append(p.launches, req)
	p.mu.Unlock()

	if p.launchFunc != nil {
		return p.launchFunc(ctx, req)
	}
	return []string{"i-0"}, nil
}

func (p *mockProvider) Status(ctx context.Context, id string) (cloud.InstanceStatus, error) {
	p.mu.Lock()
	p.statuses = append(p.statuses, id)
	p.mu.Unlock()

	if p.statusFunc != nil {
		return p.statusFunc(ctx, id)
	}
	return cloud.InstanceStatus{State: cloud.StateActive, Address: "198.51.100.1"}, nil
}

func (p *mockProvider) Terminate(ctx context.Context, ids []string) error {
	return nil
}

func (p *mockProvider) getLaunches() []cloud.LaunchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]cloud.LaunchRequest, len(p.launches))
	copy(result, p.launches)
	return result
}

// --- Mock reporter ---

type mockReporter struct {
	mu        sync.Mutex
	fallbacks []string
	exhausted int
}

func (r *mockReporter) CapacityFallback(option cloud.ResourceOption, next string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, option.String())
}

func (r *mockReporter) AllExhausted(attempts []LaunchAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func apiError(code, message string) *cloud.APIError {
	return &cloud.APIError{Code: code, Message: message}
}
