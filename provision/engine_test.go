package provision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstan-ci/capstan/cloud"
)

func testEngine(provider *mockProvider, config Config) (*Engine, *[]time.Duration) {
	if config.Logger == nil {
		config.Logger = testLogger()
	}
	engine := New(provider, config)

	var sleeps []time.Duration
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return engine, &sleeps
}

func testIdentities(names ...string) []Identity {
	identities := make([]Identity, len(names))
	for i, name := range names {
		identities[i] = Identity{Name: name, Token: "tok-" + name}
	}
	return identities
}

func TestRunFirstOptionSucceeds(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			return []string{"i-1234"}, nil
		},
	}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100", "h100"},
		Regions:       []string{"us-east", "us-west"},
		SkipFilter:    true,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	require.Len(t, grants, 1)

	assert.Equal(t, "i-1234", grants[0].InstanceID)
	assert.Equal(t, cloud.ResourceOption{Class: "a100", Region: "us-east"}, grants[0].Option)
	assert.NotEmpty(t, grants[0].Label)
	assert.Equal(t, "tok-runner-0", grants[0].Identity.Token)

	launches := provider.getLaunches()
	require.Len(t, launches, 1)
	assert.Equal(t, 1, launches[0].Count)
	assert.Equal(t, "runner-0", launches[0].Name)

	attempts := engine.Ledger().Snapshot()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "i-1234", attempts[0].InstanceID)
}

func TestRunCapacityFailureAdvancesOption(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			if req.Class == "a100" {
				return nil, apiError("insufficient-capacity", "sold out")
			}
			return []string{"i-h100"}, nil
		},
	}
	reporter := &mockReporter{}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100", "h100"},
		Regions:       []string{"us-east", "us-west"},
		SkipFilter:    true,
		Reporter:      reporter,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, cloud.ResourceOption{Class: "h100", Region: "us-east"}, grants[0].Option)

	// Each failed option is tried exactly once, in class-major order.
	launches := provider.getLaunches()
	require.Len(t, launches, 3)
	assert.Equal(t, "us-east", launches[0].Region)
	assert.Equal(t, "us-west", launches[1].Region)
	assert.Equal(t, "h100", launches[2].Class)

	assert.Equal(t, []string{"a100 in us-east", "a100 in us-west"}, reporter.fallbacks)
}

func TestRunRateLimitRetriesSameOption(t *testing.T) {
	calls := 0
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			calls++
			if calls < 3 {
				return nil, apiError("rate-limit", "throttled")
			}
			return []string{"i-0"}, nil
		},
	}
	engine, sleeps := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
		BaseDelay:     time.Second,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	require.Len(t, grants, 1)

	// Same option every time, with exponential backoff between tries.
	for _, launch := range provider.getLaunches() {
		assert.Equal(t, "a100", launch.Class)
		assert.Equal(t, "us-east", launch.Region)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestRunRateLimitHonorsServerHint(t *testing.T) {
	calls := 0
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			calls++
			if calls == 1 {
				return nil, &cloud.APIError{Code: "rate-limit", Message: "throttled", RetryAfter: 30 * time.Second}
			}
			return []string{"i-0"}, nil
		},
	}
	engine, sleeps := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
		BaseDelay:     time.Second,
	})

	_, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)

	// max(base·2^(n-1), server hint): the 30s hint wins over 1s.
	assert.Equal(t, []time.Duration{30 * time.Second}, *sleeps)
}

func TestRunRateLimitCeilingAdvancesOption(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			if req.Region == "us-east" {
				return nil, apiError("rate-limit", "throttled")
			}
			return []string{"i-0"}, nil
		},
	}
	engine, sleeps := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east", "us-west"},
		SkipFilter:    true,
		RetryCeiling:  3,
		BaseDelay:     time.Second,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "us-west", grants[0].Option.Region)

	// Three tries on us-east (two backoffs), then advance.
	assert.Len(t, provider.getLaunches(), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestRunConfigurationErrorAbortsRun(t *testing.T) {
	calls := 0
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			calls++
			if calls == 1 {
				return []string{"i-first"}, nil
			}
			return nil, apiError("authentication-error", "bad credentials")
		},
	}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100", "h100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0", "runner-1"))

	// The first grant survives the abort; no further options are tried.
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, confErr.Message, "bad credentials")
	require.Len(t, grants, 1)
	assert.Equal(t, "i-first", grants[0].InstanceID)
	assert.Len(t, provider.getLaunches(), 2)
}

func TestRunUnknownErrorAdvancesOption(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			if req.Region == "us-east" {
				return nil, apiError("mystery-code", "something odd")
			}
			return []string{"i-0"}, nil
		},
	}
	reporter := &mockReporter{}
	engine, sleeps := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east", "us-west"},
		SkipFilter:    true,
		Reporter:      reporter,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	require.Len(t, grants, 1)

	// Unknown behaves like capacity: no retry, no sleep, but the fallback is
	// still announced.
	assert.Empty(t, *sleeps)
	assert.Equal(t, []string{"a100 in us-east"}, reporter.fallbacks)
}

func TestRunAllOptionsExhausted(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			return nil, apiError("insufficient-capacity", "sold out")
		},
	}
	reporter := &mockReporter{}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100", "h100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
		Reporter:      reporter,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))

	var exhausted *CapacityExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, grants)
	assert.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, 1, reporter.exhausted)
	assert.Contains(t, err.Error(), "a100")
	assert.Contains(t, err.Error(), "h100")
}

func TestRunPartialSuccessIsNotAnError(t *testing.T) {
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			if req.Name == "runner-0" {
				return []string{"i-0"}, nil
			}
			return nil, apiError("insufficient-capacity", "sold out")
		},
	}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0", "runner-1"))
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestRunPreCheckExhaustion(t *testing.T) {
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			return cloud.Availability{}, nil
		},
	}
	reporter := &mockReporter{}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100", "h100"},
		Regions:       []string{"us-east"},
		Reporter:      reporter,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0"))

	var exhausted *CapacityExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, grants)
	assert.Empty(t, provider.getLaunches())
	assert.Equal(t, 1, reporter.exhausted)

	// No launch call was made, yet each candidate still gets a ledger row.
	attempts := engine.Ledger().Snapshot()
	require.Len(t, attempts, 2)
	for _, attempt := range attempts {
		assert.Equal(t, "no capacity (pre-check)", attempt.Error)
	}
}

func TestRunSkipFilterBypassesAvailability(t *testing.T) {
	listed := false
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			listed = true
			return cloud.Availability{}, nil
		},
	}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
	})

	_, err := engine.Run(context.Background(), testIdentities("runner-0"))
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestRunValidatesInput(t *testing.T) {
	provider := &mockProvider{}
	var confErr *ConfigurationError

	engine, _ := testEngine(provider, Config{InstanceTypes: []string{"a100"}, Regions: []string{"us-east"}})
	_, err := engine.Run(context.Background(), nil)
	assert.ErrorAs(t, err, &confErr)

	engine, _ = testEngine(provider, Config{Regions: []string{"us-east"}})
	_, err = engine.Run(context.Background(), testIdentities("runner-0"))
	assert.ErrorAs(t, err, &confErr)

	engine, _ = testEngine(provider, Config{InstanceTypes: []string{"a100"}})
	_, err = engine.Run(context.Background(), testIdentities("runner-0"))
	assert.ErrorAs(t, err, &confErr)

	engine, _ = testEngine(provider, Config{InstanceTypes: []string{"a100"}, Regions: []string{"us-east"}})
	_, err = engine.Run(context.Background(), []Identity{{Name: "runner-0"}})
	assert.ErrorAs(t, err, &confErr)
	assert.Empty(t, provider.getLaunches())
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &mockProvider{}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east"},
		SkipFilter:    true,
	})

	_, err := engine.Run(ctx, testIdentities("runner-0"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.getLaunches())
}

func TestRunGrantAttemptsAreScopedPerRunner(t *testing.T) {
	calls := 0
	provider := &mockProvider{
		launchFunc: func(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
			calls++
			// First runner fails once before succeeding; second succeeds
			// immediately.
			if calls == 1 {
				return nil, apiError("insufficient-capacity", "sold out")
			}
			return []string{"i-" + req.Name}, nil
		},
	}
	engine, _ := testEngine(provider, Config{
		InstanceTypes: []string{"a100"},
		Regions:       []string{"us-east", "us-west"},
		SkipFilter:    true,
	})

	grants, err := engine.Run(context.Background(), testIdentities("runner-0", "runner-1"))
	require.NoError(t, err)
	require.Len(t, grants, 2)

	assert.Len(t, grants[0].Attempts, 2)
	assert.Len(t, grants[1].Attempts, 1)
	assert.Equal(t, 3, engine.Ledger().Len())
}
