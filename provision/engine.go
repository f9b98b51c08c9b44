package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/capstan-ci/capstan/cloud"
	"github.com/capstan-ci/capstan/namegen"
)

// Reporter receives human-facing events from the engine. Implementations
// must be best-effort: a reporting failure never fails the run.
type Reporter interface {
	// CapacityFallback announces that option failed and what the search
	// tries next (empty when nothing remains).
	CapacityFallback(option cloud.ResourceOption, next string)
	// AllExhausted announces that the whole run produced zero grants,
	// with the complete ledger.
	AllExhausted(attempts []LaunchAttempt)
}

type noopReporter struct{}

func (noopReporter) CapacityFallback(cloud.ResourceOption, string) {}
func (noopReporter) AllExhausted([]LaunchAttempt)                  {}

// TokenSource hands out single-use runner registration tokens. The engine
// treats tokens as opaque.
type TokenSource interface {
	RegistrationTokens(ctx context.Context, count int) ([]string, error)
}

// Identity is one requested runner: a display name for the instance and the
// registration token it will consume.
type Identity struct {
	Name  string
	Token string
}

// RunnerGrant is the outcome of one identity's successful provisioning.
// Created only on success; an identity either produces exactly one grant or
// contributes its attempts to a terminal failure.
type RunnerGrant struct {
	Identity   Identity
	InstanceID string
	Option     cloud.ResourceOption
	// Label is the generated registration label unique to this runner.
	Label string
	// Attempts is the slice of ledger rows consumed to reach success.
	Attempts []LaunchAttempt
}

// Config tunes one provisioning run.
type Config struct {
	// InstanceTypes and Regions are ranked preference lists; their order is
	// never changed by the engine.
	InstanceTypes []string
	Regions       []string
	SSHKeyNames   []string

	// SkipFilter disables the pre-flight availability query and uses the
	// full cross-product.
	SkipFilter bool

	// RetryCeiling is the number of tries per option under rate limiting
	// before advancing. Defaults to 3.
	RetryCeiling int
	// BaseDelay is the backoff base; try n sleeps max(BaseDelay·2^(n-1),
	// server hint). Defaults to 1s.
	BaseDelay time.Duration

	Logger   *slog.Logger
	Reporter Reporter
	Metrics  *Metrics
}

// Engine walks the candidate options per identity, launching instances and
// recovering from capacity and rate-limit failures. One engine owns one run
// and its ledger.
type Engine struct {
	provider cloud.Provider
	config   Config
	ledger   *Ledger
	log      *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(provider cloud.Provider, config Config) *Engine {
	if config.RetryCeiling <= 0 {
		config.RetryCeiling = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Reporter == nil {
		config.Reporter = noopReporter{}
	}

	return &Engine{
		provider: provider,
		config:   config,
		ledger:   &Ledger{},
		log:      config.Logger.With("provider", provider.Name()),
		sleep:    sleepContext,
	}
}

// Ledger exposes the run's attempt record, read-only via Snapshot.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Run provisions one instance per identity, in order. It returns the grants
// obtained; the error is non-nil when the caller input is invalid, the
// context is done, or zero grants were produced. Partial success (some
// grants, some exhausted identities) returns the grants with a nil error;
// whether that is acceptable is the caller's decision. Already-launched
// instances are never rolled back.
func (e *Engine) Run(ctx context.Context, identities []Identity) ([]RunnerGrant, error) {
	if len(identities) == 0 {
		return nil, &ConfigurationError{Message: "no runner identities requested"}
	}
	if len(e.config.InstanceTypes) == 0 {
		return nil, &ConfigurationError{Message: "no instance types provided"}
	}
	if len(e.config.Regions) == 0 {
		return nil, &ConfigurationError{Message: "no regions provided"}
	}
	for _, identity := range identities {
		if identity.Token == "" {
			return nil, &ConfigurationError{Message: fmt.Sprintf("runner %q has no registration token", identity.Name)}
		}
	}

	options := Candidates(e.config.InstanceTypes, e.config.Regions)
	if !e.config.SkipFilter {
		filtered := FilterAvailable(ctx, e.provider, e.config.InstanceTypes, e.config.Regions, e.log)
		if len(filtered) == 0 {
			// Pre-flight total exhaustion: no launch calls are made, but the
			// ledger still gets one row per candidate for reporting symmetry.
			for _, option := range options {
				e.ledger.Append(LaunchAttempt{Option: option, Try: 1, Error: "no capacity (pre-check)"})
				e.config.Metrics.countAttempt(KindCapacity.String())
			}
			attempts := e.ledger.Snapshot()
			e.config.Reporter.AllExhausted(attempts)
			return nil, &CapacityExhaustedError{Attempts: attempts}
		}
		e.log.Debug("Availability filter narrowed candidate list", "before", len(options), "after", len(filtered))
		options = filtered
	}

	var grants []RunnerGrant
	for _, identity := range identities {
		grant, err := e.provisionOne(ctx, identity, options)
		switch {
		case err == nil:
			grants = append(grants, grant)
			e.config.Metrics.countGrant()

		case errors.Is(err, errIdentityExhausted):
			e.log.Warn("No option yielded an instance for runner", "runner", identity.Name)

		default:
			// Configuration errors and cancellation unwind the whole run;
			// grants already obtained are preserved, not rolled back.
			return grants, err
		}
	}

	if len(grants) == 0 {
		attempts := e.ledger.Snapshot()
		e.config.Reporter.AllExhausted(attempts)
		return nil, &CapacityExhaustedError{Attempts: attempts}
	}
	return grants, nil
}

// errIdentityExhausted is internal: one identity ran out of options without
// aborting the run.
var errIdentityExhausted = errors.New("options exhausted for identity")

func (e *Engine) provisionOne(ctx context.Context, identity Identity, options []cloud.ResourceOption) (RunnerGrant, error) {
	start := e.ledger.Len()
	log := e.log.With("runner", identity.Name)

	for i, option := range options {
		for try := 1; ; try++ {
			if err := ctx.Err(); err != nil {
				return RunnerGrant{}, err
			}

			log.Info("Launching instance", "type", option.Class, "region", option.Region, "try", try)
			ids, err := e.provider.Launch(ctx, cloud.LaunchRequest{
				Class:       option.Class,
				Region:      option.Region,
				Count:       1,
				Name:        identity.Name,
				SSHKeyNames: e.config.SSHKeyNames,
			})

			if err == nil {
				if len(ids) == 0 {
					err = &cloud.APIError{Message: "backend returned no instance ids"}
				} else {
					e.ledger.Append(LaunchAttempt{
						Runner:     identity.Name,
						Option:     option,
						Try:        try,
						Success:    true,
						InstanceID: ids[0],
					})
					e.config.Metrics.countAttempt("success")
					log.Info("Launched instance", "instance", ids[0], "type", option.Class, "region", option.Region)

					snapshot := e.ledger.Snapshot()
					return RunnerGrant{
						Identity:   identity,
						InstanceID: ids[0],
						Option:     option,
						Label:      namegen.Get().String(),
						Attempts:   snapshot[start:],
					}, nil
				}
			}

			c := Classify(err)
			e.ledger.Append(LaunchAttempt{
				Runner: identity.Name,
				Option: option,
				Try:    try,
				Error:  c.Message,
			})
			e.config.Metrics.countAttempt(c.Kind.String())

			if c.Kind == KindRateLimit && try < e.config.RetryCeiling {
				delay := e.config.BaseDelay << (try - 1)
				if c.RetryAfter > delay {
					delay = c.RetryAfter
				}
				log.Debug("Rate limited, retrying same option", "type", option.Class, "region", option.Region, "try", try, "delay", delay)
				if err := e.sleep(ctx, delay); err != nil {
					return RunnerGrant{}, err
				}
				continue
			}

			if c.Kind == KindConfiguration {
				log.Error("Launch failed with configuration error", "error", c.Message)
				return RunnerGrant{}, &ConfigurationError{Message: c.Message}
			}

			// Capacity, unknown, or rate-limit ceiling: move to the next
			// option, never retry this one for this identity.
			next := nextOptionHint(options, i)
			log.Warn("Option failed, falling through", "kind", c.Kind.String(), "type", option.Class, "region", option.Region, "next", next, "error", c.Message)
			e.config.Reporter.CapacityFallback(option, next)
			break
		}
	}

	return RunnerGrant{}, errIdentityExhausted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
