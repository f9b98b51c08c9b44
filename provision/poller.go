package provision

import (
	"context"
	"log/slog"
	"time"

	"github.com/capstan-ci/capstan/cloud"
	"github.com/samber/lo"
)

// Endpoint is the reachable address of a ready instance.
type Endpoint struct {
	Address  string
	Hostname string
}

// PollerConfig tunes the readiness wait.
type PollerConfig struct {
	// Interval is the pause between sweeps; one sweep covers all pending
	// instances before sleeping once. Defaults to 5s.
	Interval time.Duration
	// Timeout bounds the whole wait. Defaults to 5m.
	Timeout time.Duration
	// LogEvery throttles unchanged-status logging per instance. Defaults
	// to 30s.
	LogEvery time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Poller waits for launched instances to become reachable. A not-found
// response while pending means "still provisioning"; any terminated or
// terminating status is fatal for the whole batch.
type Poller struct {
	provider cloud.Provider
	config   PollerConfig
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewPoller(provider cloud.Provider, config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.LogEvery <= 0 {
		config.LogEvery = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Poller{
		provider: provider,
		config:   config,
		log:      config.Logger.With("provider", provider.Name()),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Wait polls every pending instance once per sweep until all expose an
// address or the timeout elapses. On timeout the still-pending set is named
// in the error; the underlying instances are not cancelled here.
func (p *Poller) Wait(ctx context.Context, instanceIDs []string) (map[string]Endpoint, error) {
	pending := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		pending[id] = true
	}
	ready := make(map[string]Endpoint, len(instanceIDs))
	lastLogged := make(map[string]time.Time, len(instanceIDs))

	deadline := p.now().Add(p.config.Timeout)
	for len(pending) > 0 && p.now().Before(deadline) {
		p.config.Metrics.countSweep()

		for _, id := range lo.Keys(pending) {
			status, err := p.provider.Status(ctx, id)
			switch {
			case cloud.IsNotFound(err):
				// The backend has not caught up with its own launch yet.
				p.logThrottled(lastLogged, id, "not found yet")
				continue
			case err != nil:
				return ready, err
			}

			switch {
			case status.State == cloud.StateActive && status.Address != "":
				delete(pending, id)
				ready[id] = Endpoint{Address: status.Address, Hostname: status.Hostname}
				p.log.Info("Instance is ready", "instance", id, "address", status.Address)

			case status.State.Fatal():
				// An unexpected termination is unrecoverable for the batch.
				return ready, &ReadinessTerminatedError{InstanceID: id, RawStatus: status.RawStatus}

			default:
				p.logThrottled(lastLogged, id, status.RawStatus)
			}
		}

		if len(pending) > 0 {
			if err := p.sleep(ctx, p.config.Interval); err != nil {
				return ready, err
			}
		}
	}

	if len(pending) > 0 {
		return ready, &ReadinessTimeoutError{Pending: lo.Keys(pending), Timeout: p.config.Timeout}
	}
	return ready, nil
}

// logThrottled emits on first observation of an instance and thereafter at
// most once per LogEvery, even if the status is unchanged.
func (p *Poller) logThrottled(lastLogged map[string]time.Time, id, status string) {
	if last, seen := lastLogged[id]; seen && p.now().Sub(last) < p.config.LogEvery {
		return
	}
	lastLogged[id] = p.now()
	p.log.Info("Instance still pending", "instance", id, "status", status)
}
