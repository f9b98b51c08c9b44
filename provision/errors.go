package provision

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// CapacityExhaustedError is raised when every candidate option has been
// tried (or pre-filtered away) without producing a single grant. It carries
// the complete ledger so the failure can be reported with full context.
type CapacityExhaustedError struct {
	Attempts []LaunchAttempt
}

func (e *CapacityExhaustedError) Error() string {
	classes := lo.Uniq(lo.Map(e.Attempts, func(a LaunchAttempt, _ int) string { return a.Option.Class }))
	regions := lo.Uniq(lo.Map(e.Attempts, func(a LaunchAttempt, _ int) string { return a.Option.Region }))
	return fmt.Sprintf(
		"all capacity exhausted after %d attempts: types=[%s], regions=[%s]",
		len(e.Attempts), strings.Join(classes, ", "), strings.Join(regions, ", "),
	)
}

// ConfigurationError aborts a run immediately: the caller's input is
// invalid and no retry can help.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Message
}

// ReadinessTimeoutError is raised when instances are still pending after
// the readiness timeout. The underlying instances are not cancelled.
type ReadinessTimeoutError struct {
	Pending []string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf(
		"instances did not become ready within %s: %s",
		e.Timeout, strings.Join(e.Pending, ", "),
	)
}

// ReadinessTerminatedError is raised as soon as any awaited instance is
// observed terminating or terminated; the whole batch wait is abandoned.
type ReadinessTerminatedError struct {
	InstanceID string
	RawStatus  string
}

func (e *ReadinessTerminatedError) Error() string {
	return fmt.Sprintf("instance %s terminated unexpectedly (status %q)", e.InstanceID, e.RawStatus)
}
