// Package cloud defines the provider-neutral surface that the provisioning
// engine drives: launch, status, terminate, and best-effort capacity listing.
package cloud

import (
	"context"
	"fmt"
)

// ResourceOption is one (resource class, region) pair considered as a single
// unit of capacity to request. Immutable once constructed.
type ResourceOption struct {
	Class  string
	Region string
}

func (o ResourceOption) String() string {
	return fmt.Sprintf("%s in %s", o.Class, o.Region)
}

// Availability maps a resource class to the regions currently reported as
// having capacity for it. Advisory only: a region listed here can still fail
// at launch time.
type Availability map[string][]string

// LaunchRequest describes one launch call. Count instances of Class are
// requested in Region under the given display name.
type LaunchRequest struct {
	Class       string
	Region      string
	Count       int
	Name        string
	SSHKeyNames []string
}

// State is the normalized lifecycle state of an instance. Providers map
// their native status strings onto these values.
type State string

const (
	StateBooting     State = "booting"
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
	StateUnknown     State = "unknown"
)

// Fatal reports whether observing this state during boot is unrecoverable.
func (s State) Fatal() bool {
	return s == StateTerminating || s == StateTerminated
}

// InstanceStatus is a point-in-time view of an instance. Address is empty
// until the instance is reachable. RawStatus keeps the provider's native
// status string for logging.
type InstanceStatus struct {
	State     State
	RawStatus string
	Address   string
	Hostname  string
}

// Provider is the four-call contract shared by all backends. Implementations
// attach their own credentials to every call.
type Provider interface {
	Name() string
	ListAvailability(ctx context.Context) (Availability, error)
	Launch(ctx context.Context, req LaunchRequest) ([]string, error)
	Status(ctx context.Context, instanceID string) (InstanceStatus, error)
	Terminate(ctx context.Context, instanceIDs []string) error
}
