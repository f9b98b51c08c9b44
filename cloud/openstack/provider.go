// Package openstack implements cloud.Provider against an OpenStack compute
// API. Resource classes are flavor names and regions are availability zones
// within the authenticated OpenStack region.
package openstack

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gophercloud/gophercloud"
	gopheropenstack "github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"

	"github.com/capstan-ci/capstan/cloud"
)

type Config struct {
	ImageID        string
	Networks       []servers.Network
	SecurityGroups []string
	KeyName        string
}

type Provider struct {
	config Config
	client *gophercloud.ServiceClient

	mu        sync.Mutex
	flavorIDs map[string]string // flavor name -> ID, filled lazily
}

// Provider implements cloud.Provider
var _ cloud.Provider = (*Provider)(nil)

// New authenticates from the standard OS_* environment variables.
func New(config Config) (*Provider, error) {
	opts, err := gopheropenstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := gopheropenstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := gopheropenstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	return &Provider{
		config:    config,
		client:    client,
		flavorIDs: make(map[string]string),
	}, nil
}

func (p *Provider) Name() string {
	return "openstack"
}

// ListAvailability pairs every known flavor with every availability zone
// currently reported as up. Nova exposes no per-flavor capacity, so this is
// purely advisory; "no valid host" failures still fall through the engine.
func (p *Provider) ListAvailability(ctx context.Context) (cloud.Availability, error) {
	zonePages, err := availabilityzones.List(p.client).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list availability zones: %w", mapError(err))
	}
	zones, err := availabilityzones.ExtractAvailabilityZones(zonePages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract availability zones: %w", err)
	}

	var available []string
	for _, zone := range zones {
		if zone.ZoneState.Available {
			available = append(available, zone.ZoneName)
		}
	}

	flavorNames, err := p.loadFlavors()
	if err != nil {
		return nil, err
	}

	availability := make(cloud.Availability, len(flavorNames))
	for _, name := range flavorNames {
		availability[name] = available
	}
	return availability, nil
}

// loadFlavors lists flavors once and caches the name to ID mapping.
func (p *Provider) loadFlavors() ([]string, error) {
	pages, err := flavors.ListDetail(p.client, flavors.ListOpts{}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list flavors: %w", mapError(err))
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract flavors: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(all))
	for _, flavor := range all {
		p.flavorIDs[flavor.Name] = flavor.ID
		names = append(names, flavor.Name)
	}
	return names, nil
}

func (p *Provider) flavorID(name string) (string, error) {
	p.mu.Lock()
	id, ok := p.flavorIDs[name]
	p.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := p.loadFlavors(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok = p.flavorIDs[name]
	if !ok {
		return "", &cloud.APIError{
			Code:    cloud.CodeInvalidInstanceType,
			Message: fmt.Sprintf("unknown flavor %q", name),
		}
	}
	return id, nil
}

func (p *Provider) Launch(_ context.Context, req cloud.LaunchRequest) ([]string, error) {
	flavorRef, err := p.flavorID(req.Class)
	if err != nil {
		return nil, err
	}

	createOpts := servers.CreateOpts{
		Name:             req.Name,
		ImageRef:         p.config.ImageID,
		FlavorRef:        flavorRef,
		AvailabilityZone: req.Region,
		Networks:         p.config.Networks,
		SecurityGroups:   p.config.SecurityGroups,
		Min:              req.Count,
		Max:              req.Count,
	}

	var builder servers.CreateOptsBuilder = createOpts
	if p.config.KeyName != "" {
		builder = keypairs.CreateOptsExt{CreateOptsBuilder: createOpts, KeyName: p.config.KeyName}
	}

	server, err := servers.Create(p.client, builder).Extract()
	if err != nil {
		return nil, mapError(err)
	}
	return []string{server.ID}, nil
}

func (p *Provider) Status(_ context.Context, instanceID string) (cloud.InstanceStatus, error) {
	server, err := servers.Get(p.client, instanceID).Extract()
	if err != nil {
		return cloud.InstanceStatus{}, mapError(err)
	}

	return cloud.InstanceStatus{
		State:     stateFromStatus(server.Status),
		RawStatus: server.Status,
		Address:   firstIPv4(server.Addresses),
	}, nil
}

func stateFromStatus(status string) cloud.State {
	switch status {
	case "ACTIVE":
		return cloud.StateActive
	case "BUILD", "REBUILD":
		return cloud.StateBooting
	case "DELETED", "SOFT_DELETED", "ERROR":
		return cloud.StateTerminated
	default:
		return cloud.StateUnknown
	}
}

// firstIPv4 digs the first IPv4 address out of Nova's per-network address
// listing.
func firstIPv4(addresses map[string]any) string {
	for _, networkAddresses := range addresses {
		list, ok := networkAddresses.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			address, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if version, ok := address["version"].(float64); ok && version == 4 {
				if addr, ok := address["addr"].(string); ok {
					return addr
				}
			}
		}
	}
	return ""
}

func (p *Provider) Terminate(_ context.Context, instanceIDs []string) error {
	for _, id := range instanceIDs {
		if err := servers.Delete(p.client, id).ExtractErr(); err != nil {
			return fmt.Errorf("failed to delete server %q: %w", id, mapError(err))
		}
	}
	return nil
}
