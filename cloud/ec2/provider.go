// Package ec2 implements cloud.Provider on top of AWS EC2, fanning out over
// a set of candidate regions with one API client per region.
package ec2

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/capstan-ci/capstan/cloud"
)

type Config struct {
	Regions []string
	// InstanceTypes scopes the availability query to the classes the caller
	// may actually launch.
	InstanceTypes []string
	// ImageIDs maps each region to the AMI to boot there.
	ImageIDs         map[string]string
	KeyName          string
	SecurityGroupIDs []string
	// SubnetIDs optionally pins launches to a subnet per region.
	SubnetIDs map[string]string

	// AccessKeyID/SecretAccessKey override the default credential chain
	// when set.
	AccessKeyID     string
	SecretAccessKey string
}

type Provider struct {
	config  Config
	clients map[string]*awsec2.Client

	mu      sync.Mutex
	regions map[string]string // instance id -> region, recorded at launch
}

// Provider implements cloud.Provider
var _ cloud.Provider = (*Provider)(nil)

func New(ctx context.Context, config Config) (*Provider, error) {
	if len(config.Regions) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	base, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clients := make(map[string]*awsec2.Client, len(config.Regions))
	for _, region := range config.Regions {
		clients[region] = awsec2.NewFromConfig(base, func(o *awsec2.Options) {
			o.Region = region
		})
	}

	return &Provider{
		config:  config,
		clients: clients,
		regions: make(map[string]string),
	}, nil
}

func (p *Provider) Name() string {
	return "ec2"
}

// ListAvailability asks each region which of the candidate instance types it
// offers. EC2 does not expose live capacity, so an offered type counts as
// available; launch-time capacity errors still fall through the engine.
func (p *Provider) ListAvailability(ctx context.Context) (cloud.Availability, error) {
	availability := make(cloud.Availability)

	for _, region := range p.config.Regions {
		input := &awsec2.DescribeInstanceTypeOfferingsInput{
			LocationType: types.LocationTypeRegion,
		}
		if len(p.config.InstanceTypes) > 0 {
			input.Filters = []types.Filter{{
				Name:   aws.String("instance-type"),
				Values: p.config.InstanceTypes,
			}}
		}

		out, err := p.clients[region].DescribeInstanceTypeOfferings(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe offerings in %s: %w", region, mapError(err))
		}
		for _, offering := range out.InstanceTypeOfferings {
			class := string(offering.InstanceType)
			availability[class] = append(availability[class], region)
		}
	}
	return availability, nil
}

func (p *Provider) Launch(ctx context.Context, req cloud.LaunchRequest) ([]string, error) {
	client, ok := p.clients[req.Region]
	if !ok {
		return nil, &cloud.APIError{
			Code:    cloud.CodeInvalidRegion,
			Message: fmt.Sprintf("region %q is not configured", req.Region),
		}
	}
	imageID, ok := p.config.ImageIDs[req.Region]
	if !ok {
		return nil, &cloud.APIError{
			Code:    cloud.CodeInvalidRegion,
			Message: fmt.Sprintf("no AMI configured for region %q", req.Region),
		}
	}

	input := &awsec2.RunInstancesInput{
		ImageId:      aws.String(imageID),
		InstanceType: types.InstanceType(req.Class),
		MinCount:     aws.Int32(int32(req.Count)),
		MaxCount:     aws.Int32(int32(req.Count)),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{{
				Key:   aws.String("Name"),
				Value: aws.String(req.Name),
			}},
		}},
	}
	if p.config.KeyName != "" {
		input.KeyName = aws.String(p.config.KeyName)
	}
	if len(p.config.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = p.config.SecurityGroupIDs
	}
	if subnet, ok := p.config.SubnetIDs[req.Region]; ok {
		input.SubnetId = aws.String(subnet)
	}

	out, err := client.RunInstances(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}

	ids := make([]string, 0, len(out.Instances))
	p.mu.Lock()
	for _, instance := range out.Instances {
		id := aws.ToString(instance.InstanceId)
		ids = append(ids, id)
		p.regions[id] = req.Region
	}
	p.mu.Unlock()
	return ids, nil
}

func (p *Provider) Status(ctx context.Context, instanceID string) (cloud.InstanceStatus, error) {
	client := p.clientFor(instanceID)

	out, err := client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return cloud.InstanceStatus{}, mapError(err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return cloud.InstanceStatus{}, &cloud.APIError{
			StatusCode: 404,
			Code:       cloud.CodeNotFound,
			Message:    fmt.Sprintf("instance %s not found", instanceID),
		}
	}

	instance := out.Reservations[0].Instances[0]
	raw := string(instance.State.Name)
	return cloud.InstanceStatus{
		State:     stateFromName(instance.State.Name),
		RawStatus: raw,
		Address:   aws.ToString(instance.PublicIpAddress),
		Hostname:  aws.ToString(instance.PublicDnsName),
	}, nil
}

func stateFromName(name types.InstanceStateName) cloud.State {
	switch name {
	case types.InstanceStateNamePending:
		return cloud.StateBooting
	case types.InstanceStateNameRunning:
		return cloud.StateActive
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameStopping:
		return cloud.StateTerminating
	case types.InstanceStateNameTerminated, types.InstanceStateNameStopped:
		return cloud.StateTerminated
	default:
		return cloud.StateUnknown
	}
}

func (p *Provider) Terminate(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}

	// Instances may span regions; group them before calling out.
	byRegion := make(map[string][]string)
	p.mu.Lock()
	for _, id := range instanceIDs {
		region, ok := p.regions[id]
		if !ok {
			region = p.config.Regions[0]
		}
		byRegion[region] = append(byRegion[region], id)
	}
	p.mu.Unlock()

	for region, ids := range byRegion {
		if _, err := p.clients[region].TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
			InstanceIds: ids,
		}); err != nil {
			return fmt.Errorf("failed to terminate instances in %s: %w", region, mapError(err))
		}
	}
	return nil
}

// clientFor routes an instance id to the client of the region it was
// launched in, falling back to the first configured region.
func (p *Provider) clientFor(instanceID string) *awsec2.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if region, ok := p.regions[instanceID]; ok {
		return p.clients[region]
	}
	return p.clients[p.config.Regions[0]]
}
