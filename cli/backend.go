package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"

	"github.com/capstan-ci/capstan/cloud"
	"github.com/capstan-ci/capstan/cloud/ec2"
	"github.com/capstan-ci/capstan/cloud/lambdacloud"
	"github.com/capstan-ci/capstan/cloud/openstack"
	"github.com/capstan-ci/capstan/planfile"
)

// buildProvider wires the backend named by the plan. Credentials come from
// the environment so plan files stay free of secrets.
func buildProvider(ctx context.Context, plan *planfile.Planfile) (cloud.Provider, error) {
	switch plan.Backend {
	case "lambda":
		apiKey := os.Getenv("LAMBDA_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("LAMBDA_API_KEY environment variable not set")
		}
		return lambdacloud.New(apiKey), nil

	case "ec2":
		return ec2.New(ctx, ec2.Config{
			Regions:          plan.Regions,
			InstanceTypes:    plan.InstanceTypes,
			ImageIDs:         plan.EC2.Images,
			KeyName:          plan.EC2.KeyName,
			SecurityGroupIDs: plan.EC2.SecurityGroups,
			SubnetIDs:        plan.EC2.Subnets,
		})

	case "openstack":
		return openstack.New(openstack.Config{
			ImageID: plan.OpenStack.Image,
			Networks: lo.Map(plan.OpenStack.Networks, func(uuid string, _ int) servers.Network {
				return servers.Network{UUID: uuid}
			}),
			SecurityGroups: plan.OpenStack.SecurityGroups,
			KeyName:        plan.OpenStack.KeyName,
		})

	default:
		return nil, fmt.Errorf("unknown backend '%s'", plan.Backend)
	}
}
