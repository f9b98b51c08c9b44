// Package planfile reads the YAML plan describing a provisioning run: how
// many runners, which backend, and the ranked instance type and region
// preferences.
package planfile

import (
	"fmt"
	"regexp"
	"time"

	"github.com/samber/lo"
)

const PlanfileVersion = "1"

type Planfile struct {
	Version string
	Name    string
	Backend string
	Runners int
	Repo    string

	// InstanceTypes and Regions are priority-ordered; the engine never
	// reorders them.
	InstanceTypes []string `yaml:"instance_types"`
	Regions       []string

	Labels  []string
	SSHKeys []string `yaml:"ssh_keys"`

	SkipAvailabilityCheck bool   `yaml:"skip_availability_check"`
	RetryCeiling          int    `yaml:"retry_ceiling"`
	BaseDelay             string `yaml:"base_delay"`
	ReadinessTimeout      string `yaml:"readiness_timeout"`
	MaxLifetime           string `yaml:"max_lifetime"`

	Debug       string
	ExtraScript string `yaml:"extra_script"`

	EC2       EC2       `yaml:"ec2"`
	OpenStack OpenStack `yaml:"openstack"`
}

// EC2 carries the backend-specific settings used when backend is "ec2".
type EC2 struct {
	// Images maps each region in Regions to the AMI to boot there.
	Images         map[string]string
	KeyName        string   `yaml:"key_name"`
	SecurityGroups []string `yaml:"security_groups"`
	Subnets        map[string]string
}

// OpenStack carries the backend-specific settings used when backend is
// "openstack".
type OpenStack struct {
	Image          string
	Networks       []string
	SecurityGroups []string `yaml:"security_groups"`
	KeyName        string   `yaml:"key_name"`
}

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
var repoRegex = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

var backends = []string{"lambda", "ec2", "openstack"}

func (plan Planfile) Validate() error {
	if plan.Version != PlanfileVersion {
		return fmt.Errorf("unsupported version '%s'", plan.Version)
	}

	if !nameRegex.MatchString(plan.Name) {
		return fmt.Errorf("name must be a valid identifier")
	}

	if !lo.Contains(backends, plan.Backend) {
		return fmt.Errorf("backend must be one of lambda, ec2, openstack")
	}

	if plan.Runners < 1 {
		return fmt.Errorf("runners must be at least 1")
	}

	if !repoRegex.MatchString(plan.Repo) {
		return fmt.Errorf("repo must be in owner/name form")
	}

	if len(plan.InstanceTypes) == 0 {
		return fmt.Errorf("instance_types must not be empty")
	}
	if len(plan.Regions) == 0 {
		return fmt.Errorf("regions must not be empty")
	}

	if plan.Backend == "ec2" {
		for _, region := range plan.Regions {
			if plan.EC2.Images[region] == "" {
				return fmt.Errorf("ec2.images must name an AMI for region %s", region)
			}
		}
	}
	if plan.Backend == "openstack" && plan.OpenStack.Image == "" {
		return fmt.Errorf("openstack.image is required")
	}

	for _, field := range []struct{ name, value string }{
		{"base_delay", plan.BaseDelay},
		{"readiness_timeout", plan.ReadinessTimeout},
		{"max_lifetime", plan.MaxLifetime},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", field.name, err)
		}
	}

	return nil
}

// Duration parses one of the optional duration fields, with a fallback.
// Validate has already rejected malformed values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
