package planfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() Planfile {
	return Planfile{
		Version:       "1",
		Name:          "gpu-runners",
		Backend:       "lambda",
		Runners:       1,
		Repo:          "acme/widgets",
		InstanceTypes: []string{"gpu_1x_a100"},
		Regions:       []string{"us-east-1"},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validPlan().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Planfile)
		want   string
	}{
		{"bad version", func(p *Planfile) { p.Version = "2" }, "unsupported version"},
		{"bad name", func(p *Planfile) { p.Name = "Bad Name!" }, "name must be"},
		{"bad backend", func(p *Planfile) { p.Backend = "azure" }, "backend must be"},
		{"zero runners", func(p *Planfile) { p.Runners = 0 }, "runners must be"},
		{"bad repo", func(p *Planfile) { p.Repo = "no-slash" }, "repo must be"},
		{"no types", func(p *Planfile) { p.InstanceTypes = nil }, "instance_types"},
		{"no regions", func(p *Planfile) { p.Regions = nil }, "regions"},
		{"bad duration", func(p *Planfile) { p.BaseDelay = "soon" }, "base_delay"},
		{"ec2 without ami", func(p *Planfile) { p.Backend = "ec2" }, "ec2.images"},
		{"openstack without image", func(p *Planfile) { p.Backend = "openstack" }, "openstack.image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan()
			tt.mutate(&plan)

			err := plan.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateEC2RequiresAMIPerRegion(t *testing.T) {
	plan := validPlan()
	plan.Backend = "ec2"
	plan.Regions = []string{"us-east-1", "eu-west-1"}
	plan.EC2.Images = map[string]string{"us-east-1": "ami-1234"}

	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eu-west-1")

	plan.EC2.Images["eu-west-1"] = "ami-5678"
	assert.NoError(t, plan.Validate())
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capstan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
name: gpu-runners
backend: lambda
runners: 2
repo: acme/widgets
instance_types: [gpu_1x_a100, gpu_1x_a10]
regions: [us-east-1, us-west-1]
labels: [gpu]
retry_ceiling: 5
base_delay: 2s
`), 0o644))

	plan, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, "gpu-runners", plan.Name)
	assert.Equal(t, 2, plan.Runners)
	assert.Equal(t, []string{"gpu_1x_a100", "gpu_1x_a10"}, plan.InstanceTypes)
	assert.Equal(t, 5, plan.RetryCeiling)
	assert.Equal(t, 2*time.Second, Duration(plan.BaseDelay, time.Second))
}

func TestReadTemplating(t *testing.T) {
	t.Setenv("TEST_PLAN_REPO", "acme/widgets")

	path := filepath.Join(t.TempDir(), "capstan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
name: gpu-runners
backend: lambda
runners: 1
repo: {{ env "TEST_PLAN_REPO" }}
instance_types: [gpu_1x_a100]
regions: [us-east-1]
`), 0o644))

	plan, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", plan.Repo)
}

func TestReadTemplateFuncs(t *testing.T) {
	t.Setenv("TEST_PLAN_NAME", "  GPU-Runners  ")

	path := filepath.Join(t.TempDir(), "capstan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
name: {{ env "TEST_PLAN_NAME" | trim | lower }}
backend: lambda
runners: 1
repo: acme/widgets
instance_types: [{{ "gpu_1x_a100 gpu_1x_a10" | splitList " " | join ", " }}]
regions: [us-east-1]
`), 0o644))

	plan, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "gpu-runners", plan.Name)
	assert.Equal(t, []string{"gpu_1x_a100", "gpu_1x_a10"}, plan.InstanceTypes)
}

func TestReadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capstan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: [\n"), 0o644))

	_, err := Read(path)
	require.Error(t, err)

	var unmarshalErr UnmarshalError
	assert.ErrorAs(t, err, &unmarshalErr)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, 90*time.Second, Duration("1m30s", time.Second))
}
