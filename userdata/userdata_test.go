package userdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		Repo:          "acme/widgets",
		RunnerToken:   "AAAA-token",
		RunnerLabels:  "capstan,gpu-large",
		RunnerRelease: "https://example.com/runner-linux-x64.tar.gz",
	}
}

func TestRender(t *testing.T) {
	out, err := Render(validParams())
	require.NoError(t, err)

	assert.Contains(t, out, "#!/bin/bash")
	assert.Contains(t, out, "--url \"https://github.com/acme/widgets\"")
	assert.Contains(t, out, "--token AAAA-token")
	assert.Contains(t, out, "--labels capstan,gpu-large")
	assert.Contains(t, out, "--ephemeral")
	assert.Contains(t, out, "curl -fsSL -o runner.tar.gz https://example.com/runner-linux-x64.tar.gz")

	// Defaults applied.
	assert.Contains(t, out, `shutdown -P "+360"`)
	assert.Contains(t, out, "sleep 10")
	assert.NotContains(t, out, "set -x")
}

func TestRenderQuotesToken(t *testing.T) {
	p := validParams()
	p.RunnerToken = "tok'en; rm -rf /"

	out, err := Render(p)
	require.NoError(t, err)
	assert.Contains(t, out, `--token 'tok'"'"'en; rm -rf /'`)
}

func TestRenderDebugAndExtraScript(t *testing.T) {
	p := validParams()
	p.Debug = "true"
	p.ExtraScript = "apt-get install -y jq"

	out, err := Render(p)
	require.NoError(t, err)
	assert.Contains(t, out, "set -x")
	assert.Contains(t, out, "apt-get install -y jq")
}

func TestRenderLifetimeOverrides(t *testing.T) {
	p := validParams()
	p.MaxLifetimeMinutes = 90
	p.GracePeriodSeconds = 120
	p.InitialGracePeriodSeconds = 600
	p.PollIntervalSeconds = 5

	out, err := Render(p)
	require.NoError(t, err)
	assert.Contains(t, out, `shutdown -P "+90"`)
	assert.Contains(t, out, "+ 120")
	assert.Contains(t, out, "+ 600")
	assert.Contains(t, out, "sleep 5")
}

func TestRenderFailsClosedOnMissingFields(t *testing.T) {
	for _, mutate := range []func(*Params){
		func(p *Params) { p.Repo = "" },
		func(p *Params) { p.RunnerToken = "" },
		func(p *Params) { p.RunnerLabels = "" },
		func(p *Params) { p.RunnerRelease = "" },
	} {
		p := validParams()
		mutate(&p)

		_, err := Render(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing required setup parameters")
	}
}
