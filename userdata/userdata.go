// Package userdata renders the first-boot setup script that registers an
// ephemeral instance as a CI runner. The parameter set is a fixed,
// enumerated struct; rendering fails closed when a required field is empty
// instead of producing a silently broken script.
package userdata

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
)

//go:embed templates/setup.sh.tmpl
var setupTemplate string

// Params is the complete set of values the setup script can reference.
type Params struct {
	// Repo is the owner/name the runner registers against.
	Repo string
	// RunnerToken is the single-use registration token.
	RunnerToken string
	// RunnerLabels is the comma-separated label set, including the
	// generated per-runner label.
	RunnerLabels string
	// RunnerRelease is the URL of the runner release tarball.
	RunnerRelease string

	// MaxLifetimeMinutes shuts the instance down after this long no matter
	// what.
	MaxLifetimeMinutes int
	// GracePeriodSeconds is how long to linger after the last job.
	GracePeriodSeconds int
	// InitialGracePeriodSeconds is how long to wait for a first job.
	InitialGracePeriodSeconds int
	// PollIntervalSeconds is the on-box idle check interval.
	PollIntervalSeconds int

	// Debug turns on shell tracing when non-empty.
	Debug string
	// ExtraScript is an optional caller-supplied script run before runner
	// setup.
	ExtraScript string
}

func (p Params) validate() error {
	var missing []string
	for field, value := range map[string]string{
		"Repo":          p.Repo,
		"RunnerToken":   p.RunnerToken,
		"RunnerLabels":  p.RunnerLabels,
		"RunnerRelease": p.RunnerRelease,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required setup parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render produces the setup script for the given parameters. Pure: no I/O
// beyond the embedded template.
func Render(p Params) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	if p.MaxLifetimeMinutes <= 0 {
		p.MaxLifetimeMinutes = 360
	}
	if p.GracePeriodSeconds <= 0 {
		p.GracePeriodSeconds = 60
	}
	if p.InitialGracePeriodSeconds <= 0 {
		p.InitialGracePeriodSeconds = 180
	}
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = 10
	}

	funcs := template.FuncMap{"shellquote": shellescape.Quote}

	tmpl, err := template.New("setup").Funcs(funcs).Option("missingkey=error").Parse(setupTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse setup template: %w", err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, p); err != nil {
		return "", fmt.Errorf("failed to render setup script: %w", err)
	}
	return out.String(), nil
}
