package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/capstan-ci/capstan/cli/ui"
	"github.com/capstan-ci/capstan/github"
	"github.com/capstan-ci/capstan/namegen"
	"github.com/capstan-ci/capstan/planfile"
	"github.com/capstan-ci/capstan/provision"
	"github.com/capstan-ci/capstan/report"
	"github.com/capstan-ci/capstan/setup"
	"github.com/capstan-ci/capstan/userdata"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision runners according to a plan file",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		plan, err := planfile.Read(lo.Must(cmd.Flags().GetString("file")))
		if err != nil {
			return err
		}

		ghToken := os.Getenv("GH_PAT")
		if ghToken == "" {
			return fmt.Errorf("GH_PAT environment variable not set")
		}
		gh := github.New(ghToken, plan.Repo)

		release, err := gh.LatestRunnerRelease(ctx, "linux", "x64")
		if err != nil {
			return err
		}
		tokens, err := gh.RegistrationTokens(ctx, plan.Runners)
		if err != nil {
			return err
		}

		provider, err := buildProvider(ctx, plan)
		if err != nil {
			return err
		}

		sink := report.New(log)
		metrics := provision.NewMetrics(prometheus.NewRegistry())

		engine := provision.New(provider, provision.Config{
			InstanceTypes: plan.InstanceTypes,
			Regions:       plan.Regions,
			SSHKeyNames:   plan.SSHKeys,
			SkipFilter:    plan.SkipAvailabilityCheck,
			RetryCeiling:  plan.RetryCeiling,
			BaseDelay:     planfile.Duration(plan.BaseDelay, time.Second),
			Logger:        log,
			Reporter:      sink,
			Metrics:       metrics,
		})

		identities := make([]provision.Identity, plan.Runners)
		for i := range identities {
			identities[i] = provision.Identity{
				Name:  instanceName(plan, i),
				Token: tokens[i],
			}
		}

		grants, err := engine.Run(ctx, identities)
		if err != nil {
			// The exhausted path has already been reported by the engine;
			// configuration errors get their summary here so fatal output
			// always carries the attempt table.
			var confErr *provision.ConfigurationError
			if errors.As(err, &confErr) {
				sink.Error("Invalid Configuration", confErr.Message)
				sink.WriteSummary(report.FormatLaunchSummary(engine.Ledger().Snapshot(), false, "", ""))
			}
			reportCreated(grants)
			return err
		}
		if len(grants) < plan.Runners {
			sink.Warning("Partial Provisioning", fmt.Sprintf(
				"Only %d of %d runners obtained an instance", len(grants), plan.Runners,
			))
		}

		ids := lo.Map(grants, func(g provision.RunnerGrant, _ int) string { return g.InstanceID })

		spin := ui.NewSpinner(fmt.Sprintf("Waiting for %d instance(s) to become ready", len(ids)))
		poller := provision.NewPoller(provider, provision.PollerConfig{
			Timeout: planfile.Duration(plan.ReadinessTimeout, 5*time.Minute),
			Logger:  log,
			Metrics: metrics,
		})
		endpoints, err := poller.Wait(ctx, ids)
		if err != nil {
			spin.Fail("Instances did not become ready")
			sink.Error("Instances Not Ready", err.Error())
			sink.WriteSummary(report.FormatLaunchSummary(engine.Ledger().Snapshot(), false, "", ""))
			reportCreated(grants)
			return err
		}
		spin.Success(fmt.Sprintf("%d instance(s) ready", len(ids)))

		dispatcher, err := buildDispatcher(cmd)
		if err != nil {
			reportCreated(grants)
			return err
		}

		var dispatchErrs []error
		for _, grant := range grants {
			endpoint := endpoints[grant.InstanceID]
			labels := strings.Join(append(append([]string{}, plan.Labels...), grant.Label), ",")

			script, err := userdata.Render(userdata.Params{
				Repo:               plan.Repo,
				RunnerToken:        grant.Identity.Token,
				RunnerLabels:       labels,
				RunnerRelease:      release,
				MaxLifetimeMinutes: int(planfile.Duration(plan.MaxLifetime, 6*time.Hour).Minutes()),
				Debug:              plan.Debug,
				ExtraScript:        plan.ExtraScript,
			})
			if err != nil {
				reportCreated(grants)
				return err
			}

			// A dispatch failure is per-instance: the others proceed and the
			// instance itself is left for the caller to clean up.
			if err := dispatcher.Dispatch(ctx, endpoint.Address, setup.Payload{
				Script: script,
				Env: map[string]string{
					"CAPSTAN_INSTANCE_ID":  grant.InstanceID,
					"CAPSTAN_INSTANCE_IP":  endpoint.Address,
					"CAPSTAN_RUNNER_LABEL": grant.Label,
				},
			}); err != nil {
				log.Error("Setup dispatch failed", "instance", grant.InstanceID, "error", err)
				sink.Error("Setup Failed", fmt.Sprintf("instance %s: %v", grant.InstanceID, err))
				dispatchErrs = append(dispatchErrs, err)
				continue
			}

			color.Green("Runner %s on %s (%s, %s)", grant.Label, grant.InstanceID, grant.Option, endpoint.Address)
		}

		sink.WriteSummary(report.FormatLaunchSummary(
			engine.Ledger().Snapshot(), true,
			strings.Join(ids, ", "),
			strings.Join(lo.Map(ids, func(id string, _ int) string { return endpoints[id].Address }), ", "),
		))
		if err := writeOutputs(grants, plan.Labels); err != nil {
			log.Warn("Failed to write outputs", "error", err)
		}

		if lo.Must(cmd.Flags().GetBool("wait-registration")) {
			timeout := lo.Must(cmd.Flags().GetDuration("registration-timeout"))
			spin = ui.NewSpinner("Waiting for runners to register")
			for _, grant := range grants {
				if err := gh.WaitForRunner(ctx, grant.Label, timeout, 10*time.Second); err != nil {
					spin.Fail(err.Error())
					reportCreated(grants)
					return err
				}
			}
			spin.Success("All runners registered")
		}

		return errors.Join(dispatchErrs...)
	},
}

func init() {
	upCmd.Flags().StringP("file", "f", "capstan.yaml", "plan file to provision from")
	upCmd.Flags().String("ssh-key", "", "private key used for remote setup")
	upCmd.Flags().String("ssh-user", "ubuntu", "username used for remote setup")
	upCmd.Flags().Bool("wait-registration", true, "wait for runners to register with the CI platform")
	upCmd.Flags().Duration("registration-timeout", 5*time.Minute, "how long to wait for runner registration")
}

// instanceName builds the display name for one runner's instance, suffixed
// with the index for multi-runner batches.
func instanceName(plan *planfile.Planfile, i int) string {
	run := os.Getenv("GITHUB_RUN_NUMBER")
	if run == "" {
		run = namegen.Get().String()
	}
	name := fmt.Sprintf("%s-%s", plan.Name, run)
	if plan.Runners > 1 {
		name = fmt.Sprintf("%s-%d", name, i)
	}
	return name
}

func buildDispatcher(cmd *cobra.Command) (*setup.Dispatcher, error) {
	keyPath := lo.Must(cmd.Flags().GetString("ssh-key"))
	if keyPath == "" {
		return nil, fmt.Errorf("--ssh-key is required to dispatch runner setup")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	return setup.NewDispatcher(setup.Config{
		User:   lo.Must(cmd.Flags().GetString("ssh-user")),
		Auth:   []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Logger: log,
	}), nil
}

// reportCreated names instances that exist at the time of a fatal error.
// Cleanup is deliberately the caller's decision ('capstan down').
func reportCreated(grants []provision.RunnerGrant) {
	if len(grants) == 0 {
		return
	}
	ids := lo.Map(grants, func(g provision.RunnerGrant, _ int) string { return g.InstanceID })
	log.Warn("Instances already created are NOT terminated", "instances", strings.Join(ids, ", "))
}
