package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/capstan-ci/capstan/planfile"
)

var downCmd = &cobra.Command{
	Use:   "down <instance-id>...",
	Short: "Terminate previously provisioned instances",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		plan, err := planfile.Read(lo.Must(cmd.Flags().GetString("file")))
		if err != nil {
			return err
		}

		provider, err := buildProvider(ctx, plan)
		if err != nil {
			return err
		}

		if err := provider.Terminate(ctx, args); err != nil {
			return fmt.Errorf("failed to terminate instances: %w", err)
		}

		color.Green("Terminated %d instance(s)", len(args))
		return nil
	},
}

func init() {
	downCmd.Flags().StringP("file", "f", "capstan.yaml", "plan file naming the backend")
}
