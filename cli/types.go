package main

import (
	"sort"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/capstan-ci/capstan/planfile"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List instance types with current capacity per the plan's backend",

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

		availability, err := provider.ListAvailability(ctx)
		if err != nil {
			return err
		}

		classes := lo.Keys(availability)
		sort.Strings(classes)

		for _, class := range classes {
			regions := availability[class]
			if len(regions) == 0 {
				color.New(color.Faint).Printf("%-24s (no capacity)\n", class)
				continue
			}
			sort.Strings(regions)
			color.New(color.Bold).Printf("%-24s", class)
			cmd.Printf(" %v\n", regions)
		}
		return nil
	},
}

func init() {
	typesCmd.Flags().StringP("file", "f", "capstan.yaml", "plan file naming the backend")
}
