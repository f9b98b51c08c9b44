package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of capstan",

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("capstan %s (%s)\n", version, commit)
	},
}
