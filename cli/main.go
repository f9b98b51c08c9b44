package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/capstan-ci/capstan/logging"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var log *slog.Logger

var capstanCmd = &cobra.Command{
	Use:   "capstan",
	Short: "Capstan provisions ephemeral cloud instances as self-hosted CI runners.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		log, err = logging.Init(
			viper.GetString("log-format"),
			viper.GetString("log-level"),
			viper.GetBool("log-source"),
		)
		return err
	},
}

func init() {
	capstanCmd.AddCommand(upCmd)
	capstanCmd.AddCommand(downCmd)
	capstanCmd.AddCommand(typesCmd)
	capstanCmd.AddCommand(versionCmd)

	capstanCmd.PersistentFlags().String("log-format", "auto", "log format (auto, json, text, pretty)")
	capstanCmd.PersistentFlags().String("log-level", "INFO", "minimum log level")
	capstanCmd.PersistentFlags().Bool("log-source", false, "add source code location to logs")

	viper.SetEnvPrefix("capstan")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(capstanCmd.PersistentFlags()))
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capstanCmd.SetOut(os.Stdout)
	if err := capstanCmd.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
