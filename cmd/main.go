package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/freekieb7/formlink/internal/config"
	"github.com/freekieb7/formlink/internal/container"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// app is resolved once before any subcommand runs.
type app struct {
	envFile string
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "formlink",
		Short:         "Credential lifecycle service for the form builder",
		Version:       container.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
			config.LoadEnv(cmd.Context(), a.envFile, bootstrap)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger = container.NewLogger(cfg.Server.Environment)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		newServeCommand(a),
		newRefreshCommand(a),
		newMigrateCommand(a),
		newLicenseCommand(a),
	)
	return root
}
