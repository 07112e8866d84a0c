package main

import (
	"encoding/json"
	"fmt"

	"github.com/freekieb7/formlink/internal/container"
	"github.com/spf13/cobra"
)

func newRefreshCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one batch refresh of expiring grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.New(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Scheduler.RunBatch(cmd.Context())
			if err != nil {
				return fmt.Errorf("batch refresh failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
