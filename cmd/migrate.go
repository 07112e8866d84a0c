package main

import (
	"errors"

	"github.com/freekieb7/formlink/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context(), a.logger); err != nil {
				return errors.Join(errors.New("migration up failed"), err)
			}
			return nil
		},
	}
}

// openDatabase connects without the rest of the container, so maintenance
// commands do not need provider or encryption settings.
func openDatabase(cmd *cobra.Command, a *app) (*database.Database, error) {
	db := database.NewDatabase()
	if err := db.Connect(cmd.Context(), a.cfg.Database); err != nil {
		return nil, err
	}
	return &db, nil
}
