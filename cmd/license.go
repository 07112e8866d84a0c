package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/freekieb7/formlink/internal/license"
	"github.com/spf13/cobra"
)

func newLicenseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Issue, check and revoke license keys",
	}
	cmd.AddCommand(
		newLicenseAddCommand(a),
		newLicenseVerifyCommand(a),
		newLicenseRevokeCommand(a),
	)
	return cmd
}

func newLicenseAddCommand(a *app) *cobra.Command {
	var validFor time.Duration

	cmd := &cobra.Command{
		Use:   "add <domain>[,<domain>...]",
		Short: "Issue a key bound to one or more domain patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patterns []string
			for _, pattern := range strings.Split(args[0], ",") {
				if p := license.NormalizeDomain(pattern); p != "" {
					patterns = append(patterns, p)
				}
			}
			if len(patterns) == 0 {
				return fmt.Errorf("invalid domain %q", args[0])
			}
			domain := strings.Join(patterns, ",")

			db, err := openDatabase(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			key, err := license.GenerateKey()
			if err != nil {
				return err
			}

			l := license.License{Key: key, BoundDomain: domain}
			if validFor > 0 {
				expiresAt := time.Now().Add(validFor).UTC()
				l.ExpiresAt = &expiresAt
			}

			l, err = license.NewPostgresStore(db).Create(cmd.Context(), l)
			if err != nil {
				return err
			}

			// The key is never shown again
			fmt.Fprintln(cmd.OutOrStdout(), key)
			a.logger.Info("License issued", "id", l.ID, "domain", domain)
			return nil
		},
	}
	cmd.Flags().DurationVar(&validFor, "valid-for", 0, "lifetime of the key, unlimited when zero")
	return cmd
}

func newLicenseVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key> <domain>",
		Short: "Check a key the way the API does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := license.NewVerifier(license.NewPostgresStore(db)).Verify(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("invalid: %s", result.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func newLicenseRevokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			return license.NewPostgresStore(db).Revoke(cmd.Context(), license.HashKey(args[0]), time.Now())
		},
	}
}
