package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/agencyhq/backend/internal/database"
	"github.com/agencyhq/backend/internal/database/migrations"
	"github.com/agencyhq/backend/internal/logging"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(config.LoadConfig().Database)
			if err != nil {
				return err
			}

			rollback, _ := cmd.Flags().GetBool("rollback")
			if rollback {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back the last migration")
				return nil
			}
			return migrations.RunMigrations(db)
		},
	}

	cmd.Flags().Bool("rollback", false, "Revert the most recent migration instead")

	return cmd
}

func purgeSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete expired checkout sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.LoadConfig())
			if err != nil {
				return err
			}

			n, err := a.sessions.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired sessions\n", n)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [reference]",
		Short: "Verify payment references with Paystack and apply the result",
		Long: `Verify one payment reference, or with no argument every live reference
of a pending order older than --older-than.

Examples:
  agencyctl reconcile ord_3f1c9a0b2d4e
  agencyctl reconcile --older-than 30m --limit 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.LoadConfig())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			refs := args
			if len(refs) == 0 {
				olderThan, _ := cmd.Flags().GetDuration("older-than")
				limit, _ := cmd.Flags().GetInt("limit")
				refs, err = a.orders.StalePendingReferences(ctx, olderThan, limit)
				if err != nil {
					return err
				}
			}

			failed := 0
			for _, ref := range refs {
				result, err := a.orders.ReconcilePayment(ctx, ref)
				if err != nil {
					failed++
					logging.Logger.Error("reconcile failed", zap.String("reference", ref), zap.Error(err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ref, result.Order.ID, result.Outcome)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d references failed", failed, len(refs))
			}
			return nil
		},
	}

	cmd.Flags().Duration("older-than", 10*time.Minute, "Only sweep references issued before this long ago")
	cmd.Flags().Int("limit", 100, "Maximum references to sweep")

	return cmd
}

func confirmCommissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-commissions",
		Short: "Release held commissions whose hold period has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.LoadConfig())
			if err != nil {
				return err
			}

			n, err := a.engine.ConfirmMatured(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "confirmed %d commissions\n", n)
			return nil
		},
	}
}

func seedCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-catalog [name] [price]",
		Short: "Add a service to the catalog",
		Long: `Add a service to the catalog. Prices are in minor units.

Examples:
  agencyctl seed-catalog "Business Website" 1000000 --addon "SEO Setup=200000"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}

			rawAddOns, _ := cmd.Flags().GetStringArray("addon")
			addOns, err := parseAddOns(rawAddOns)
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("description")
			currency, _ := cmd.Flags().GetString("currency")

			cfg := config.LoadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			if currency == "" {
				currency = cfg.Payment.Currency
			}

			service, err := a.catalog.CreateService(cmd.Context(), args[0], description, price, models.Currency(strings.ToUpper(currency)), addOns)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) with %d add-ons\n", service.Slug, service.ID, len(service.AddOns))
			return nil
		},
	}

	cmd.Flags().StringArray("addon", nil, "Add-on as name=price, repeatable")
	cmd.Flags().String("description", "", "Service description")
	cmd.Flags().String("currency", "", "ISO currency code, defaults to PAYMENT_CURRENCY")

	return cmd
}

func parseAddOns(raw []string) ([]catalog.AddOnInput, error) {
	addOns := make([]catalog.AddOnInput, 0, len(raw))
	for _, r := range raw {
		name, price, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid add-on %q, want name=price", r)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("invalid add-on price in %q", r)
		}
		addOns = append(addOns, catalog.AddOnInput{Name: strings.TrimSpace(name), Price: amount})
	}
	return addOns, nil
}
