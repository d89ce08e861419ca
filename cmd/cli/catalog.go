package cli

import (
	"context"
	"fmt"
	"os"

	"ticketintel/internal/services"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the engine tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.logger.Info("Starting database migration...")
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info("Database migration completed successfully")
				if !seed {
					return nil
				}
				report, err := a.store.ImportCatalog(ctx, services.DefaultCatalog())
				if err != nil {
					return err
				}
				return printImport(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "import the built-in keyword vocabulary after migrating")
	return cmd
}

func newImportCmd() *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "import [catalog.yml]",
		Short: "Import labels and assignment rules from a YAML catalog",
		Long: `Upserts labels (by name) and assignment rules (by name) in a single transaction.
With --defaults the built-in keyword vocabulary is imported instead of a file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cat *services.CatalogFile
			switch {
			case defaults:
				cat = services.DefaultCatalog()
			case len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read catalog: %w", err)
				}
				if cat, err = services.ParseCatalog(data); err != nil {
					return err
				}
			default:
				return services.NewValidationError("a catalog file or --defaults is required", nil)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				report, err := a.store.ImportCatalog(ctx, cat)
				if err != nil {
					return err
				}
				return printImport(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "import the built-in keyword vocabulary")
	return cmd
}

func printImport(cmd *cobra.Command, report *services.ImportReport) error {
	return printReport(cmd, report, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Labels upserted: %d, rules created: %d, rules updated: %d\n",
			report.LabelsUpserted, report.RulesCreated, report.RulesUpdated)
	})
}

func init() {
	rootCmd.AddCommand(newMigrateCmd(), newImportCmd())
}
