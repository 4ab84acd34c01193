package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/roster/modules/roster/infrastructure/persistence"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the roster schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := persistence.Migrate(cmd.Context(), pool)
			if err != nil {
				return withCode(exitDBWrite, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"applied": applied})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			rows, err := persistence.Status(cmd.Context(), pool)
			if err != nil {
				return withCode(exitDB, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), rows)
		},
	})
	return cmd
}
