package main

import (
	"github.com/spf13/cobra"

	"smartengo-backend/internal/db"
	"smartengo-backend/internal/util"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		gormDB, err := db.Init(&cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer sqlDB.Close()
		}
		util.GetLogger().Info("Database schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
