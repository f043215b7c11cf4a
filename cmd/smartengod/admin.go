package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/db"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/store"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage dashboard accounts",
}

var (
	adminEmail    string
	adminPassword string
	adminRole     string
)

var createAdminCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a dashboard account",
	RunE: func(cmd *cobra.Command, args []string) error {
		role := model.Role(adminRole)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q (want admin, moderator or user)", adminRole)
		}
		if len(adminPassword) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		gormDB, err := db.Init(&cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer sqlDB.Close()
		}
		st := store.NewGormStore(gormDB, cfg.Session.OverstayThreshold)

		hash, err := auth.HashPassword(adminPassword)
		if err != nil {
			return err
		}
		user := &model.AdminUser{Email: adminEmail, PasswordHash: hash, Role: role}
		if err := st.CreateAdminUser(cmd.Context(), user); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tROLE")
		fmt.Fprintf(w, "%s\t%s\t%s\n", user.ID, user.Email, user.Role)
		return w.Flush()
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "account email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "account password")
	createAdminCmd.Flags().StringVar(&adminRole, "role", string(model.RoleAdmin), "admin, moderator or user")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(createAdminCmd)
}
