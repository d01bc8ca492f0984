package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/config"
	"library-backend/internal/platform/db"
)

func newMigrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			conn, err := db.Connect(cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.Migrate(cmd.Context(), conn, cfg.DB.Driver)
		},
	}
}

func newOverdueCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Overdue maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue loans and notify their readers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.overdue.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "overdue loans: %d (newly overdue: %d)\nreaders notified: %d/%d\n",
				res.OverdueLoans, res.NewlyOverdue, res.NotificationsSent, res.Readers)
			return nil
		},
	})
	return cmd
}

func newAdminCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator accounts",
	}

	var username, email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator (password is read from the terminal)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			return createAdmin(cmd.Context(), *cfgPath, username, email, password)
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name")
	create.Flags().StringVar(&email, "email", "", "contact address")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")
	cmd.AddCommand(create)
	return cmd
}

func createAdmin(ctx context.Context, cfgPath, username, email, password string) error {
	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.auth.CreateUser(ctx, auth.CreateUserRequest{
		Username: username,
		Password: password,
		Email:    email,
		Role:     auth.RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] created admin %s (id=%d)", username, res.UserID)
	return nil
}

// 入力はマスクする
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	buf, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(buf)), nil
}
