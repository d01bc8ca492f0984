// @title          Library Backend API
// @version        1.0
// @description    Catalog, borrow/return workflow, request approval and overdue handling.
// @BasePath       /api
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"library-backend/internal/platform/config"
)

//go:generate swag init -g main.go --outputTypes go

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "library-backend",
		Short:         "Library circulation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		// サブコマンド省略時は serve
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "path to config.yaml")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newMigrateCmd(&cfgPath),
		newOverdueCmd(&cfgPath),
		newAdminCmd(&cfgPath),
	)
	return root
}
