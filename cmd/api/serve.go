package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"deadlineTracker/internal/app"
	"deadlineTracker/internal/migrations"

	"github.com/spf13/cobra"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API и планировщик",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Применить миграции PostgreSQL перед запуском")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig()
	if err != nil {
		return err
	}

	if migrateOnStart && cfg.Repository.Type == "postgres" {
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return fmt.Errorf("миграции: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, v).Init(ctx)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
