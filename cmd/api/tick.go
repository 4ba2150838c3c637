package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"deadlineTracker/internal/app"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Выполнить один проход планировщика и вывести отчёт",
	Long:  `Переводит просроченные дедлайны в missed, рассылает созревшие напоминания и продолжает серии. Удобно для запуска из cron.`,
	RunE:  runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, nil).Init(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, tickErr := a.Scheduler().RunTick(ctx, time.Now())

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("отчёт: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return tickErr
}
