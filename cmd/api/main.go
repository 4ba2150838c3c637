package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"deadlineTracker/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "deadline-tracker",
	Short:        "Deadline tracker - сроки лабораторий и напоминания",
	Long:         `Сервис учёта дедлайнов: срочность, напоминания, автоматический перевод в missed и продолжение повторяющихся серий.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Путь к файлу конфигурации")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tickCmd)
}

func loadConfig() (*config.Config, *viper.Viper, error) {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	return cfg, v, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
