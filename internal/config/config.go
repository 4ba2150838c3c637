package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/urgency"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultPath = "config.yml"
	EnvPrefix   = "DEADLINES"
)

type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Repository RepositoryConfig   `mapstructure:"repository"`
	Engine     EngineConfig       `mapstructure:"engine"`
	Urgency    urgency.Thresholds `mapstructure:"urgency"`
	Planner    PlannerConfig      `mapstructure:"planner"`
	Dispatcher DispatcherConfig   `mapstructure:"dispatcher"`
	Scheduler  SchedulerConfig    `mapstructure:"scheduler"`
	Notify     NotifyConfig       `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MinConnections int           `mapstructure:"min_connections"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

type RepositoryConfig struct {
	Type       string `mapstructure:"type"` // "postgres", "sqlite" или "inmemory"
	SQLitePath string `mapstructure:"sqlite_path"`
}

type EngineConfig struct {
	// часовой пояс лаборатории: календарные дни, время отправки, даты без времени
	Location string `mapstructure:"location"`
}

type PlannerConfig struct {
	FireHour       int    `mapstructure:"fire_hour"`
	FireMinute     int    `mapstructure:"fire_minute"`
	DefaultChannel string `mapstructure:"default_channel"`
}

type DispatcherConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	ClaimTTL    time.Duration `mapstructure:"claim_ttl"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type NotifyConfig struct {
	Transport      string        `mapstructure:"transport"` // "log" или "webhook"
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
	TemplatesPath  string        `mapstructure:"templates_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.idle_timeout", 5*time.Minute)

	v.SetDefault("logging.development", false)

	v.SetDefault("repository.type", "inmemory")
	v.SetDefault("repository.sqlite_path", "data/deadlines.db")

	v.SetDefault("engine.location", "UTC")

	th := urgency.DefaultThresholds()
	v.SetDefault("urgency.due_this_week_days", th.DueThisWeekDays)
	v.SetDefault("urgency.due_soon_days", th.DueSoonDays)

	v.SetDefault("planner.fire_hour", 9)
	v.SetDefault("planner.fire_minute", 0)
	v.SetDefault("planner.default_channel", string(reminder.ChannelEmail))

	v.SetDefault("dispatcher.batch_size", 100)
	v.SetDefault("dispatcher.concurrency", 4)
	v.SetDefault("dispatcher.send_timeout", 10*time.Second)
	v.SetDefault("dispatcher.claim_ttl", 2*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.store_timeout", 2*time.Minute)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("notify.transport", "log")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.request_timeout", 5*time.Second)
	v.SetDefault("notify.max_elapsed", 30*time.Second)
	v.SetDefault("notify.templates_path", "")
}

// Load читает YAML, поверх него переменные окружения DEADLINES_*.
// Отсутствующий файл не ошибка: остаются значения по умолчанию
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("ошибка парсинга %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("проверка конфигурации: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port: не задан"))
	}
	if c.Server.RateLimit <= 0 {
		errs = append(errs, errors.New("server.rate_limit: должен быть положительным"))
	}

	switch c.Repository.Type {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url: обязателен для postgres"))
		}
	case "sqlite":
		if c.Repository.SQLitePath == "" {
			errs = append(errs, errors.New("repository.sqlite_path: обязателен для sqlite"))
		}
	case "inmemory":
	default:
		errs = append(errs, fmt.Errorf("repository.type: неизвестный тип %q", c.Repository.Type))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Urgency.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("urgency: %w", err))
	}

	if c.Planner.FireHour < 0 || c.Planner.FireHour > 23 {
		errs = append(errs, fmt.Errorf("planner.fire_hour: %d вне диапазона 0-23", c.Planner.FireHour))
	}
	if c.Planner.FireMinute < 0 || c.Planner.FireMinute > 59 {
		errs = append(errs, fmt.Errorf("planner.fire_minute: %d вне диапазона 0-59", c.Planner.FireMinute))
	}
	if !reminder.Channel(c.Planner.DefaultChannel).Valid() {
		errs = append(errs, fmt.Errorf("planner.default_channel: неизвестный канал %q", c.Planner.DefaultChannel))
	}

	if c.Dispatcher.BatchSize <= 0 || c.Dispatcher.Concurrency <= 0 {
		errs = append(errs, errors.New("dispatcher: batch_size и concurrency должны быть положительными"))
	}
	if c.Dispatcher.SendTimeout <= 0 || c.Dispatcher.ClaimTTL <= 0 {
		errs = append(errs, errors.New("dispatcher: send_timeout и claim_ttl должны быть положительными"))
	}

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval: должен быть положительным"))
	}
	if c.Scheduler.StoreTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.store_timeout: должен быть положительным"))
	}

	switch c.Notify.Transport {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			errs = append(errs, errors.New("notify.webhook_url: обязателен для webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.transport: неизвестный транспорт %q", c.Notify.Transport))
	}

	return errors.Join(errs...)
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Engine.Location)
	if err != nil {
		return nil, fmt.Errorf("engine.location: %w", err)
	}
	return loc, nil
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// Watch перечитывает файл при изменении и отдаёт новую конфигурацию в fn.
// Конфигурация с ошибками отбрасывается, продолжает действовать прежняя
func Watch(v *viper.Viper, fn func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config: Файл конфигурации изменён",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))

		cfg, err := decode(v)
		if err != nil {
			logger.Error("Config: Новая конфигурация отклонена", err)
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}
