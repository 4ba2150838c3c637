package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/config"
	"deadlineTracker/internal/dispatcher"
	"deadlineTracker/internal/handlers"
	"deadlineTracker/internal/lifecycle"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/middleware"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/notify"
	"deadlineTracker/internal/planner"
	"deadlineTracker/internal/repository/deadline/inmemory"
	"deadlineTracker/internal/repository/deadline/postgres"
	"deadlineTracker/internal/repository/deadline/sqlite"
	"deadlineTracker/internal/service"
	"deadlineTracker/internal/urgency"
	"deadlineTracker/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type App struct {
	config     *config.Config
	viper      *viper.Viper
	clock      clock.Clock
	server     *http.Server
	router     *chi.Mux
	repository service.Repository // интерфейс!
	service    *service.DeadlineService
	scheduler  *worker.SchedulerLoop
	shutdowns  []func() // функции для graceful shutdown
}

// New: v может быть nil, тогда конфигурация не перечитывается на лету
func New(cfg *config.Config, v *viper.Viper) *App {
	return &App{
		config:    cfg,
		viper:     v,
		clock:     clock.Real{},
		shutdowns: make([]func(), 0),
	}
}

func (a *App) Init(ctx context.Context) (*App, error) {
	if err := logger.Init(a.config.Logging.Development); err != nil {
		return nil, fmt.Errorf("инициализация логгера: %w", err)
	}

	a.shutdowns = append(a.shutdowns, func() {
		logger.Info("Завершение работы логгирования...")
		logger.Sync()
	})

	loc, err := a.config.Location()
	if err != nil {
		return nil, err
	}

	if err := a.initRepository(ctx); err != nil {
		a.Close()
		return nil, err
	}

	transport := a.initTransport()
	renderer, err := a.initRenderer(loc)
	if err != nil {
		a.Close()
		return nil, err
	}

	pl := planner.New(a.repository, planner.Config{
		FireHour:       a.config.Planner.FireHour,
		FireMinute:     a.config.Planner.FireMinute,
		DefaultChannel: reminder.Channel(a.config.Planner.DefaultChannel),
		Location:       loc,
	}, a.clock)
	lc := lifecycle.New(a.repository, pl, lifecycle.Config{
		BatchSize: a.config.Scheduler.BatchSize,
		Location:  loc,
	}, a.clock)
	disp := dispatcher.New(a.repository, transport, renderer, dispatcher.Config{
		BatchSize:   a.config.Dispatcher.BatchSize,
		Concurrency: a.config.Dispatcher.Concurrency,
		SendTimeout: a.config.Dispatcher.SendTimeout,
		ClaimTTL:    a.config.Dispatcher.ClaimTTL,
	}, a.clock)

	a.service = service.NewDeadlineService(a.repository, pl, lc, urgency.NewClassifier(a.config.Urgency, loc), a.clock)

	interval := a.config.Scheduler.Interval
	storeTimeout := a.config.Scheduler.StoreTimeout
	a.scheduler = worker.NewSchedulerLoop(lc, disp, a.clock, &interval, &storeTimeout)

	a.initRouter(loc)

	if a.viper != nil {
		config.Watch(a.viper, func(cfg *config.Config) {
			if err := a.service.SetThresholds(cfg.Urgency); err != nil {
				logger.Error("App: Пороги срочности не применены", err)
			}
		})
	}

	logger.Info("App: Инициализация завершена",
		zap.String("repository", a.config.Repository.Type),
		zap.String("transport", a.config.Notify.Transport),
		zap.String("location", loc.String()))
	return a, nil
}

func (a *App) initRepository(ctx context.Context) error {
	switch a.config.Repository.Type {
	case "postgres":
		db := a.config.Database
		storage, err := postgres.New(ctx, db.URL, &postgres.PoolOptions{
			MaxConns:        int32(db.MaxConnections),
			MinConns:        int32(db.MinConnections),
			MaxConnIdleTime: db.IdleTimeout,
		})
		if err != nil {
			return fmt.Errorf("подключение к PostgreSQL: %w", err)
		}
		a.repository = storage
		a.shutdowns = append(a.shutdowns, storage.Close)

	case "sqlite":
		storage, err := sqlite.New(a.config.Repository.SQLitePath)
		if err != nil {
			return fmt.Errorf("открытие SQLite: %w", err)
		}
		a.repository = storage
		a.shutdowns = append(a.shutdowns, func() {
			if err := storage.Close(); err != nil {
				logger.Error("App: Ошибка закрытия SQLite", err)
			}
		})

	case "inmemory":
		a.repository = inmemory.New()

	default:
		return fmt.Errorf("неизвестный тип репозитория %q", a.config.Repository.Type)
	}
	return nil
}

func (a *App) initTransport() notify.Transport {
	if a.config.Notify.Transport == "webhook" {
		return notify.NewWebhookTransport(notify.WebhookConfig{
			URL:            a.config.Notify.WebhookURL,
			RequestTimeout: a.config.Notify.RequestTimeout,
			MaxElapsed:     a.config.Notify.MaxElapsed,
		})
	}
	return notify.LogTransport{}
}

func (a *App) initRenderer(loc *time.Location) (*notify.Renderer, error) {
	templates := notify.DefaultTemplates()
	if path := a.config.Notify.TemplatesPath; path != "" {
		loaded, err := notify.LoadTemplates(path)
		if err != nil {
			return nil, fmt.Errorf("загрузка шаблонов: %w", err)
		}
		templates = loaded
	}
	return notify.NewRenderer(templates, loc)
}

func (a *App) initRouter(loc *time.Location) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(a.config.Server.CORSOrigins))
	r.Use(middleware.RateLimit(a.config.Server.RateLimit))

	handlers.NewDeadlineHandler(a.service, a.scheduler, loc).Register(r)

	a.router = r
	a.server = &http.Server{
		Addr:              a.config.GetServerAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) Scheduler() *worker.SchedulerLoop {
	return a.scheduler
}

func (a *App) Service() *service.DeadlineService {
	return a.service
}

// Run блокирует до отмены ctx или падения сервера, затем останавливает всё по очереди:
// HTTP, планировщик (с доведением текущего прохода), хранилище, логгер
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan struct{})
	if a.config.Scheduler.Enabled {
		go func() {
			defer close(schedulerDone)
			a.scheduler.Start(ctx)
		}()
	} else {
		close(schedulerDone)
		logger.Info("App: Планировщик отключён в конфигурации")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("App: HTTP сервер запущен", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("App: Получен сигнал завершения")
	case err := <-serverErr:
		if err != nil {
			logger.Error("App: Ошибка HTTP сервера", err)
			runErr = fmt.Errorf("HTTP сервер: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("App: Ошибка остановки HTTP сервера", err)
	}

	a.scheduler.Stop()
	<-schedulerDone

	a.Close()
	return runErr
}

// Close выполняет shutdown-функции в обратном порядке
func (a *App) Close() {
	for i := len(a.shutdowns) - 1; i >= 0; i-- {
		a.shutdowns[i]()
	}
	a.shutdowns = nil
}
