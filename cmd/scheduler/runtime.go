package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/broker"
	"github.com/example/meeting-scheduler/internal/broker/eventlog"
	"github.com/example/meeting-scheduler/internal/broker/memory"
	"github.com/example/meeting-scheduler/internal/broker/redis"
	"github.com/example/meeting-scheduler/internal/config"
	"github.com/example/meeting-scheduler/internal/events"
	httptransport "github.com/example/meeting-scheduler/internal/http"
	"github.com/example/meeting-scheduler/internal/logging"
	"github.com/example/meeting-scheduler/internal/persistence/sqlstore"
	"github.com/example/meeting-scheduler/internal/replication"
	"github.com/example/meeting-scheduler/internal/scheduler"
)

// errMemoryBrokerSplit rejects running a single service on the in-process
// broker, where its events would never reach the other service.
var errMemoryBrokerSplit = errors.New("the memory broker only connects services in one process; use serve or set SCHEDULER_BROKER to redis or eventlog")

const (
	memoryBrokerBuffer = 64
	shutdownTimeout    = 10 * time.Second
)

// app holds the process wide dependencies shared by the services.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *sqlstore.Store
	broker  broker.Broker
	now     func() time.Time
	closers []io.Closer
}

// newApp loads configuration, builds the logger and opens the store. When
// migrate is set pending migrations are applied before returning.
func newApp(ctx context.Context, opts *rootOptions, logOutput io.Writer, migrate bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logOutput, level, "app", "meeting-scheduler")

	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	pool, err := sqlstore.Open(ctx, sqlstore.DefaultConfig(dialect, cfg.Database.DSN))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rt := &app{cfg: cfg, logger: logger, store: sqlstore.NewStore(pool), now: time.Now}
	rt.closers = append(rt.closers, rt.store)

	if migrate {
		if err := rt.store.Migrate(ctx, logger); err != nil {
			rt.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return rt, nil
}

// loadConfig prefers the --config flag over SCHEDULER_CONFIG_FILE.
func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts != nil && opts.ConfigFile != "" {
		return config.LoadFrom(opts.ConfigFile)
	}
	return config.Load()
}

// Close releases resources in reverse order of acquisition.
func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Error("failed to close resource", "error", err)
		}
	}
}

// openBroker connects the configured transport.
func (rt *app) openBroker(ctx context.Context) (broker.Broker, error) {
	switch rt.cfg.Broker.Kind {
	case config.BrokerRedis:
		b, err := redis.Dial(ctx, redis.Options{
			Addr:     rt.cfg.Broker.Redis.Addr,
			Password: rt.cfg.Broker.Redis.Password,
			DB:       rt.cfg.Broker.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, b)
		return b, nil
	case config.BrokerEventLog:
		return eventlog.New(rt.store.Repositories().Events, rt.cfg.Broker.ConsumerName), nil
	default:
		b := memory.New(memoryBrokerBuffer)
		rt.closers = append(rt.closers, b)
		return b, nil
	}
}

// meetingService wires the meeting side: REST surface, replicator and
// horizon job.
func (rt *app) meetingService() ([]func(context.Context) error, error) {
	logger := rt.logger.With("service", "meetings")

	recurrences := application.NewRecurrenceService(rt.store, nil, rt.now, logger)
	meetings := application.NewMeetingService(rt.store, nil, rt.now, logger)
	tasks := application.NewTaskService(rt.store, nil, rt.now, logger)
	replicas := application.NewReplicaService(rt.store)

	replicator, err := replication.New(rt.broker, rt.store, logger)
	if err != nil {
		return nil, err
	}
	job := scheduler.NewHorizonJob(recurrences, meetings, rt.cfg.Horizon, rt.now, logger)
	runner, err := scheduler.NewRunner(rt.cfg.HorizonSchedule, job, logger)
	if err != nil {
		return nil, err
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Recurrences: httptransport.NewRecurrenceHandler(recurrences, meetings, rt.now, logger),
		Meetings:    httptransport.NewMeetingHandler(meetings, tasks, logger),
		Tasks:       httptransport.NewTaskHandler(tasks, logger),
		Replicas:    httptransport.NewReplicaHandler(replicas, logger),
		Middleware:  []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	server := newServer(rt.cfg.HTTPPort, router)

	return []func(context.Context) error{
		replicator.Run,
		runner.Run,
		func(ctx context.Context) error { return serve(ctx, server, logger) },
	}, nil
}

// userService wires the user side. Changes are published on the broker.
func (rt *app) userService() []func(context.Context) error {
	logger := rt.logger.With("service", "users")

	publisher := events.NewPublisher(rt.broker, rt.cfg.SensitiveFields, logger)
	users := application.NewUserService(rt.store, publisher, nil, rt.now, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Users:      httptransport.NewUserHandler(users, logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	server := newServer(rt.cfg.UserHTTPPort, router)

	return []func(context.Context) error{
		func(ctx context.Context) error { return serve(ctx, server, logger) },
	}
}

func runServices(ctx context.Context, opts *rootOptions, logOutput io.Writer, withMeetings, withUsers bool) error {
	rt, err := newApp(ctx, opts, logOutput, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if withMeetings != withUsers && rt.cfg.Broker.Kind == config.BrokerMemory {
		return errMemoryBrokerSplit
	}
	if rt.broker, err = rt.openBroker(ctx); err != nil {
		return err
	}

	var tasks []func(context.Context) error
	if withMeetings {
		meetingTasks, err := rt.meetingService()
		if err != nil {
			return err
		}
		tasks = append(tasks, meetingTasks...)
	}
	if withUsers {
		tasks = append(tasks, rt.userService()...)
	}

	rt.logger.Info("scheduler starting", "broker", rt.cfg.Broker.Kind, "database", rt.cfg.Database.Driver)
	return runAll(ctx, tasks...)
}

// runAll runs every task until ctx is cancelled or one of them fails, then
// cancels the rest and waits for them. The first error is returned.
func runAll(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context) error) {
			defer wg.Done()
			if err := task(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(task)
	}
	wg.Wait()
	return firstErr
}

func newServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs server until ctx is done and then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", server.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to shutdown server", "error", err)
		return err
	}
	return nil
}
