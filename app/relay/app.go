package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/relayx/app/relay/controller"
	"github.com/canopy-network/relayx/pkg/config"
	"github.com/canopy-network/relayx/pkg/confirm"
	"github.com/canopy-network/relayx/pkg/endpoint"
	"github.com/canopy-network/relayx/pkg/failover"
	"github.com/canopy-network/relayx/pkg/logging"
	"github.com/canopy-network/relayx/pkg/oplog"
	"github.com/canopy-network/relayx/pkg/redis"
	"github.com/canopy-network/relayx/pkg/rpc"
	"github.com/canopy-network/relayx/pkg/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// App wires the transaction reliability core: endpoint registry + failover,
// confirmation waiter, interaction log, the submit pipeline, a cron-driven
// health sweep, and the operator HTTP server.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	RedisClient *redis.Client
	Registry    *endpoint.Registry
	Failover    *failover.Manager
	Waiter      *confirm.Waiter
	OpLog       *oplog.Logger
	Submitter   *Submitter

	Cron   *cron.Cron
	Server *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	// Redis backs the durable log snapshot and the switch-event mirror.
	// Optional: without it the relay operates in-memory only.
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Redis unavailable - interaction log runs in-memory only", zap.Error(err))
			redisClient = nil
		}
	}

	factory := rpc.NewHTTPFactory(rpc.Opts{Timeout: cfg.HealthTimeout})

	eps := make([]endpoint.Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		eps = append(eps, endpoint.Endpoint{
			Name:         ep.Name,
			URL:          ep.URL,
			StreamingURL: ep.StreamingURL,
			Priority:     ep.Priority,
		})
	}
	registry, err := endpoint.New(eps, chainHeadProber(factory), logger, endpoint.Options{
		FailureThreshold: cfg.FailureThreshold,
		HealthInterval:   cfg.HealthInterval,
		HealthTimeout:    cfg.HealthTimeout,
	})
	if err != nil {
		logger.Fatal("Unable to build endpoint registry", zap.Error(err))
	}

	var broadcast failover.Broadcaster
	if redisClient != nil {
		broadcast = redisClient
	}
	manager := failover.New(registry, broadcast, logger)

	waiter := confirm.NewWaiter(logger, confirm.Options{
		Timeout:      cfg.ConfirmTimeout,
		PollInterval: cfg.PollInterval,
	})

	var store oplog.SnapshotStore
	if redisClient != nil {
		store = oplog.NewRedisStore(redisClient)
	}
	opLog := oplog.NewLogger(logger, store, oplog.Options{
		Capacity:     cfg.BufferCapacity,
		SnapshotSize: cfg.SnapshotSize,
	})
	opLog.Restore(ctx)

	submitter := NewSubmitter(ctx, manager, factory, waiter, opLog, logger)

	app := &App{
		Config:      cfg,
		Logger:      logger,
		RedisClient: redisClient,
		Registry:    registry,
		Failover:    manager,
		Waiter:      waiter,
		OpLog:       opLog,
		Submitter:   submitter,
	}

	if err := app.SetupScheduler(ctx, cfg.HealthCron); err != nil {
		logger.Fatal("Unable to schedule health sweep", zap.Error(err))
	}
	app.SetupServer()

	return app
}

// chainHeadProber probes an endpoint by querying the chain head through a
// throwaway client. Probe clients are cheap; they carry no connection state
// worth caching.
func chainHeadProber(factory rpc.Factory) endpoint.Prober {
	return endpoint.ProbeFunc(func(ctx context.Context, ep endpoint.Endpoint) error {
		_, err := factory.NewClient(ep.URL).ChainHead(ctx)
		return err
	})
}

// SetupScheduler sets up the cron-driven concurrent health sweep.
func (a *App) SetupScheduler(ctx context.Context, cronSpec string) error {
	// Seconds field included.
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each sweep bounded
		sctx, cancel := context.WithTimeout(ctx, a.Config.HealthTimeout+5*time.Second)
		defer cancel()
		healthy := a.Failover.Sweep(sctx)
		a.Logger.Debug("health sweep finished",
			zap.Int("healthy", healthy),
			zap.Int("endpoints", len(a.Failover.All())))
	})
	return err
}

// SetupServer sets up the operator HTTP server.
func (a *App) SetupServer() {
	ctrl := controller.New(&controller.Deps{
		Logger:    a.Logger,
		Failover:  a.Failover,
		OpLog:     a.OpLog,
		RedisPing: a.redisPing,
	})
	a.Server = &http.Server{Addr: a.Config.ListenAddr, Handler: ctrl.NewRouter()}
}

func (a *App) redisPing(ctx context.Context) error {
	if a.RedisClient == nil {
		return nil
	}
	return a.RedisClient.Health(ctx)
}

// Start starts the cron scheduler and the HTTP server and blocks until the
// context is canceled.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("health sweep scheduled", zap.String("cronSpec", a.Config.HealthCron))

	go func() {
		a.Logger.Info("operator server listening", zap.String("addr", a.Config.ListenAddr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("operator server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Stop()
}

// Stop stops the scheduler, the server, and flushes the interaction log.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	if a.Server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Server.Shutdown(sctx)
	}
	a.Submitter.Close()
	a.OpLog.Close()
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	a.Logger.Info("relay stopped")
}
