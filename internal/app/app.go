package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	httpx "github.com/yungbote/widgetchat-backend/internal/http"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
)

type Role string

const (
	// RoleAPI serves HTTP and, unless RUN_WORKER=false, also consumes jobs.
	RoleAPI Role = "api"
	// RoleWorker consumes jobs and sweeps idle conversations, no HTTP.
	RoleWorker Role = "worker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Role     Role
	Clients  Clients
	Repos    Repos
	Services Services
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics
	Server   *httpx.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, role Role) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("role", string(role))

	otelShutdown := observability.InitOTel(ctx, log, cfg.Telemetry.Otel())

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	theDB := clients.Postgres.DB()

	var metrics *observability.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = observability.New()
	}

	ssehub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, ssehub, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Role:         role,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		SSEHub:       ssehub,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}

	if role == RoleAPI {
		middleware, err := wireMiddleware(log, cfg, clients.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		handlerset := wireHandlers(log, theDB, clients.Redis, serviceset, ssehub, metrics)
		a.Server = wireServer(log, cfg, handlerset, middleware, metrics)
	} else if clients.Bus == nil {
		log.Warn("REALTIME_BUS=local in a standalone worker; replies reach pollers but not push subscribers")
	}
	return a, nil
}

func (a *App) runsWorker() bool {
	return a.Role == RoleWorker || a.Cfg.RunWorker
}

// Run blocks until ctx is cancelled or a component fails, then shuts every
// component down.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)

	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)

	if a.Server != nil {
		if a.Clients.Bus != nil {
			err := a.Clients.Bus.StartForwarder(ctx, func(m realtime.SSEMessage) {
				if a.SSEHub.Subscribers(m.Channel) == 0 {
					a.Metrics.IncRealtimeUnsubscribed()
				}
				a.SSEHub.Broadcast(m)
			})
			if err != nil {
				return fmt.Errorf("start realtime forwarder: %w", err)
			}
		}
		addr := ":" + a.Cfg.Port
		g.Go(func() error {
			a.Log.Info("HTTP server listening", "addr", addr)
			return a.Server.Run(addr)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.Cfg.HTTP.ShutdownSeconds)*time.Second)
			defer cancel()
			return a.Server.Shutdown(shutdownCtx)
		})
	}

	if a.runsWorker() {
		g.Go(func() error { return a.Services.JobWorker.Run(ctx) })
		if a.Services.AsynqServer != nil {
			g.Go(func() error { return a.Services.AsynqServer.Run(ctx) })
		}
		g.Go(func() error {
			a.runSweeper(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) runSweeper(ctx context.Context) {
	interval := time.Duration(a.Cfg.Chat.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	idle := time.Duration(a.Cfg.Chat.IdleHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Services.Chat.SweepIdle(ctx, chatmod.SweepInput{IdleFor: idle})
			if err != nil {
				a.Log.Warn("Idle conversation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.Log.Info("Deactivated idle conversations", "count", n)
			}
		}
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
