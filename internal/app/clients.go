package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/widgetchat-backend/internal/data/db"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/jobs/asynqx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime/bus"
)

type Clients struct {
	Postgres *db.PostgresService
	Redis    *goredis.Client
	Engine   client.Engine
	Asynq    *asynqx.Client
	Bus      bus.Bus
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	pg, err := db.NewPostgresService(cfg.Database.DB(), log)
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	c.Postgres = pg
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("automigrate: %w", err)
		}
	}

	if cfg.Redis.Enabled() {
		opt, err := cfg.Redis.Options()
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("redis options: %w", err)
		}
		rdb := goredis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			c.Close()
			return Clients{}, fmt.Errorf("redis ping: %w", err)
		}
		c.Redis = rdb
		if cfg.Realtime.Bus == "redis" {
			c.Bus = bus.NewRedisBusFromClient(log, rdb, cfg.Realtime.Channel)
		}
	}

	eng, err := NewEngine(log, cfg.Inference)
	if err != nil {
		c.Close()
		return Clients{}, err
	}
	c.Engine = eng

	if cfg.Jobs.Dispatch == "asynq" {
		ac, err := asynqx.NewClient(asynqx.ClientConfig{
			RedisURL: cfg.Redis.ConnURL(),
			MaxRetry: cfg.Jobs.AsynqMaxRetry,
			Timeout:  cfg.Jobs.StaleAfter(),
		})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init asynq client: %w", err)
		}
		c.Asynq = ac
	}
	return c, nil
}

// NewEngine builds the inference engine for INFERENCE_MODE.
func NewEngine(log *logger.Logger, cfg InferenceConfig) (client.Engine, error) {
	if cfg.Mode == "mock" {
		log.Warn("Inference running in mock mode")
		return client.NewMock(), nil
	}
	eng, err := client.New(cfg.Options())
	if err != nil {
		return nil, fmt.Errorf("init inference client: %w", err)
	}
	return eng, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Asynq != nil {
		_ = c.Asynq.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Postgres != nil {
		_ = c.Postgres.Close()
	}
}
