package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
	"github.com/VolodymyrStetsenko/rukh/internal/infra/engines"
	"github.com/VolodymyrStetsenko/rukh/internal/infra/foundry"
	"github.com/VolodymyrStetsenko/rukh/internal/infra/memstore"
	"github.com/VolodymyrStetsenko/rukh/internal/infra/postgres"
	"github.com/VolodymyrStetsenko/rukh/internal/infra/rediscache"
	"github.com/VolodymyrStetsenko/rukh/internal/platform/config"
	"github.com/VolodymyrStetsenko/rukh/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持します。
// PostgresアーカイブとRedisキャッシュは設定に応じて省略可能で、
// 無効時はオーケストレータ本体のみで動作する。
type ServiceContainer struct {
	AnalysisService *analysis.Service
	Tracker         *analysis.Tracker

	logger   *slog.Logger
	database *database.Database
	cache    *rediscache.Cache
}

// NewContainer は設定とロガーからコンテナを生成します
func NewContainer(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*ServiceContainer, error) {
	registryCfg, err := engines.LoadRegistryConfig(cfg.EnginesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine registry: %w", err)
	}
	registry := engines.NewRegistry(registryCfg)

	tracker := analysis.NewTracker(logger)
	mapper := synthesis.NewMapper()
	dispatcher := analysis.NewDispatcher(registry, tracker, mapper,
		analysis.WithDispatcherLogger(logger),
		analysis.WithGlobalConcurrency(cfg.Orchestrator.GlobalConcurrency),
	)

	serviceOpts := []analysis.ServiceOption{
		analysis.WithServiceLogger(logger),
		analysis.WithContentGenerator(foundry.New()),
	}

	c := &ServiceContainer{
		Tracker: tracker,
		logger:  logger,
	}

	if cfg.Database.Enabled() {
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.database = db
		archive := postgres.NewArchive(db.Pool)
		serviceOpts = append(serviceOpts,
			analysis.WithArchiver(archive),
			analysis.WithArchiveReader(archive),
		)
		logger.Info("終端ジョブアーカイブを有効化しました", "host", cfg.Database.Host)
	}

	if cfg.Redis.Enabled() {
		cache, err := rediscache.New(ctx, cfg.Redis.URL, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
		if err != nil {
			c.closePartial()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.cache = cache
		serviceOpts = append(serviceOpts, analysis.WithStatusCache(cache))
		logger.Info("ステータスキャッシュを有効化しました", "ttl_seconds", cfg.Redis.TTLSeconds)
	}

	c.AnalysisService = analysis.NewService(memstore.New(), dispatcher, tracker, serviceOpts...)

	return c, nil
}

// Logger はコンテナのロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	return c.logger
}

// Close はコンテナが保持するリソースをクリーンアップします
func (c *ServiceContainer) Close() {
	if c.AnalysisService != nil {
		c.AnalysisService.Close()
	}
	c.closePartial()
}

func (c *ServiceContainer) closePartial() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.Warn("Redis接続のクローズに失敗しました", "error", err)
		}
		c.cache = nil
	}
	if c.database != nil {
		c.database.Close()
		c.database = nil
	}
}
