package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/askscribe/internal/ai"
	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/config"
	"github.com/xxxsen/askscribe/internal/db"
	"github.com/xxxsen/askscribe/internal/extract"
	"github.com/xxxsen/askscribe/internal/filestore"
	"github.com/xxxsen/askscribe/internal/indexstore"
	"github.com/xxxsen/askscribe/internal/rag"
	"github.com/xxxsen/askscribe/internal/repo"
	"github.com/xxxsen/askscribe/internal/retrieval"
	"github.com/xxxsen/askscribe/internal/service"
	"github.com/xxxsen/askscribe/internal/termweight"
)

type app struct {
	cfg       *config.Config
	db        *sql.DB
	store     *retrieval.Store
	documents *service.DocumentService
	engine    *rag.Engine
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Debug("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Database.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a, err := buildApp(ctx, cfg, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(ctx context.Context, cfg *config.Config, conn *sql.DB) (*app, error) {
	docRepo := repo.NewDocumentRepo(conn, cfg.Database.Driver)
	chunkRepo := repo.NewChunkRepo(conn, cfg.Database.Driver)

	snapshots, err := indexstore.New(cfg.IndexStore)
	if err != nil {
		return nil, fmt.Errorf("init index store: %w", err)
	}
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	mode, err := termweight.ParseIDFMode(cfg.TermModel.IDFMode)
	if err != nil {
		return nil, err
	}
	store := retrieval.NewStore(termweight.NewModel(mode), snapshots, chunkRepo, docRepo)
	store.Load(ctx)

	generator, err := buildGenerator(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}
	manager := ai.NewManager(generator, ai.ManagerConfig{Timeout: cfg.AI.Timeout})

	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Chunker.ChunkSize),
		chunker.WithOverlap(cfg.Chunker.Overlap),
	)
	documents := service.NewDocumentService(docRepo, chunkRepo, files, store, extract.New(), splitter, manager,
		service.DocumentServiceConfig{MaxUploadSize: cfg.Upload.MaxBytes})
	engine := rag.NewEngine(store, manager, rag.Config{
		Timeout:       time.Duration(cfg.AI.Timeout) * time.Second,
		Retries:       cfg.AI.Retries,
		RetryInterval: time.Second,
		CacheSize:     cfg.AI.CacheSize,
		CacheTTL:      time.Duration(cfg.AI.CacheTTLSeconds) * time.Second,
	})

	logutil.GetLogger(ctx).Debug("app initialized",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("index_store", snapshots.Location()),
		zap.String("file_store", files.Type()),
		zap.String("idf_mode", string(mode)),
		zap.String("ai_provider", cfg.AI.Provider),
	)
	return &app{
		cfg:       cfg,
		db:        conn,
		store:     store,
		documents: documents,
		engine:    engine,
	}, nil
}

// buildGenerator chains the primary provider with the configured
// fallbacks.
func buildGenerator(ctx context.Context, cfg config.AIConfig) (ai.IGenerator, error) {
	backends := append([]config.AIBackend{{Provider: cfg.Provider, Model: cfg.Model, Data: cfg.Data}}, cfg.Fallbacks...)
	entries := make([]ai.GeneratorEntry, 0, len(backends))
	for i, b := range backends {
		provider, err := ai.NewProvider(b.Provider, b.Data)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("init ai provider: %w", err)
			}
			logutil.GetLogger(ctx).Warn("skip ai fallback", zap.String("provider", b.Provider), zap.Error(err))
			continue
		}
		entries = append(entries, ai.GeneratorEntry{
			Name:      provider.Name() + ":" + b.Model,
			Generator: ai.NewGenerator(provider, b.Model),
		})
	}
	return ai.NewGroupGenerator(entries), nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
