package cmd

import (
	"context"
	"fmt"

	"meuwsic/config"
	"meuwsic/core/audio"
	"meuwsic/core/ingest"
	"meuwsic/core/ledger"
	"meuwsic/db"
	"meuwsic/logger"
	"meuwsic/repository"
	"meuwsic/storage"

	"gorm.io/gorm"
)

// services 命令共用的依赖
type services struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *storage.MinioStore
	ledger   *ledger.Ledger
	pipeline *ingest.Orchestrator
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	err = logger.InitLogger(logger.Config{
		Level:       cfg.Log.Level,
		OutputPath:  cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    true,
		Development: cfg.Env == "development",
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openDatabase 连接 MySQL 并迁移表结构
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := db.ConnectGormDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		db.Close(gdb)
		return nil, err
	}
	return gdb, nil
}

// newServices 构造入库流水线：数据库、对象存储、账本、编排器
func newServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	gdb, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewMinioStore(ctx, cfg.Storage)
	if err != nil {
		db.Close(gdb)
		return nil, err
	}

	l := ledger.New(cfg.Upload.LedgerSize)
	pipeline := ingest.New(ingest.Config{
		KeyPrefix:   cfg.Storage.KeyPrefix,
		StepTimeout: cfg.Upload.StepTimeout,
		Retry: ingest.RetryPolicy{
			Attempts:     cfg.Upload.RetryCount,
			InitialDelay: cfg.Upload.RetryDelay,
			MaxDelay:     ingest.DefaultRetryPolicy.MaxDelay,
		},
	}, audio.NewValidator(audio.NewExtractor()), store, repository.NewGormCatalogRepository(gdb), l)

	return &services{
		cfg:      cfg,
		db:       gdb,
		store:    store,
		ledger:   l,
		pipeline: pipeline,
	}, nil
}

func (s *services) Close() {
	if err := db.Close(s.db); err != nil {
		logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
	}
	logger.Sync()
}
