package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meuwsic/cache"
	"meuwsic/config"
	"meuwsic/core/auth"
	"meuwsic/core/events"
	"meuwsic/db"
	"meuwsic/logger"
	"meuwsic/repository"
	"meuwsic/server"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务",
	Long:  `启动 MEUWSIC 的 HTTP 服务：上传、播放、报表、登录与维护接口`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	cfg := svc.cfg

	rdb, err := db.ConnectRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	hub := events.NewHub()
	go hub.Run()
	defer hub.Stop()
	svc.ledger.Subscribe(hub.OnAttempt)

	if len(cfg.Auth.AdminEmails) == 0 {
		logger.Warn("未配置 ADMIN_EMAILS，任何人都无法登录管理后台")
	}
	oauth := auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.RedirectURL)
	if !oauth.Configured() {
		logger.Warn("未配置 Google OAuth，登录接口不可用")
	}

	limiter, err := newLimiter(cfg.RateLimit, rdb)
	if err != nil {
		return err
	}

	handler := server.NewAPIHandler(server.Deps{
		Config:       cfg,
		Orchestrator: svc.pipeline,
		Ledger:       svc.ledger,
		Hub:          hub,
		Store:        svc.store,
		Tracks:       repository.NewGormTrackRepository(svc.db),
		Maintenance:  repository.NewGormMaintenanceRepository(svc.db),
		Sessions:     cache.NewRedisSessionStore(rdb),
		Tokens:       auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL),
		Policy:       auth.NewAdminPolicy(cfg.Auth.AdminEmails),
		OAuth:        oauth,
		Limiter:      limiter,
	})

	logger.Info("服务初始化完成",
		logger.String("env", cfg.Env),
		logger.Int("admins", len(cfg.Auth.AdminEmails)),
		logger.Int("ledgerCapacity", svc.ledger.Capacity()),
		logger.String("rateLimit", cfg.RateLimit.Backend))
	return server.Run(ctx, cfg.HTTP, server.NewRouter(handler))
}

// newLimiter 按配置选择限流实现，off 时返回 nil
func newLimiter(cfg config.RateLimit, rdb *redis.Client) (cache.Limiter, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewTokenBucket(rdb, cfg.Capacity, cfg.Refill), nil
	case "local":
		return cache.NewLocalLimiter(int(cfg.Capacity), int(cfg.Refill)), nil
	case "off", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
