package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"meuwsic/cache"
	"meuwsic/config"
	"meuwsic/core/auth"
	"meuwsic/core/events"
	"meuwsic/core/ingest"
	"meuwsic/core/ledger"
	"meuwsic/logger"
	"meuwsic/repository"
	"meuwsic/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// OAuthProvider 第三方登录
type OAuthProvider interface {
	Configured() bool
	AuthCodeURL(state string) string
	Identify(ctx context.Context, code string) (*auth.Identity, error)
}

// Deps 处理器依赖，全部由调用方构造注入
type Deps struct {
	Config       *config.Config
	Orchestrator *ingest.Orchestrator
	Ledger       *ledger.Ledger
	Hub          *events.Hub
	Store        storage.BlobStore
	Tracks       repository.TrackRepository
	Maintenance  repository.MaintenanceRepository
	Sessions     cache.SessionStore
	Tokens       *auth.SessionManager
	Policy       *auth.AdminPolicy
	OAuth        OAuthProvider
	// Limiter 为 nil 时不限流
	Limiter cache.Limiter
}

// APIHandler 处理所有 API 请求
type APIHandler struct {
	Deps
	validate *validator.Validate
}

// NewAPIHandler 创建处理器
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{Deps: deps, validate: validator.New()}
}

// NewRouter 注册全部路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(h.corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	// 公开接口
	api.HandleFunc("/tracks", h.GetTracksHandler).Methods(http.MethodGet)
	api.HandleFunc("/audio/{key:.+}", h.AudioHandler).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/database/ping", h.DatabasePingHandler).Methods(http.MethodGet)

	// 登录
	api.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodGet)
	api.HandleFunc("/auth/callback", h.CallbackHandler).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", h.LogoutHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/session", h.AdminMiddleware(h.SessionHandler)).Methods(http.MethodGet)

	// 管理员接口
	api.HandleFunc("/upload", h.AdminMiddleware(h.RateLimitMiddleware(h.UploadHandler))).Methods(http.MethodPost)
	api.HandleFunc("/admin/upload-report", h.AdminMiddleware(h.UploadReportHandler)).Methods(http.MethodGet)
	api.HandleFunc("/admin/upload-report/live", h.AdminMiddleware(h.UploadReportLiveHandler)).Methods(http.MethodGet)
	api.HandleFunc("/admin/cleanup-bucket", h.AdminMiddleware(h.CleanupBucketHandler)).Methods(http.MethodPost)
	api.HandleFunc("/admin/cleanup-database", h.AdminMiddleware(h.CleanupDatabaseHandler)).Methods(http.MethodPost)

	// 预检请求需要命中一个路由，CORS 中间件才会执行
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return router
}

func (h *APIHandler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := h.Config.HTTP.AllowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if origin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run 启动 HTTP 服务，ctx 取消后优雅关闭
func Run(ctx context.Context, cfg config.HTTP, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
