package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config 应用配置，全部来自环境变量（可选 .env 文件）
type Config struct {
	Env       string `env:"APP_ENV" env-default:"production" validate:"oneof=development production test"`
	HTTP      HTTP
	DB        Database
	Redis     Redis
	Storage   Storage
	Upload    Upload
	Auth      Auth
	RateLimit RateLimit
	Log       Log
}

// HTTP 服务器配置
type HTTP struct {
	Addr         string        `env:"HTTP_ADDR" env-default:":8080" validate:"required"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"120s"`
	// 允许跨域的来源，* 表示全部
	AllowedOrigin string `env:"HTTP_ALLOWED_ORIGIN" env-default:"*"`
}

// Database MySQL 配置
type Database struct {
	Host     string `env:"DB_HOST" env-default:"127.0.0.1" validate:"required"`
	Port     string `env:"DB_PORT" env-default:"3306" validate:"required"`
	User     string `env:"DB_USER" env-default:"root" validate:"required"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" env-default:"meuwsic" validate:"required"`
	// SQL 日志
	Debug bool `env:"DB_DEBUG" env-default:"false"`
}

// DSN 返回 MySQL 连接串
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Redis 配置
type Redis struct {
	Host     string `env:"REDIS_HOST" env-default:"127.0.0.1"`
	Port     string `env:"REDIS_PORT" env-default:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// Addr 返回 host:port
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Storage 对象存储配置（MinIO / Cloudflare R2 / 任意 S3 兼容服务）
type Storage struct {
	Endpoint  string `env:"STORAGE_ENDPOINT" env-default:"127.0.0.1:9000" validate:"required"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	Bucket    string `env:"STORAGE_BUCKET" env-default:"meuwsic" validate:"required"`
	Region    string `env:"STORAGE_REGION" env-default:"auto"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" env-default:"false"`
	// 公开访问前缀，为空时使用 /api/audio
	PublicURL string `env:"STORAGE_PUBLIC_URL"`
	KeyPrefix string `env:"STORAGE_KEY_PREFIX" env-default:"music/"`
}

// Upload 上传流水线配置
type Upload struct {
	MaxFileSize  int64         `env:"UPLOAD_MAX_FILE_SIZE" env-default:"52428800" validate:"gt=0"`
	MaxTotalSize int64         `env:"UPLOAD_MAX_TOTAL_SIZE" env-default:"209715200" validate:"gtefield=MaxFileSize"`
	TempDir      string        `env:"UPLOAD_TEMP_DIR" env-default:"./tmp"`
	StepTimeout  time.Duration `env:"UPLOAD_STEP_TIMEOUT" env-default:"30s" validate:"gt=0"`
	RetryCount   int           `env:"UPLOAD_RETRY_ATTEMPTS" env-default:"3" validate:"gte=1"`
	RetryDelay   time.Duration `env:"UPLOAD_RETRY_DELAY" env-default:"500ms"`
	LedgerSize   int           `env:"UPLOAD_LEDGER_SIZE" env-default:"1000" validate:"gt=0"`
}

// Auth 管理员认证配置
type Auth struct {
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL        string        `env:"GOOGLE_REDIRECT_URL" env-default:"http://localhost:8080/api/auth/callback"`
	AdminEmails        []string      `env:"ADMIN_EMAILS" env-separator:","`
	// production 环境必填，development/test 留空时每次启动随机生成
	JWTSecret    string        `env:"JWT_SECRET" validate:"omitempty,min=8"`
	SessionTTL   time.Duration `env:"SESSION_TTL" env-default:"2h" validate:"gt=0"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE" env-default:"false"`
}

// RateLimit 上传限流配置
type RateLimit struct {
	Backend  string `env:"RATE_LIMIT_BACKEND" env-default:"redis" validate:"oneof=redis local off"`
	Capacity int64  `env:"RATE_LIMIT_CAPACITY" env-default:"20" validate:"gt=0"`
	Refill   int64  `env:"RATE_LIMIT_REFILL" env-default:"20" validate:"gt=0"`
}

// Log 日志配置
type Log struct {
	Level      string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	File       string `env:"LOG_FILE"`
	MaxSize    int    `env:"LOG_MAX_SIZE" env-default:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" env-default:"5"`
	MaxAge     int    `env:"LOG_MAX_AGE" env-default:"30"`
}

// Load 加载 .env 与环境变量并校验
func Load() (*Config, error) {
	// .env 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}
	cfg.Auth.AdminEmails = normalizeEmails(cfg.Auth.AdminEmails)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ensureJWTSecret(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ensureJWTSecret production 不允许缺省密钥
func (c *Config) ensureJWTSecret() error {
	if c.Auth.JWTSecret != "" {
		return nil
	}
	if c.Env == "production" {
		return errors.New("invalid config: JWT_SECRET is required when APP_ENV=production")
	}
	log.Printf("JWT_SECRET not set, using a random secret for %s; sessions will not survive a restart.", c.Env)
	c.Auth.JWTSecret = uuid.NewString()
	return nil
}

// MustLoad 加载失败直接退出
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
