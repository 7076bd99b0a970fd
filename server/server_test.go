package server

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"meuwsic/cache"
	"meuwsic/config"
	"meuwsic/core/audio"
	"meuwsic/core/auth"
	"meuwsic/core/events"
	"meuwsic/core/ingest"
	"meuwsic/core/ledger"
	"meuwsic/db"
	"meuwsic/repository"
	"meuwsic/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const adminEmail = "admin@example.com"

type testEnv struct {
	handler *APIHandler
	router  http.Handler
	store   *storage.MemoryStore
	ledger  *ledger.Ledger
	tracks  repository.TrackRepository
	tempDir string
	redis   *miniredis.Miniredis
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// stubExtractor 所有输入都解析成 180 秒的 MP3
func stubExtractor() audio.Extractor {
	return audio.ExtractorFunc(func(buf []byte, filename string) (*audio.Metadata, error) {
		return &audio.Metadata{
			Container:  audio.ContainerMP3,
			Duration:   180,
			Bitrate:    128000,
			SampleRate: 44100,
			Title:      "Test Song",
			Artist:     "Test Artist",
		}, nil
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := newTestDB(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tempDir := t.TempDir()
	cfg := &config.Config{
		HTTP: config.HTTP{AllowedOrigin: "*"},
		Upload: config.Upload{
			MaxFileSize:  1 << 20,
			MaxTotalSize: 2 << 20,
			TempDir:      tempDir,
			StepTimeout:  time.Second,
			RetryCount:   1,
		},
		Auth: config.Auth{SessionTTL: 2 * time.Hour},
	}

	store := storage.NewMemoryStore("")
	l := ledger.New(100)
	hub := events.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	l.Subscribe(hub.OnAttempt)

	tracks := repository.NewGormTrackRepository(gdb)
	orch := ingest.New(ingest.Config{
		KeyPrefix:   "music/",
		StepTimeout: time.Second,
		Retry:       ingest.RetryPolicy{Attempts: 1},
	}, audio.NewValidator(stubExtractor()), store, repository.NewGormCatalogRepository(gdb), l)

	h := NewAPIHandler(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Ledger:       l,
		Hub:          hub,
		Store:        store,
		Tracks:       tracks,
		Maintenance:  repository.NewGormMaintenanceRepository(gdb),
		Sessions:     cache.NewRedisSessionStore(rdb),
		Tokens:       auth.NewSessionManager("test-secret-123", cfg.Auth.SessionTTL),
		Policy:       auth.NewAdminPolicy([]string{adminEmail}),
		OAuth:        &fakeOAuth{email: adminEmail},
	})
	return &testEnv{
		handler: h,
		router:  NewRouter(h),
		store:   store,
		ledger:  l,
		tracks:  tracks,
		tempDir: tempDir,
		redis:   mr,
	}
}

// login 直接签发管理员会话
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	token, claims, err := e.handler.Tokens.Issue(adminEmail, true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := e.handler.Sessions.Save(context.Background(), claims.ID, adminEmail, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return token
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type fakeOAuth struct {
	email      string
	unverified bool
	err        error
}

func (f *fakeOAuth) Configured() bool { return true }

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeOAuth) Identify(ctx context.Context, code string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.unverified {
		return nil, fmt.Errorf("%s: %w", f.email, auth.ErrEmailNotVerified)
	}
	return &auth.Identity{Email: f.email, EmailVerified: true}, nil
}

type uploadPart struct {
	filename    string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, parts ...uploadPart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, p.filename))
		if p.contentType != "" {
			hdr.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.data)
	}
	mw.Close()
	return body, mw.FormDataContentType()
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir not cleaned: %d entries left", len(entries))
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/audio/music/a.mp3", nil)
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got == "" {
		t.Error("expose headers missing")
	}
}
