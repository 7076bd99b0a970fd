package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"meuwsic/cache"
	"meuwsic/core/ingest"
)

func (e *testEnv) upload(t *testing.T, token string, parts ...uploadPart) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(req)
}

func TestUploadMixedBatch(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.upload(t, token,
		uploadPart{"song.mp3", "audio/mpeg", bytes.Repeat([]byte{0xFF}, 4096)},
		uploadPart{"cover.png", "image/png", []byte("\x89PNG\r\n\x1a\n")},
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("batch with a failure should not report success")
	}
	if resp.Summary != (ingest.Summary{Total: 2, Successful: 1, Failed: 1}) {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.Message != "Uploaded 1 files successfully, 1 failed" {
		t.Errorf("message = %q", resp.Message)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d", len(resp.Results))
	}

	song, cover := resp.Results[0], resp.Results[1]
	if !song.Success || song.TrackID == "" || song.Metadata == nil || song.Metadata.Title != "Test Song" {
		t.Errorf("song result = %+v", song)
	}
	if song.PublicURL != "/api/audio/"+song.Key {
		t.Errorf("public url = %q", song.PublicURL)
	}
	if cover.Success || cover.ErrorType != ingest.CategoryFileFormat {
		t.Errorf("cover result = %+v", cover)
	}

	if _, err := env.store.Stat(context.Background(), song.Key); err != nil {
		t.Errorf("object missing: %v", err)
	}
	n, err := env.tracks.Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("track count = %d, err = %v", n, err)
	}
	if env.ledger.Len() != 2 {
		t.Errorf("ledger len = %d", env.ledger.Len())
	}
	assertDirEmpty(t, env.tempDir)
}

func TestUploadDetectsMissingContentType(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	// ID3 头足够让 mimetype 识别为 audio/mpeg
	data := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 2048)...)
	rec := env.upload(t, token, uploadPart{"untyped.mp3", "application/octet-stream", data})

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Successful != 1 {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestUploadFileTooLarge(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.upload(t, token, uploadPart{"huge.mp3", "audio/mpeg", make([]byte, (1<<20)+10)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorType != string(ingest.CategoryFileSize) {
		t.Errorf("error type = %q", resp.ErrorType)
	}

	failures := env.ledger.Failures(0)
	if len(failures) != 1 || failures[0].ErrorType != string(ingest.CategoryFileSize) || failures[0].Filename != "huge.mp3" {
		t.Errorf("ledger = %+v", failures)
	}
	assertDirEmpty(t, env.tempDir)
}

func TestUploadTotalTooLarge(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	chunk := make([]byte, 900<<10)
	rec := env.upload(t, token,
		uploadPart{"a.mp3", "audio/mpeg", chunk},
		uploadPart{"b.mp3", "audio/mpeg", chunk},
		uploadPart{"c.mp3", "audio/mpeg", chunk},
	)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	n, _ := env.tracks.Count(context.Background())
	if n != 0 {
		t.Errorf("nothing should be published, got %d tracks", n)
	}
	assertDirEmpty(t, env.tempDir)
}

func TestUploadRequiresFiles(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.upload(t, token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty form status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := env.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("json body status = %d", rec.Code)
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "", uploadPart{"song.mp3", "audio/mpeg", []byte("x")})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if env.ledger.Len() != 0 {
		t.Error("rejected request must not reach the ledger")
	}
}

func TestUploadRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.handler.Limiter = cache.NewLocalLimiter(1, 1)
	token := env.login(t)

	part := uploadPart{"song.mp3", "audio/mpeg", bytes.Repeat([]byte{1}, 1024)}
	if rec := env.upload(t, token, part); rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d", rec.Code)
	}
	if rec := env.upload(t, token, part); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second upload status = %d", rec.Code)
	}
}

func TestUploadRateLimiterDownFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	env.handler.Limiter = limiterFunc(func(ctx context.Context, key string) (bool, error) {
		return false, context.DeadlineExceeded
	})

	part := uploadPart{"song.mp3", "audio/mpeg", bytes.Repeat([]byte{1}, 1024)}
	if rec := env.upload(t, token, part); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

type limiterFunc func(ctx context.Context, key string) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (bool, error) { return f(ctx, key) }

func TestGetTracks(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	env.upload(t, token, uploadPart{"one.mp3", "audio/mpeg", bytes.Repeat([]byte{1}, 1024)})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/tracks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Count != 1 {
		t.Errorf("resp = %+v", resp)
	}

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/api/tracks?limit=abc", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d", rec.Code)
	}
}
