package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

func TestAdminPolicy(t *testing.T) {
	p := NewAdminPolicy([]string{" Admin@Example.com ", "", "ops@example.com"})

	tests := []struct {
		email string
		want  bool
	}{
		{"admin@example.com", true},
		{"ADMIN@EXAMPLE.COM", true},
		{"  ops@example.com\n", true},
		{"intruder@example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := p.IsAllowed(tt.email); got != tt.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
	if p.Size() != 2 {
		t.Errorf("Size = %d, want 2", p.Size())
	}

	var nilPolicy *AdminPolicy
	if nilPolicy.IsAllowed("admin@example.com") {
		t.Error("nil policy must deny")
	}
}

func TestSessionIssueAndParse(t *testing.T) {
	m := NewSessionManager("test-secret-key", 2*time.Hour)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	token, issued, err := m.Issue("Admin@Example.com", true)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ID == "" {
		t.Error("session id should be set")
	}

	m.now = func() time.Time { return base.Add(time.Hour) }
	claims, err := m.ParseAdmin(token)
	if err != nil {
		t.Fatalf("ParseAdmin: %v", err)
	}
	if claims.Email != "admin@example.com" || !claims.IsAdmin {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.LoginTime().Equal(base) {
		t.Errorf("LoginTime = %v, want %v", claims.LoginTime(), base)
	}

	m.now = func() time.Time { return base.Add(2*time.Hour + time.Second) }
	if _, err := m.Parse(token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSessionRejectsTamperedAndNonAdmin(t *testing.T) {
	m := NewSessionManager("test-secret-key", 2*time.Hour)

	token, _, err := m.Issue("viewer@example.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ParseAdmin(token); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("err = %v, want ErrNotAdmin", err)
	}

	other := NewSessionManager("another-secret", 2*time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := m.Parse("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := hashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")) != nil {
		t.Error("expected match")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong")) == nil {
		t.Error("expected mismatch")
	}

	a, err := UnusableHash()
	if err != nil {
		t.Fatalf("UnusableHash: %v", err)
	}
	b, _ := UnusableHash()
	if a == b {
		t.Error("unusable hashes should differ")
	}
	for _, guess := range []string{"", "system", "password"} {
		if bcrypt.CompareHashAndPassword([]byte(a), []byte(guess)) == nil {
			t.Errorf("unusable hash matched %q", guess)
		}
	}
}

func TestGoogleAuthCodeURL(t *testing.T) {
	g := NewGoogleProvider("client-id", "client-secret", "http://localhost:8080/api/auth/callback")
	if !g.Configured() {
		t.Fatal("expected configured provider")
	}

	u, err := url.Parse(g.AuthCodeURL("state-123"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("prompt") != "select_account" || q.Get("access_type") != "offline" {
		t.Errorf("unexpected query: %v", q)
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}

	if NewGoogleProvider("", "", "").Configured() {
		t.Error("empty credentials should not be configured")
	}
}

// identityServer 模拟令牌端点和 userinfo 端点
func identityServer(t *testing.T, userinfo map[string]any) *GoogleProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userinfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewGoogleProvider("client-id", "client-secret", "http://localhost/callback")
	g.cfg.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	g.userInfoURL = srv.URL + "/userinfo"
	return g
}

func TestGoogleIdentify(t *testing.T) {
	g := identityServer(t, map[string]any{"email": "admin@example.com", "email_verified": true, "name": "Admin"})

	id, err := g.Identify(context.Background(), "code-1")
	if err != nil {
		t.Fatal(err)
	}
	if id.Email != "admin@example.com" || !id.EmailVerified || id.Name != "Admin" {
		t.Errorf("identity = %+v", id)
	}
}

func TestGoogleIdentifyRejectsUnverifiedEmail(t *testing.T) {
	g := identityServer(t, map[string]any{"email": "admin@example.com", "email_verified": false})

	id, err := g.Identify(context.Background(), "code-1")
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("err = %v, want ErrEmailNotVerified", err)
	}
	if id != nil {
		t.Errorf("identity = %+v, want nil", id)
	}
}

func TestGoogleIdentifyRequiresEmail(t *testing.T) {
	g := identityServer(t, map[string]any{"email_verified": true})

	if _, err := g.Identify(context.Background(), "code-1"); err == nil || errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("err = %v, want missing email error", err)
	}
}
