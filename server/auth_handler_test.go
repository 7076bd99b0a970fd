package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func (e *testEnv) startLogin(t *testing.T) *http.Cookie {
	t.Helper()
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d", rec.Code)
	}
	state := findCookie(rec, stateCookieName)
	if state == nil || state.Value == "" {
		t.Fatal("state cookie missing")
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil || loc.Query().Get("state") != state.Value {
		t.Fatalf("redirect = %q", rec.Header().Get("Location"))
	}
	return state
}

func (e *testEnv) callback(state *http.Cookie, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?"+query, nil)
	if state != nil {
		req.AddCookie(state)
	}
	return e.do(req)
}

func TestOAuthLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	state := env.startLogin(t)

	rec := env.callback(state, "code=abc&state="+state.Value)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback status = %d, location = %q, body = %s", rec.Code, rec.Header().Get("Location"), rec.Body.String())
	}
	session := findCookie(rec, SessionCookieName)
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("session cookie = %+v", session)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(session)
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Email != adminEmail || !resp.IsAdmin {
		t.Errorf("session = %+v", resp)
	}
	if got := resp.ExpiresAt.Sub(resp.LoginTime); got != 2*time.Hour {
		t.Errorf("session lifetime = %v", got)
	}

	// 登出后同一个令牌失效
	logout := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	logout.AddCookie(session)
	if rec := env.do(logout); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	again := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	again.AddCookie(session)
	rec = env.do(again)
	if rec.Code != http.StatusUnauthorized || errorMessage(t, rec) != "Session revoked" {
		t.Errorf("after logout status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestOAuthCallbackRejects(t *testing.T) {
	env := newTestEnv(t)
	state := env.startLogin(t)

	tests := []struct {
		name   string
		cookie *http.Cookie
		query  string
		status int
	}{
		{"state mismatch", state, "code=abc&state=other", http.StatusBadRequest},
		{"no state cookie", nil, "code=abc&state=" + state.Value, http.StatusBadRequest},
		{"missing code", state, "state=" + state.Value, http.StatusBadRequest},
		{"provider error", state, "error=access_denied", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.callback(tt.cookie, tt.query)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if findCookie(rec, SessionCookieName) != nil {
				t.Error("no session should be issued")
			}
		})
	}
}

func TestOAuthCallbackDeniesUnlistedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.handler.OAuth = &fakeOAuth{email: "stranger@example.com"}
	state := env.startLogin(t)

	rec := env.callback(state, "code=abc&state="+state.Value)
	if rec.Code != http.StatusForbidden || errorMessage(t, rec) != "Access denied" {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestOAuthCallbackRejectsUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.handler.OAuth = &fakeOAuth{email: adminEmail, unverified: true}
	state := env.startLogin(t)

	rec := env.callback(state, "code=abc&state="+state.Value)
	if rec.Code != http.StatusForbidden || errorMessage(t, rec) != "Access denied" {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if c := findCookie(rec, SessionCookieName); c != nil && c.Value != "" {
		t.Errorf("session cookie set for unverified email: %+v", c)
	}
}

func TestOAuthCallbackProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.handler.OAuth = &fakeOAuth{err: errors.New("token exchange failed")}
	state := env.startLogin(t)

	if rec := env.callback(state, "code=abc&state="+state.Value); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLoginNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.handler.OAuth = nil
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAdminMiddleware(t *testing.T) {
	env := newTestEnv(t)

	nonAdmin, _, err := env.handler.Tokens.Issue(adminEmail, false)
	if err != nil {
		t.Fatal(err)
	}
	delisted, delistedClaims, err := env.handler.Tokens.Issue("former@example.com", true)
	if err != nil {
		t.Fatal(err)
	}
	env.handler.Sessions.Save(t.Context(), delistedClaims.ID, "former@example.com", time.Hour)
	unsaved, _, err := env.handler.Tokens.Issue(adminEmail, true)
	if err != nil {
		t.Fatal(err)
	}
	valid := env.login(t)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"not admin", nonAdmin, http.StatusForbidden},
		{"removed from allowlist", delisted, http.StatusForbidden},
		{"not in registry", unsaved, http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/upload-report", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if rec := env.do(req); rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestAdminMiddlewareSessionStoreDown(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	env.redis.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := env.do(req); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTokenFromRequestPrefersCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer header-token")
	if got := tokenFromRequest(req); got != "header-token" {
		t.Errorf("bearer token = %q", got)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	if got := tokenFromRequest(req); got != "cookie-token" {
		t.Errorf("cookie token = %q", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	if got := clientIP(req); got != "10.0.0.7" {
		t.Errorf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); !strings.EqualFold(got, "203.0.113.9") {
		t.Errorf("forwarded ip = %q", got)
	}
}
