package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"meuwsic/core/auth"
	"meuwsic/logger"

	"github.com/google/uuid"
)

const (
	stateCookieName = "meuwsic.oauth-state"
	stateCookieTTL  = 10 * time.Minute
)

// SessionResponse 当前会话信息
type SessionResponse struct {
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	LoginTime time.Time `json:"loginTime"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginHandler 跳转到 Google 授权页
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil || !h.OAuth.Configured() {
		writeError(w, http.StatusServiceUnavailable, "OAuth login is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.Config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.OAuth.AuthCodeURL(state), http.StatusFound)
}

// CallbackHandler 校验 state，换取邮箱，名单内的账号签发会话
func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil || !h.OAuth.Configured() {
		writeError(w, http.StatusServiceUnavailable, "OAuth login is not configured")
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		writeError(w, http.StatusUnauthorized, "Login was cancelled: "+errParam)
		return
	}
	stateCookie, err := r.Cookie(stateCookieName)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		writeError(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}
	clearCookie(w, stateCookieName, "/api/auth", h.Config.Auth.CookieSecure)

	identity, err := h.OAuth.Identify(r.Context(), code)
	if errors.Is(err, auth.ErrEmailNotVerified) {
		logger.Warn("邮箱未验证，拒绝登录", logger.ErrorField(err))
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if err != nil {
		logger.Error("OAuth 登录失败", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Failed to verify Google account")
		return
	}
	if !h.Policy.IsAllowed(identity.Email) {
		logger.Warn("非管理员尝试登录", logger.String("email", identity.Email))
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	token, claims, err := h.Tokens.Issue(identity.Email, true)
	if err != nil {
		logger.Error("签发会话失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	if err := h.Sessions.Save(r.Context(), claims.ID, claims.Email, h.Tokens.TTL()); err != nil {
		logger.Error("保存会话失败", logger.ErrorField(err))
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		MaxAge:   int(h.Tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.Config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Info("管理员登录", logger.String("email", claims.Email))
	http.Redirect(w, r, "/", http.StatusFound)
}

// LogoutHandler 吊销会话并清除 cookie，令牌无效时同样返回成功
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		if claims, err := h.Tokens.Parse(token); err == nil {
			if err := h.Sessions.Delete(r.Context(), claims.ID); err != nil {
				logger.Warn("删除会话失败", logger.ErrorField(err))
			}
		}
	}
	clearCookie(w, SessionCookieName, "/", h.Config.Auth.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// SessionHandler 需要在 AdminMiddleware 之后
func (h *APIHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	resp := SessionResponse{
		Email:     claims.Email,
		IsAdmin:   claims.IsAdmin,
		LoginTime: claims.LoginTime(),
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func clearCookie(w http.ResponseWriter, name, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
