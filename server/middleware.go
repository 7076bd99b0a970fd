package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"meuwsic/core/auth"
	"meuwsic/logger"
)

type contextKey string

const claimsKey contextKey = "claims"

// SessionCookieName 会话 cookie
const SessionCookieName = "meuwsic.session-token"

// ClaimsFromContext 取出 AdminMiddleware 放入的会话信息
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

// tokenFromRequest 优先读 cookie，其次 Authorization: Bearer
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AdminMiddleware 校验签名、管理员标记、会话时长，以及会话是否已被吊销
func (h *APIHandler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := h.Tokens.ParseAdmin(token)
		switch {
		case errors.Is(err, auth.ErrSessionExpired):
			writeError(w, http.StatusUnauthorized, "Session expired")
			return
		case errors.Is(err, auth.ErrNotAdmin):
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "Invalid session")
			return
		}

		// 名单可能在会话有效期内被修改
		if !h.Policy.IsAllowed(claims.Email) {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}

		active, err := h.Sessions.Exists(r.Context(), claims.ID)
		if err != nil {
			logger.Error("查询会话失败", logger.ErrorField(err))
			writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
			return
		}
		if !active {
			writeError(w, http.StatusUnauthorized, "Session revoked")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RateLimitMiddleware 按管理员邮箱（没有时按 IP）限流，限流器故障时放行
func (h *APIHandler) RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := clientIP(r)
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			key = claims.Email
		}

		allowed, err := h.Limiter.Allow(r.Context(), "upload:"+key)
		if err != nil {
			logger.Warn("限流检查失败，放行请求", logger.ErrorField(err), logger.String("key", key))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "Too many uploads, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
