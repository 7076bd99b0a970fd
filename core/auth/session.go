package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid session token")
	ErrSessionExpired = errors.New("session expired")
	ErrNotAdmin       = errors.New("admin access required")
)

// Claims 会话令牌内容。ID 即会话 ID，用于服务端吊销
type Claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// LoginTime 签发时间
func (c *Claims) LoginTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// SessionManager 签发与校验 HS256 会话令牌
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL 会话有效期
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue 签发令牌
func (m *SessionManager) Issue(email string, isAdmin bool) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Email:   normalizeEmail(email),
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   normalizeEmail(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return token, claims, nil
}

// Parse 校验签名、过期时间，并按签发时间再校验一次会话时长
func (m *SessionManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.IssuedAt == nil || m.now().Sub(claims.IssuedAt.Time) >= m.ttl {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// ParseAdmin 在 Parse 基础上要求 isAdmin
func (m *SessionManager) ParseAdmin(tokenString string) (*Claims, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAdmin {
		return nil, ErrNotAdmin
	}
	return claims, nil
}
