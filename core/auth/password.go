package auth

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// hashPassword bcrypt 哈希
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// UnusableHash 随机口令的哈希，明文随即丢弃，用于不允许密码登录的账号
func UnusableHash() (string, error) {
	return hashPassword(uuid.NewString())
}
