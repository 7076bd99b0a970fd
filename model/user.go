package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemUserEmail 系统上传账号，作为所有上传曲目的 uploadedBy
const (
	SystemUserEmail       = "system@meuwsic.app"
	SystemUserName        = "system"
	SystemUserDisplayName = "System User"
)

// User 用户。目前只有系统账号会被创建
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	Email        string     `json:"email" gorm:"size:255;uniqueIndex;not null"`
	Username     string     `json:"username" gorm:"size:100;uniqueIndex;not null"`
	DisplayName  string     `json:"displayName" gorm:"size:255"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	AvatarURL    string     `json:"avatarUrl,omitempty" gorm:"size:1024"`
	IsVerified   bool       `json:"isVerified" gorm:"default:false"`
	IsActive     bool       `json:"isActive" gorm:"default:true"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// BeforeCreate 生成 UUID 主键
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
