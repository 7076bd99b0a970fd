package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Track 已发布到对象存储的曲目
type Track struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Slug        string     `json:"slug" gorm:"size:255;index;not null"`
	ArtistID    string     `json:"artistId" gorm:"size:36;index;not null"`
	AlbumID     *string    `json:"albumId,omitempty" gorm:"size:36;index"`
	UploadedBy  string     `json:"uploadedBy" gorm:"size:36;index;not null"`
	FileKey     string     `json:"fileKey" gorm:"size:512;uniqueIndex;not null"`
	FileURL     string     `json:"fileUrl" gorm:"size:1024;not null"`
	FileName    string     `json:"fileName" gorm:"size:255;not null"`
	FileSize    int64      `json:"fileSize" gorm:"not null"`
	Duration    int        `json:"duration" gorm:"not null"` // 秒
	Bitrate     *int       `json:"bitrate,omitempty"`
	SampleRate  *int       `json:"sampleRate,omitempty"`
	Format      string     `json:"format" gorm:"size:16;not null"`
	TrackNumber *int       `json:"trackNumber,omitempty"`
	Year        *int       `json:"year,omitempty"`
	IsPublished bool       `json:"isPublished" gorm:"default:false;index"`
	PlayCount   int64      `json:"playCount" gorm:"default:0"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"index"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	Artist *Artist `json:"artist,omitempty" gorm:"foreignKey:ArtistID"`
	Album  *Album  `json:"album,omitempty" gorm:"foreignKey:AlbumID"`
}

func (Track) TableName() string {
	return "tracks"
}

func (t *Track) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// PlayHistory 播放记录，匿名播放时 UserID 为空
type PlayHistory struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    *string   `json:"userId,omitempty" gorm:"size:36;index"`
	TrackID   string    `json:"trackId" gorm:"size:36;index;not null"`
	PlayedAt  time.Time `json:"playedAt" gorm:"index"`
	Source    string    `json:"source,omitempty" gorm:"size:32"`
	IPAddress string    `json:"ipAddress,omitempty" gorm:"size:64"`
	UserAgent string    `json:"userAgent,omitempty" gorm:"size:512"`
}

func (PlayHistory) TableName() string {
	return "play_history"
}

func (p *PlayHistory) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PlayedAt.IsZero() {
		p.PlayedAt = time.Now()
	}
	return nil
}
