package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Playlist 歌单。只建表，维护接口不在本服务内
type Playlist struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	UserID      string    `json:"userId" gorm:"size:36;index;not null"`
	IsPublic    bool      `json:"isPublic" gorm:"default:false"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Playlist) TableName() string {
	return "playlists"
}

func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PlaylistTrack 歌单与曲目的关联
type PlaylistTrack struct {
	PlaylistID string    `json:"playlistId" gorm:"primaryKey;size:36"`
	TrackID    string    `json:"trackId" gorm:"primaryKey;size:36"`
	Position   int       `json:"position"`
	AddedAt    time.Time `json:"addedAt" gorm:"autoCreateTime"`
}

func (PlaylistTrack) TableName() string {
	return "playlist_tracks"
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&Artist{},
		&Album{},
		&Track{},
		&Playlist{},
		&PlaylistTrack{},
		&PlayHistory{},
	}
}
