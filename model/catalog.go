package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Artist 艺术家，按名称精确匹配去重（区分大小写），MySQL 上 name 列为 utf8mb4_bin
type Artist struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	Name       string    `json:"name" gorm:"size:255;uniqueIndex;not null"`
	Slug       string    `json:"slug" gorm:"size:255;index;not null"`
	Bio        string    `json:"bio,omitempty" gorm:"type:text"`
	ImageURL   string    `json:"imageUrl,omitempty" gorm:"size:1024"`
	IsVerified bool      `json:"isVerified" gorm:"default:false"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (Artist) TableName() string {
	return "artists"
}

func (a *Artist) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Album 专辑，同一艺术家下标题唯一，title 列同样按字节比较
type Album struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	Title         string     `json:"title" gorm:"size:255;not null;uniqueIndex:idx_albums_artist_title,priority:2"`
	Slug          string     `json:"slug" gorm:"size:255;index;not null"`
	ArtistID      string     `json:"artistId" gorm:"size:36;not null;uniqueIndex:idx_albums_artist_title,priority:1"`
	ReleaseDate   *time.Time `json:"releaseDate,omitempty"`
	CoverImageURL string     `json:"coverImageUrl,omitempty" gorm:"size:1024"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	Artist *Artist `json:"artist,omitempty" gorm:"foreignKey:ArtistID"`
}

func (Album) TableName() string {
	return "albums"
}

func (a *Album) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
