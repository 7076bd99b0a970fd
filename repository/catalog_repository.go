package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meuwsic/core/auth"
	"meuwsic/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngestRecord 一次成功上传需要落库的全部信息
type IngestRecord struct {
	Title       string
	Slug        string
	ArtistName  string
	ArtistSlug  string
	AlbumTitle  string // 为空表示没有专辑标签
	AlbumSlug   string
	AlbumYear   int
	FileKey     string
	FileURL     string
	FileName    string
	FileSize    int64
	Duration    int
	Bitrate     *int
	SampleRate  *int
	Format      string
	TrackNumber *int
	Year        *int
}

// CatalogRepository 艺术家/专辑/曲目的写入
type CatalogRepository interface {
	// SaveIngest 在一个事务里完成 艺术家 → 专辑 → 系统账号 → 曲目 的写入
	SaveIngest(ctx context.Context, rec *IngestRecord) (*model.Track, error)
	// EnsureSystemUser 获取或创建系统上传账号
	EnsureSystemUser(ctx context.Context) (*model.User, error)
}

type gormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository 创建 GORM 实现
func NewGormCatalogRepository(db *gorm.DB) CatalogRepository {
	return &gormCatalogRepository{db: db}
}

func (r *gormCatalogRepository) SaveIngest(ctx context.Context, rec *IngestRecord) (*model.Track, error) {
	var track *model.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		artist, err := insertOrFetch(tx, &model.Artist{
			Name: rec.ArtistName,
			Slug: rec.ArtistSlug,
		}, "name = ?", rec.ArtistName)
		if err != nil {
			return fmt.Errorf("upsert artist %q: %w", rec.ArtistName, err)
		}

		var albumID *string
		if rec.AlbumTitle != "" {
			album := &model.Album{
				Title:    rec.AlbumTitle,
				Slug:     rec.AlbumSlug,
				ArtistID: artist.ID,
			}
			if rec.AlbumYear > 0 {
				releaseDate := time.Date(rec.AlbumYear, time.January, 1, 0, 0, 0, 0, time.UTC)
				album.ReleaseDate = &releaseDate
			}
			album, err = insertOrFetch(tx, album, "artist_id = ? AND title = ?", artist.ID, rec.AlbumTitle)
			if err != nil {
				return fmt.Errorf("upsert album %q: %w", rec.AlbumTitle, err)
			}
			albumID = &album.ID
		}

		user, err := ensureSystemUser(tx)
		if err != nil {
			return err
		}

		now := time.Now()
		track = &model.Track{
			Title:       rec.Title,
			Slug:        rec.Slug,
			ArtistID:    artist.ID,
			AlbumID:     albumID,
			UploadedBy:  user.ID,
			FileKey:     rec.FileKey,
			FileURL:     rec.FileURL,
			FileName:    rec.FileName,
			FileSize:    rec.FileSize,
			Duration:    rec.Duration,
			Bitrate:     rec.Bitrate,
			SampleRate:  rec.SampleRate,
			Format:      rec.Format,
			TrackNumber: rec.TrackNumber,
			Year:        rec.Year,
			IsPublished: true,
			PlayCount:   0,
			PublishedAt: &now,
		}
		if err := tx.Create(track).Error; err != nil {
			return fmt.Errorf("insert track %q: %w", rec.FileKey, err)
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return track, nil
}

func (r *gormCatalogRepository) EnsureSystemUser(ctx context.Context) (*model.User, error) {
	user, err := ensureSystemUser(r.db.WithContext(ctx))
	return user, translateError(err)
}

// ensureSystemUser 系统账号的密码是随机值的 bcrypt，无法登录
func ensureSystemUser(tx *gorm.DB) (*model.User, error) {
	var user model.User
	err := tx.Where("email = ?", model.SystemUserEmail).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find system user: %w", err)
	}

	hash, err := auth.UnusableHash()
	if err != nil {
		return nil, err
	}
	created, err := insertOrFetch(tx, &model.User{
		Email:        model.SystemUserEmail,
		Username:     model.SystemUserName,
		DisplayName:  model.SystemUserDisplayName,
		PasswordHash: hash,
		IsVerified:   true,
		IsActive:     true,
	}, "email = ?", model.SystemUserEmail)
	if err != nil {
		return nil, fmt.Errorf("create system user: %w", err)
	}
	return created, nil
}

// insertOrFetch 唯一键冲突时不插入，再按条件读回已存在的行。
// 并发写同一名称时只会留下一行
func insertOrFetch[T any](tx *gorm.DB, row *T, query string, args ...interface{}) (*T, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}
	var stored T
	if err := tx.Where(query, args...).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
