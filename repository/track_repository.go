package repository

import (
	"context"
	"errors"
	"fmt"

	"meuwsic/model"

	"gorm.io/gorm"
)

// TrackRepository 曲目查询与播放统计
type TrackRepository interface {
	// ListPublished 已发布曲目，按创建时间倒序，limit<=0 不限制
	ListPublished(ctx context.Context, limit int) ([]model.Track, error)
	GetByFileKey(ctx context.Context, fileKey string) (*model.Track, error)
	// RecordPlay 播放次数 +1 并写一条播放记录
	RecordPlay(ctx context.Context, fileKey string, play *model.PlayHistory) error
	Count(ctx context.Context) (int64, error)
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

func (r *gormTrackRepository) ListPublished(ctx context.Context, limit int) ([]model.Track, error) {
	q := r.db.WithContext(ctx).
		Preload("Artist").
		Preload("Album").
		Where("is_published = ?", true).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var tracks []model.Track
	if err := q.Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("list published tracks: %w", err)
	}
	return tracks, nil
}

// GetByFileKey 不存在时返回 nil, nil
func (r *gormTrackRepository) GetByFileKey(ctx context.Context, fileKey string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Preload("Artist").
		Where("file_key = ?", fileKey).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) RecordPlay(ctx context.Context, fileKey string, play *model.PlayHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track model.Track
		if err := tx.Select("id").Where("file_key = ?", fileKey).First(&track).Error; err != nil {
			return translateError(err)
		}
		if err := tx.Model(&model.Track{}).
			Where("id = ?", track.ID).
			UpdateColumn("play_count", gorm.Expr("play_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("increment play count: %w", err)
		}
		play.TrackID = track.ID
		if err := tx.Create(play).Error; err != nil {
			return fmt.Errorf("insert play history: %w", err)
		}
		return nil
	})
}

func (r *gormTrackRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).Count(&n).Error
	return n, err
}
