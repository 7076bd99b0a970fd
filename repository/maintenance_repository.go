package repository

import (
	"context"
	"fmt"
	"time"

	"meuwsic/db"
	"meuwsic/model"

	"gorm.io/gorm"
)

// MaintenanceRepository 运维用：连通性检查、清库
type MaintenanceRepository interface {
	Ping(ctx context.Context) (time.Duration, error)
	// Cleanup 按外键依赖顺序清空所有业务表，返回每张表删除的行数
	Cleanup(ctx context.Context) (map[string]int64, error)
}

type gormMaintenanceRepository struct {
	db *gorm.DB
}

func NewGormMaintenanceRepository(db *gorm.DB) MaintenanceRepository {
	return &gormMaintenanceRepository{db: db}
}

func (r *gormMaintenanceRepository) Ping(ctx context.Context) (time.Duration, error) {
	return db.Ping(ctx, r.db)
}

// cleanupOrder 子表在前
var cleanupOrder = []struct {
	name  string
	model interface{}
}{
	{"play_history", &model.PlayHistory{}},
	{"playlist_tracks", &model.PlaylistTrack{}},
	{"playlists", &model.Playlist{}},
	{"tracks", &model.Track{}},
	{"albums", &model.Album{}},
	{"artists", &model.Artist{}},
	{"users", &model.User{}},
}

func (r *gormMaintenanceRepository) Cleanup(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(cleanupOrder))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, t := range cleanupOrder {
			res := all.Delete(t.model)
			if res.Error != nil {
				return fmt.Errorf("delete %s: %w", t.name, res.Error)
			}
			counts[t.name] = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
