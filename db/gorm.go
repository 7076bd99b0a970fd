package db

import (
	"context"
	"fmt"
	"time"

	"meuwsic/config"
	"meuwsic/logger"
	"meuwsic/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectGormDB 建立 MySQL 连接并配置连接池
func ConnectGormDB(cfg config.Database) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.Debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("数据库连接成功",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Name))
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate 迁移全部模型
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	for _, stmt := range collationDDL(db.Dialector.Name()) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to set column collation: %w", err)
		}
	}
	logger.Info("数据表迁移完成")
	return nil
}

// collationDDL 艺术家名与专辑标题按字节比较，MySQL 默认排序规则不区分大小写和重音，
// 唯一索引会把 "Adele" 与 "adele" 当成同一行
func collationDDL(dialect string) []string {
	if dialect != "mysql" {
		return nil
	}
	return []string{
		"ALTER TABLE `artists` MODIFY `name` VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL",
		"ALTER TABLE `albums` MODIFY `title` VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL",
	}
}

// Ping 执行 SELECT 1 并返回耗时
func Ping(ctx context.Context, db *gorm.DB) (time.Duration, error) {
	start := time.Now()
	var one int
	if err := db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return time.Since(start), fmt.Errorf("ping database: %w", err)
	}
	return time.Since(start), nil
}
