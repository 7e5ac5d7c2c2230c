package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"netforge/internal/logger"
)

// RuleSetRecord 持久化的命名规则集，Rules 为规则集 JSON
type RuleSetRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	Rules     string `gorm:"type:text;not null"`
	Active    bool   `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignRecord 攻击活动结束后的摘要
type CampaignRecord struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:128"`
	AttackType string `gorm:"size:32"`
	Status     string `gorm:"size:32;index"`
	Target     string
	Total      int64
	Dispatched int64
	Completed  int64
	Failed     int64
	Evicted    int64
	Config     string `gorm:"type:text"`
	StartedAt  int64
	FinishedAt int64
	CreatedAt  time.Time
}

// Setting 键值配置
type Setting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// Open 打开 SQLite 数据库并迁移表结构，表名带统一前缀
func Open(dsn, prefix string, l logger.Logger) (*gorm.DB, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	if err := db.AutoMigrate(&RuleSetRecord{}, &CampaignRecord{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
