package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"netforge/internal/logger"
)

// GormLogger 将 GORM 日志桥接到统一日志接口
type GormLogger struct {
	log           logger.Logger
	LogLevel      glogger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建新的GormLogger实例
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{
		log:           l.With("component", "gorm"),
		LogLevel:      glogger.Warn,
		SlowThreshold: time.Second,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glogger.Info {
		l.log.Info(msg, "data", data)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glogger.Warn {
		l.log.Warn(msg, "data", data)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glogger.Error {
		l.log.Error(msg, "data", data)
	}
}

// Trace 打印SQL日志，记录不存在不视为错误
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= glogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= glogger.Error:
		l.log.Err(err, "SQL执行错误", fields...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= glogger.Warn:
		l.log.Warn("慢SQL查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == glogger.Info:
		l.log.Debug("SQL执行", fields...)
	}
}
