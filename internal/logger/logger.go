package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口，键值对形式携带上下文
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志初始化参数
type Options struct {
	Level      string
	Writers    []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建基于 zerolog 的日志实例
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			if opts.File == "" {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &zeroLogger{zl: zl}
}

// NewWithWriter 将日志写入指定 writer（JSON 格式），主要用于测试
func NewWithWriter(w io.Writer, level string) Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		lv = zerolog.DebugLevel
	}
	return &zeroLogger{zl: zerolog.New(w).Level(lv).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志实例
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.emit(l.zl.Debug(), msg, kv) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.emit(l.zl.Info(), msg, kv) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.emit(l.zl.Warn(), msg, kv) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.emit(l.zl.Error(), msg, kv) }

// Err 记录携带错误对象的 error 级别日志
func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	l.emit(l.zl.Error().Err(err), msg, kv)
}

// With 派生携带固定字段的子日志
func (l *zeroLogger) With(kv ...any) Logger {
	if len(kv) == 0 {
		return l
	}
	return &zeroLogger{zl: l.zl.With().Fields(normalize(kv)).Logger()}
}

func (l *zeroLogger) emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	if len(kv) > 0 {
		ev = ev.Fields(normalize(kv))
	}
	ev.Msg(msg)
}

// normalize 保证键值对成对出现，落单的值以 "extra" 为键
func normalize(kv []any) []any {
	if len(kv)%2 == 0 {
		return kv
	}
	out := make([]any, 0, len(kv)+1)
	out = append(out, kv[:len(kv)-1]...)
	return append(out, "extra", kv[len(kv)-1])
}
