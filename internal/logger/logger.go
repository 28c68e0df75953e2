package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，键值对形式传入字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志输出配置
type Options struct {
	Level      string
	Writer     []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zlog struct {
	z zerolog.Logger
}

// New 按配置创建基于 zerolog 的日志器
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05.000"})
		case "file":
			if opts.File == "" {
				continue
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				LocalTime:  true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return NewWithWriter(zerolog.MultiLevelWriter(writers...), opts.Level)
}

// NewWithWriter 使用给定输出创建日志器
func NewWithWriter(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &zlog{z: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &zlog{z: zerolog.Nop()}
}

func (l *zlog) Debug(msg string, kv ...any) { l.z.Debug().Fields(kv).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { l.z.Info().Fields(kv).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { l.z.Warn().Fields(kv).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { l.z.Error().Fields(kv).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	l.z.Error().Err(err).Fields(kv).Msg(msg)
}

func (l *zlog) With(kv ...any) Logger {
	return &zlog{z: l.z.With().Fields(kv).Logger()}
}
