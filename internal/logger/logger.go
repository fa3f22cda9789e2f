package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"rulekeeper/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 定义日志接口，fields 为键值对
type Logger interface {
	// Debug 记录调试信息
	Debug(msg string, fields ...any)

	// Info 记录一般信息
	Info(msg string, fields ...any)

	// Warn 记录警告信息
	Warn(msg string, fields ...any)

	// Error 记录错误信息
	Error(msg string, fields ...any)

	// Err 记录错误信息
	Err(err error, msg string, fields ...any)

	// With 返回附带固定字段的子日志
	With(fields ...any) Logger
}

// ZeroLogger 日志组件
type ZeroLogger struct {
	logger   zerolog.Logger
	logLevel zerolog.Level
}

// New 根据配置创建日志组件，cfg 为 nil 时返回空日志
func New(cfg *config.Config) Logger {
	if cfg == nil {
		return Nop()
	}
	return NewZeroLogger(cfg)
}

// NewZeroLogger 创建日志组件
func NewZeroLogger(cfg *config.Config) *ZeroLogger {
	if cfg == nil {
		return Nop()
	}

	writers := make([]io.Writer, 0)
	for _, writer := range cfg.Log.Writer {
		switch writer {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
		case "json":
			writers = append(writers, os.Stderr)
		case "file":
			filename := cfg.Log.File
			if filename == "" {
				filename, _ = getLogPath()
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   filename,
				MaxSize:    1,
				MaxAge:     30,
				MaxBackups: 3,
				LocalTime:  true,
				Compress:   false,
			})
		}
	}

	if len(writers) == 0 {
		return Nop()
	}

	return NewWithWriter(io.MultiWriter(writers...), cfg.Log.Level)
}

// NewWithWriter 创建写入指定 writer 的日志组件
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	logLevel := ParseLevel(level)
	zerolog.TimeFieldFormat = "2006-01-02 15:04:05"
	logger := zerolog.New(w).
		With().
		Caller().
		Timestamp().
		Logger().
		Level(logLevel)

	return &ZeroLogger{logger: logger, logLevel: logLevel}
}

// ParseLevel 解析日志级别，未知值按 debug 处理
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.DebugLevel
	}
}

// Nop 创建一个空的日志记录器
func Nop() *ZeroLogger { return &ZeroLogger{logger: zerolog.Nop(), logLevel: zerolog.Disabled} }

// Info 记录信息
func (z *ZeroLogger) Info(msg string, fields ...any) {
	z.logger.Info().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Error 记录错误
func (z *ZeroLogger) Error(msg string, fields ...any) {
	z.logger.Error().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Debug 记录调试信息
func (z *ZeroLogger) Debug(msg string, fields ...any) {
	z.logger.Debug().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Warn 记录警告
func (z *ZeroLogger) Warn(msg string, fields ...any) {
	z.logger.Warn().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Err 记录错误信息
func (z *ZeroLogger) Err(err error, msg string, fields ...any) {
	z.logger.Err(err).CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// With 返回附带固定字段的子日志
func (z *ZeroLogger) With(fields ...any) Logger {
	return &ZeroLogger{
		logger:   z.logger.With().Fields(fields).Logger(),
		logLevel: z.logLevel,
	}
}

// getLogPath 获取日志目录
func getLogPath() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(home, "Library", "Application Support")
	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(baseDir, "rulekeeper", "logs", "app.log"), nil
}
