package logger

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/util"
)

type Logger = zap.Logger

const timeLayout = "2006-01-02 15:04:05.000 -07:00"

var (
	mu         sync.RWMutex
	baseLogger *zap.Logger
	closers    []io.Closer
)

// InitLogger 按配置初始化全局日志：控制台(或 syslog) + 可选的按天切割 JSON 文件
// 重复调用会替换全局 logger
func InitLogger(cfg *config.ZapLogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var (
		cores   []zapcore.Core
		opened  []io.Closer
		outCore zapcore.Core
	)

	if cfg.Syslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, util.ProjectName)
		if err != nil {
			return nil, fmt.Errorf("connect syslog: %w", err)
		}
		opened = append(opened, w)
		// syslog 自带时间戳和级别着色无意义
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = ""
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		outCore = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	} else {
		outCore = zapcore.NewCore(consoleEncoder(cfg.Format), zapcore.Lock(os.Stdout), level)
	}
	cores = append(cores, outCore)

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
		}
		writer, err := rotatelogs.New(
			filepath.Join(cfg.Path, util.ProjectName+"-%Y%m%d.log"),
			rotateOptions(cfg)...,
		)
		if err != nil {
			return nil, fmt.Errorf("open rotate log: %w", err)
		}
		opened = append(opened, writer)
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(writer), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	old := closers
	baseLogger = l
	closers = opened
	mu.Unlock()
	for _, c := range old {
		_ = c.Close()
	}
	return l, nil
}

// rotatelogs 不允许同时设置 MaxAge 和 RotationCount，max_backup 优先
func rotateOptions(cfg *config.ZapLogConfig) []rotatelogs.Option {
	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(24 * time.Hour),
	}
	switch {
	case cfg.MaxBackup > 0:
		opts = append(opts, rotatelogs.WithRotationCount(uint(cfg.MaxBackup)))
	case cfg.MaxAge > 0:
		opts = append(opts, rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour))
	}
	return opts
}

func consoleEncoder(format string) zapcore.Encoder {
	if format == "json" {
		return jsonEncoder()
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.ConsoleSeparator = " "
	enc.EncodeLevel = coloredLevelEncoder
	// 控制台彩色时间
	enc.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format(timeLayout)))
	}
	// Caller 两级路径
	enc.EncodeCaller = func(c zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		pae.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return zapcore.NewConsoleEncoder(enc)
}

// JSON 日志纯文本时间
func jsonEncoder() zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(enc)
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var levelStr string
	switch level {
	case zapcore.DebugLevel:
		levelStr = "\033[36mDEBUG\033[0m"
	case zapcore.InfoLevel:
		levelStr = "\033[32mINFO \033[0m"
	case zapcore.WarnLevel:
		levelStr = "\033[33mWARN \033[0m"
	case zapcore.ErrorLevel:
		levelStr = "\033[31mERROR\033[0m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
	default:
		levelStr = "UNK  "
	}
	enc.AppendString(levelStr)
}

// GetGlobalLogger 未初始化时返回 Nop logger
func GetGlobalLogger() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if baseLogger == nil {
		return zap.NewNop()
	}
	return baseLogger
}

// Named 带模块名的子 logger，例如 poller / server
func Named(name string) *Logger {
	return GetGlobalLogger().Named(name)
}

func caller() *Logger {
	return GetGlobalLogger().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { caller().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { caller().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { caller().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { caller().Error(msg, fields...) }
func Panic(msg string, fields ...zap.Field) { caller().Panic(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { caller().Fatal(msg, fields...) }

// Sync 刷新缓冲；stdout 不支持 fsync 时的错误忽略
func Sync() error {
	err := GetGlobalLogger().Sync()
	if err != nil && isIgnorableSyncError(err) {
		return nil
	}
	return err
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl") ||
		strings.Contains(msg, "bad file descriptor")
}
