package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbmetrics-agent/pkg/config"
)

type Logger = zap.Logger

var (
	globalLogger = zap.NewNop()
	mu           sync.RWMutex
)

// parseLevel 日志级别解析，兼容三字母缩写
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger 初始化全局日志：控制台输出 + 按天滚动的文件输出
func InitLogger(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	writer, err := rotatelogs.New(
		filepath.Join(cfg.Path, "dbmetrics-agent-%Y%m%d.log"),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSize)*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("create rotate writer: %w", err)
	}

	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}

	// 控制台编码器
	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.ConsoleSeparator = " "
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = customTimeEncoder
	// Caller 两级路径
	consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = customTimeEncoder
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var stdoutEncoder zapcore.Encoder
	if cfg.Format == "json" {
		stdoutEncoder = zapcore.NewJSONEncoder(jsonCfg)
	} else {
		stdoutEncoder = zapcore.NewConsoleEncoder(consoleEncoderCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	SetGlobalLogger(l)
	return l, nil
}

// SetGlobalLogger 替换全局日志实例（测试中可注入 observer）
func SetGlobalLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// GetGlobalLogger 获取全局日志实例，未初始化时返回 Nop
func GetGlobalLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }
func Panic(msg string, fields ...zap.Field) { GetGlobalLogger().Panic(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetGlobalLogger().Fatal(msg, fields...) }

// Sync 刷盘
func Sync() error {
	return GetGlobalLogger().Sync()
}
