package logx

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 描述日志输出。
type Config struct {
	Level      string // debug / info / warn / error
	Format     string // console / json
	Output     string // stderr / stdout / 文件路径
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// New 按配置构造 zap.Logger。
//
// 约束：stdout 留给 JSON report，日志默认写 stderr。
func New(cfg Config) (*zap.Logger, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.TimeFormat) == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	if strings.TrimSpace(cfg.Output) == "" {
		cfg.Output = def.Output
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	ws, err := writer(cfg.Output)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder(cfg), ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("未知日志级别：%q", s)
	}
}

func encoder(cfg Config) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(cfg.TimeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func writer(out string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	default:
		f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败：%w", err)
		}
		return zapcore.AddSync(f), nil
	}
}

// OrNop 让库代码可以接受 nil logger。
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
