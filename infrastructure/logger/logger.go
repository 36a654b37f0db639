package logger

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 在 zap 之上附加券商事件的固定字段，级别可运行时调整
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
	files *[]*os.File
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, stderr, file
	OutputFile string   `yaml:"output_file"` // Outputs 含 file 时写入
	ErrorFile  string   `yaml:"error_file"`  // 只收 error 及以上
	Format     string   `yaml:"format"`      // json 或 console
}

func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

func encoderFor(format string, file bool) zapcore.Encoder {
	if format == "console" && !file {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// New 按配置组装输出；文件一律 JSON，终端可选 console。
func New(cfg Config) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	atom := zap.NewAtomicLevelAt(lvl)
	files := make([]*os.File, 0, 2)
	fail := func(err error) (*Logger, error) {
		for _, f := range files {
			_ = f.Close()
		}
		return nil, err
	}

	var cores []zapcore.Core
	for _, out := range cfg.Outputs {
		switch out {
		case "stdout":
			cores = append(cores, zapcore.NewCore(encoderFor(cfg.Format, false), zapcore.Lock(os.Stdout), atom))
		case "stderr":
			cores = append(cores, zapcore.NewCore(encoderFor(cfg.Format, false), zapcore.Lock(os.Stderr), atom))
		case "file":
			if cfg.OutputFile == "" {
				return fail(errors.New("log output file not set"))
			}
			f, err := openAppend(cfg.OutputFile)
			if err != nil {
				return fail(fmt.Errorf("open log file failed: %w", err))
			}
			files = append(files, f)
			cores = append(cores, zapcore.NewCore(encoderFor(cfg.Format, true), zapcore.AddSync(f), atom))
		default:
			return fail(fmt.Errorf("unknown log output %q", out))
		}
	}
	if cfg.ErrorFile != "" {
		f, err := openAppend(cfg.ErrorFile)
		if err != nil {
			return fail(fmt.Errorf("open error log file failed: %w", err))
		}
		files = append(files, f)
		cores = append(cores, zapcore.NewCore(encoderFor(cfg.Format, true), zapcore.AddSync(f), zapcore.ErrorLevel))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: z, level: atom, files: &files}, nil
}

func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel(), files: &[]*os.File{}}
}

// Named 子 logger 共享级别与文件句柄
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component), level: l.level, files: l.files}
}

// event 把 map 展开成 zap 字段并补 event/ts；不修改调用方传入的 map。
func (l *Logger) event(lvl zapcore.Level, msg, event string, fields map[string]interface{}, extra ...zap.Field) {
	zf := make([]zap.Field, 0, len(fields)+len(extra)+2)
	zf = append(zf, zap.String("event", event))
	zf = append(zf, extra...)
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	zf = append(zf, zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)))
	if ce := l.Check(lvl, msg); ce != nil {
		ce.Write(zf...)
	}
}

// LogOrder 订单生命周期事件，orderID 为券商单号
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	l.event(zapcore.InfoLevel, "order_event", event, fields, zap.String("order_id", orderID))
}

// LogTrade 成交
func (l *Logger) LogTrade(event string, fields map[string]interface{}) {
	l.event(zapcore.InfoLevel, "trade_event", event, fields)
}

func (l *Logger) LogError(err error, context map[string]interface{}) {
	l.event(zapcore.ErrorLevel, "error_event", "error", context, zap.Error(err))
}

// LogStream 推送连接事件（连接/断线/重连）
func (l *Logger) LogStream(event string, stream string, fields map[string]interface{}) {
	l.event(zapcore.InfoLevel, "stream_event", event, fields, zap.String("stream", stream))
}

// SetLevel 运行时调整日志级别，对所有子 logger 生效
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Close 刷盘并关闭日志文件；只应在根 logger 上调用一次
func (l *Logger) Close() error {
	_ = l.Sync() // 终端 fd 上 Sync 常返回 EINVAL
	var errs []error
	if l.files != nil {
		for _, f := range *l.files {
			errs = append(errs, f.Close())
		}
		*l.files = nil
	}
	return errors.Join(errs...)
}
