package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 切换日志输出（CLI 会接入文件 MultiWriter）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetLevel 支持 debug/info/warn/error，未知值回落到 info。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Level 返回当前生效的级别。
func Level() slog.Level {
	return levelVar.Level()
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// InfoBlock 逐行输出多行文本（报告、汇总表）。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}

// Entry 绑定 component 属性的轻量包装，每次调用时读取当前 baseLogger。
type Entry struct {
	attrs []any
}

// With 返回带 component 标签的 Entry。
func With(component string) *Entry {
	return &Entry{attrs: []any{slog.String("component", component)}}
}

// WithField 追加一个键值属性。
func (e *Entry) WithField(key string, value any) *Entry {
	attrs := make([]any, 0, len(e.attrs)+1)
	attrs = append(attrs, e.attrs...)
	attrs = append(attrs, slog.Any(key, value))
	return &Entry{attrs: attrs}
}

func (e *Entry) logger() *slog.Logger {
	return activeLogger().With(e.attrs...)
}

func (e *Entry) Debugf(format string, v ...any) {
	e.logger().Debug(fmt.Sprintf(format, v...))
}

func (e *Entry) Infof(format string, v ...any) {
	e.logger().Info(fmt.Sprintf(format, v...))
}

func (e *Entry) Warnf(format string, v ...any) {
	e.logger().Warn(fmt.Sprintf(format, v...))
}

func (e *Entry) Errorf(format string, v ...any) {
	e.logger().Error(fmt.Sprintf(format, v...))
}
