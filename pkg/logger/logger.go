// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// ConnIDKey 連線 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
	// MatchIDKey 對局 ID 的上下文鍵
	MatchIDKey contextKey = "match_id"
)

// Options 日誌配置
type Options struct {
	Level  string    // debug / info / warn / error
	Format string    // text / json
	Output io.Writer // 預設 os.Stdout
	Sink   Sink      // 可選：每筆日誌同步送到日誌視窗
}

// New 建立日誌記錄器
//
// 處理器鏈：
//
//	slog.Logger → contextHandler（補上 conn_id / match_id）
//	            → SinkHandler（可選，複製一份到 Sink）
//	            → Text/JSON Handler
func New(opts Options) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, handlerOpts)
	default:
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	if opts.Sink != nil {
		handler = NewSinkHandler(handler, opts.Sink)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 不輸出任何內容的日誌記錄器（測試用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok && connID != "" {
		r.AddAttrs(slog.String(string(ConnIDKey), connID))
	}

	if matchID, ok := ctx.Value(MatchIDKey).(string); ok && matchID != "" {
		r.AddAttrs(slog.String(string(MatchIDKey), matchID))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithConnID 添加連線 ID 到上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithMatchID 添加對局 ID 到上下文
func WithMatchID(ctx context.Context, matchID string) context.Context {
	return context.WithValue(ctx, MatchIDKey, matchID)
}

// Line 一行日誌（送往日誌視窗）
type Line struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// String 格式化為單行文字
func (l Line) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", l.Time.Format(time.DateTime), l.Level, l.Message)
	for k, v := range l.Attrs {
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return b.String()
}

// Sink 日誌行的外部接收端（append-only）
type Sink interface {
	Append(ctx context.Context, line Line)
}

// SinkHandler 將每筆記錄複製一份到 Sink
type SinkHandler struct {
	slog.Handler
	sink   Sink
	attrs  []slog.Attr
	prefix string
}

// NewSinkHandler 包裝既有處理器
func NewSinkHandler(next slog.Handler, sink Sink) *SinkHandler {
	return &SinkHandler{Handler: next, sink: sink}
}

// Handle 先交給下游處理器，再送到 Sink
func (h *SinkHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)

	line := Line{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   make(map[string]string, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		line.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		line.Attrs[h.prefix+a.Key] = a.Value.String()
		return true
	})
	h.sink.Append(ctx, line)

	return err
}

func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &SinkHandler{
		Handler: h.Handler.WithAttrs(attrs),
		sink:    h.sink,
		attrs:   merged,
		prefix:  h.prefix,
	}
}

func (h *SinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SinkHandler{
		Handler: h.Handler.WithGroup(name),
		sink:    h.sink,
		attrs:   h.attrs,
		prefix:  h.prefix + name + ".",
	}
}
