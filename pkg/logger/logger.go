// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// ConnIDKey 連接 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
	// RoomCodeKey 房間碼的上下文鍵
	RoomCodeKey contextKey = "room_code"
)

// Options 日誌設定
type Options struct {
	Level  string // debug / info / warn / error
	Format string // text / json
	Output string // stdout / stderr / 檔案路徑
}

// New 依設定建立日誌記錄器
//
// 返回的 io.Closer 在輸出為檔案時負責關檔，其餘情況為 no-op。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		output io.Writer
		closer io.Closer = nopCloser{}
	)

	switch opts.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// #nosec G304 - 路徑來自設定檔
		file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("開啟日誌檔失敗: %w", err)
		}
		output = file
		closer = file
	}

	level := ParseLevel(opts.Level)
	return slog.New(NewHandler(output, opts.Format, level)), closer, nil
}

// Init 建立日誌記錄器並設為預設
func Init(opts Options) (*slog.Logger, io.Closer, error) {
	l, closer, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, closer, nil
}

// NewHandler 建立帶上下文資訊的處理器
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // debug 模式顯示源碼位置
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &contextHandler{Handler: handler}
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

// Discard 返回丟棄所有輸出的日誌記錄器（測試用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok && connID != "" {
		r.AddAttrs(slog.String("conn_id", connID))
	}

	if code, ok := ctx.Value(RoomCodeKey).(string); ok && code != "" {
		r.AddAttrs(slog.String("room_code", code))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs 與 WithGroup 必須保留包裝，否則 logger.With(...) 之後會失去上下文欄位
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithConnID 添加連接 ID 到上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithRoomCode 添加房間碼到上下文
func WithRoomCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, RoomCodeKey, code)
}

// LogError 記錄錯誤並包含呼叫位置
func LogError(ctx context.Context, l *slog.Logger, msg string, err error) {
	pc, file, line, ok := runtime.Caller(1)
	if ok {
		fn := runtime.FuncForPC(pc)
		l.ErrorContext(ctx, msg,
			slog.String("error", err.Error()),
			slog.String("file", file),
			slog.Int("line", line),
			slog.String("function", fn.Name()),
		)
		return
	}
	l.ErrorContext(ctx, msg, slog.String("error", err.Error()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
