package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
)

// Handler HTTP 請求處理器
//
// 房間操作只走 WebSocket（需要連接身分）；HTTP 只提供唯讀查詢。
type Handler struct {
	registry *Registry
	hub      *WebSocketHub
	gateway  *Gateway
	logger   *slog.Logger
	started  time.Time
}

// NewHandler 創建 HTTP 處理器，hub 為 nil 時不提供 /ws
func NewHandler(registry *Registry, hub *WebSocketHub, gateway *Gateway, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		gateway:  gateway,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間查詢 API
	mux.HandleFunc("GET /api/v1/rooms/{code}", wrap(h.getRoom))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 需要 Hijack，不經過包裝 ResponseWriter 的中間件
	if h.hub != nil && h.gateway != nil {
		mux.HandleFunc("GET /ws", h.hub.ServeWS(h.gateway))
	}

	return mux
}

// getRoom 獲取房間快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Snapshot(r.PathValue("code"))
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.IsRoomNotFound(err) {
			status = http.StatusNotFound
		}
		h.errorResponse(w, err, status)
		return
	}

	h.jsonResponse(w, snap, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// statsResponse 統計資訊
type statsResponse struct {
	Stats
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime_seconds"`
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:  h.registry.Stats(),
		Uptime: time.Since(h.started).Seconds(),
	}
	if h.hub != nil {
		resp.Connections = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err error, status int) {
	h.jsonResponse(w, map[string]any{
		"error":   apperrors.CodeOf(err),
		"message": apperrors.MessageOf(err),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.ErrInternal, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
