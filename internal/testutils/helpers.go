package testutils

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
	"github.com/stretchr/testify/require"
)

// DefaultTestConfig 返回測試用的預設配置
func DefaultTestConfig() *internal.Config {
	cfg := internal.DefaultConfig()

	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	// 測試用較短的心跳
	cfg.WS.PingPeriod = 500 * time.Millisecond
	cfg.WS.PongWait = time.Second
	cfg.WS.WriteWait = time.Second

	return cfg
}

// TestLogger 測試用日誌（只輸出錯誤）
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// Clock 可手動推進的時鐘
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 創建時鐘
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 目前時間
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推進時間
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Notice 記錄到的提示訊息
type Notice struct {
	Code    string
	Message string
}

// RecordingBroadcaster 記錄所有廣播的 Broadcaster（並發安全）
//
// 同時維護訂閱集合，可以檢查某個連接是否還在房間頻道內。
type RecordingBroadcaster struct {
	mu      sync.Mutex
	states  []internal.Snapshot
	notices []Notice
	closed  []string
	subs    map[string]map[internal.ConnID]struct{}
}

// NewRecordingBroadcaster 創建記錄器
func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{
		subs: make(map[string]map[internal.ConnID]struct{}),
	}
}

func (b *RecordingBroadcaster) Subscribe(code string, conn internal.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[code] == nil {
		b.subs[code] = make(map[internal.ConnID]struct{})
	}
	b.subs[code][conn] = struct{}{}
}

func (b *RecordingBroadcaster) Unsubscribe(code string, conn internal.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[code], conn)
}

func (b *RecordingBroadcaster) PublishState(snap internal.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, snap)
}

func (b *RecordingBroadcaster) PublishNotice(code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Code: code, Message: message})
}

func (b *RecordingBroadcaster) CloseChannel(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, code)
	delete(b.subs, code)
}

// States 房間收到的所有快照（依投遞順序）
func (b *RecordingBroadcaster) States(code string) []internal.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []internal.Snapshot
	for _, s := range b.states {
		if s.Code == code {
			out = append(out, s)
		}
	}
	return out
}

// LastState 房間最後一則快照
func (b *RecordingBroadcaster) LastState(t testing.TB, code string) internal.Snapshot {
	t.Helper()
	states := b.States(code)
	require.NotEmpty(t, states, "room %s has no published state", code)
	return states[len(states)-1]
}

// StateCount 房間快照數
func (b *RecordingBroadcaster) StateCount(code string) int {
	return len(b.States(code))
}

// Notices 房間收到的提示訊息
func (b *RecordingBroadcaster) Notices(code string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, n := range b.notices {
		if n.Code == code {
			out = append(out, n.Message)
		}
	}
	return out
}

// Closed 已關閉的頻道
func (b *RecordingBroadcaster) Closed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

// Subscribed 連接是否在房間頻道內
func (b *RecordingBroadcaster) Subscribed(code string, conn internal.ConnID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[code][conn]
	return ok
}

// Subscribers 房間頻道訂閱數
func (b *RecordingBroadcaster) Subscribers(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[code])
}

// MakeHTTPRequest 執行 HTTP 請求的輔助函數
func MakeHTTPRequest(t testing.TB, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			bodyReader = strings.NewReader(str)
		} else {
			jsonBytes, err := json.Marshal(body)
			require.NoError(t, err)
			bodyReader = strings.NewReader(string(jsonBytes))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// WaitForCondition 等待條件滿足
func WaitForCondition(t testing.TB, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// RunConcurrently 並發執行測試函數
func RunConcurrently(t testing.TB, concurrency int, iterations int, fn func(workerID, iteration int)) {
	t.Helper()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				fn(workerID, j)
			}
		}(i)
	}
	wg.Wait()
}
