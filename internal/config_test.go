package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
)

// TestLoadConfig_Defaults 沒有配置檔時使用預設值
func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := internal.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 4, cfg.Rooms.CodeLength)
	assert.Equal(t, 6, cfg.Rooms.FallbackCodeLength)
	assert.Equal(t, 30*time.Minute, cfg.Rooms.AbandonAfter)
	assert.Equal(t, "duo.rooms", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.NATS.URL)

	ws := cfg.WebSocket()
	assert.Equal(t, 54*time.Second, ws.PingPeriod)
	assert.Equal(t, 60*time.Second, ws.PongWait)
}

// TestLoadConfig_File YAML 覆蓋預設值，環境變數再覆蓋 YAML
func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
log:
  level: debug
  format: json
rooms:
  code_length: 5
  fallback_code_length: 8
  abandon_after: 10m
ws:
  ping_period: 20s
  pong_wait: 30s
nats:
  url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("NATS_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "環境變數優先")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10*time.Minute, cfg.Rooms.AbandonAfter)
	assert.Equal(t, time.Minute, cfg.Rooms.SweepInterval, "未設定的欄位保留預設值")
	assert.Equal(t, 20*time.Second, cfg.WS.PingPeriod)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)

	alloc := cfg.CodeAllocator()
	assert.Equal(t, 5, alloc.Length)
	assert.Equal(t, 8, alloc.FallbackLength)
}

// TestConfig_Validate 測試配置檢查
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *internal.Config)
		valid  bool
	}{
		{name: "defaults", mutate: func(cfg *internal.Config) {}, valid: true},
		{name: "bad port", mutate: func(cfg *internal.Config) { cfg.Server.Port = 0 }},
		{name: "short code", mutate: func(cfg *internal.Config) { cfg.Rooms.CodeLength = 3 }},
		{name: "fallback not longer", mutate: func(cfg *internal.Config) { cfg.Rooms.FallbackCodeLength = 4 }},
		{name: "no attempts", mutate: func(cfg *internal.Config) { cfg.Rooms.MaxCodeAttempts = 0 }},
		{name: "negative abandon", mutate: func(cfg *internal.Config) { cfg.Rooms.AbandonAfter = -time.Second }},
		{name: "sweep disabled", mutate: func(cfg *internal.Config) { cfg.Rooms.AbandonAfter = 0 }, valid: true},
		{name: "ping after pong", mutate: func(cfg *internal.Config) { cfg.WS.PingPeriod = time.Minute }},
		{name: "no send buffer", mutate: func(cfg *internal.Config) { cfg.WS.SendBuffer = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := internal.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// TestLoadConfig_Errors 測試讀取失敗
func TestLoadConfig_Errors(t *testing.T) {
	_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	_, err = internal.LoadConfig(path)
	require.Error(t, err)
}
