package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`

	Rooms struct {
		CodeLength         int           `yaml:"code_length"`
		FallbackCodeLength int           `yaml:"fallback_code_length"`
		MaxCodeAttempts    int           `yaml:"max_code_attempts"`
		AbandonAfter       time.Duration `yaml:"abandon_after"` // 0 表示不清理
		SweepInterval      time.Duration `yaml:"sweep_interval"`
	} `yaml:"rooms"`

	WS struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendBuffer      int           `yaml:"send_buffer"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		PingPeriod      time.Duration `yaml:"ping_period"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteWait       time.Duration `yaml:"write_wait"`
	} `yaml:"ws"`

	NATS struct {
		URL           string `yaml:"url"` // 空字串表示不啟用
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	cfg.Rooms.CodeLength = DefaultCodeLength
	cfg.Rooms.FallbackCodeLength = DefaultFallbackCodeLength
	cfg.Rooms.MaxCodeAttempts = DefaultMaxCodeAttempts
	cfg.Rooms.AbandonAfter = 30 * time.Minute
	cfg.Rooms.SweepInterval = time.Minute

	// 54s Ping / 60s 超時：在常見代理的 60 秒閒置超時前送出 Ping
	cfg.WS.ReadBufferSize = 1024
	cfg.WS.WriteBufferSize = 1024
	cfg.WS.SendBuffer = 256
	cfg.WS.MaxMessageSize = 4096
	cfg.WS.PingPeriod = 54 * time.Second
	cfg.WS.PongWait = 60 * time.Second
	cfg.WS.WriteWait = 10 * time.Second

	cfg.NATS.SubjectPrefix = "duo.rooms"

	return cfg
}

// LoadConfig 讀取 YAML 配置檔，未設定的欄位保留預設值
//
// path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - 路徑來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（部署環境常用）
func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 無效: %d", c.Server.Port)
	}
	if c.Rooms.CodeLength < 4 {
		return fmt.Errorf("rooms.code_length 至少為 4: %d", c.Rooms.CodeLength)
	}
	if c.Rooms.FallbackCodeLength <= c.Rooms.CodeLength {
		return fmt.Errorf("rooms.fallback_code_length 必須大於 code_length")
	}
	if c.Rooms.MaxCodeAttempts <= 0 {
		return fmt.Errorf("rooms.max_code_attempts 必須為正數")
	}
	if c.Rooms.AbandonAfter < 0 {
		return fmt.Errorf("rooms.abandon_after 不可為負")
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_period 必須小於 ws.pong_wait")
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer 必須為正數")
	}
	return nil
}

// Addr HTTP 監聽地址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// WebSocket 轉成 Hub 參數
func (c *Config) WebSocket() WSConfig {
	return WSConfig{
		ReadBufferSize:  c.WS.ReadBufferSize,
		WriteBufferSize: c.WS.WriteBufferSize,
		SendBuffer:      c.WS.SendBuffer,
		MaxMessageSize:  c.WS.MaxMessageSize,
		PingPeriod:      c.WS.PingPeriod,
		PongWait:        c.WS.PongWait,
		WriteWait:       c.WS.WriteWait,
	}
}

// CodeAllocator 依配置建立房間碼產生器
func (c *Config) CodeAllocator() *CodeAllocator {
	return NewCodeAllocator(c.Rooms.CodeLength, c.Rooms.FallbackCodeLength, c.Rooms.MaxCodeAttempts)
}
