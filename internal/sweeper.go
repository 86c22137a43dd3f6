package internal

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper 定期清理全員離線的房間
//
// 房間狀態機不內建計時器，清理策略由外部決定：
// idleFor 為 0 時不啟動。
type Sweeper struct {
	registry *Registry
	interval time.Duration
	idleFor  time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper 創建清理器
func NewSweeper(registry *Registry, interval, idleFor time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		idleFor:  idleFor,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動清理 goroutine
func (s *Sweeper) Start() {
	if s.idleFor <= 0 {
		s.logger.Info("未啟用離線房間清理")
		return
	}

	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce 執行一次清理，返回被刪除的房間碼
func (s *Sweeper) RunOnce() []string {
	removed := s.registry.SweepAbandoned(s.idleFor)
	if len(removed) > 0 {
		s.logger.Info("離線房間已清理", "count", len(removed), "rooms", removed)
	}
	return removed
}

// Stop 停止清理器
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
