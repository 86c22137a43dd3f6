package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
	"github.com/koopa0/system-design/14-duo-lobby/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "啟動失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑 (YAML)")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		natsURL    = flag.String("nats", "", "NATS 地址（覆蓋配置檔，空字串不啟用）")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}

	// 設置日誌
	log, closer, err := logger.Init(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	// 創建 WebSocket Hub
	hub := internal.NewWebSocketHub(cfg.WebSocket(), log)

	// 廣播：Hub 一定有，NATS 可選
	broadcasters := internal.MultiBroadcaster{hub}
	var closeNATS func()
	if cfg.NATS.URL != "" {
		nc, err := internal.NewNATSConn(cfg.NATS.URL)
		if err != nil {
			return err
		}
		closeNATS = func() {
			if err := nc.Drain(); err != nil {
				log.Warn("NATS 關閉失敗", "error", err)
			}
		}
		broadcasters = append(broadcasters, internal.NewNATSBroadcaster(nc, cfg.NATS.SubjectPrefix, log))
		log.Info("已連接 NATS", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	// 創建房間註冊表
	registry := internal.NewRegistry(log,
		internal.WithBroadcaster(broadcasters),
		internal.WithCodeAllocator(cfg.CodeAllocator()),
	)
	gateway := internal.NewGateway(registry, log)

	// 離線房間清理
	sweeper := internal.NewSweeper(registry, cfg.Rooms.SweepInterval, cfg.Rooms.AbandonAfter, log)
	sweeper.Start()

	// 創建 HTTP 處理器
	handler := internal.NewHandler(registry, hub, gateway, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	errCh := make(chan error, 1)
	go func() {
		log.Info("雙人房間服務器啟動",
			"port", cfg.Server.Port,
			"log_level", cfg.Log.Level,
			"abandon_after", cfg.Rooms.AbandonAfter)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...")
	case err := <-errCh:
		log.Error("服務器啟動失敗", "error", err)
		return err
	}

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 停止清理器與 WebSocket Hub，再關閉房間
	sweeper.Stop()
	hub.Stop()
	registry.Close()

	if closeNATS != nil {
		closeNATS()
	}

	log.Info("服務器已關閉")
	return nil
}
