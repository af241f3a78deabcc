package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-rps-rendezvous/internal"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 解析命令行參數
	var (
		configPath   = flag.String("config", "config.yaml", "配置檔案路徑")
		envPath      = flag.String("env", ".env", ".env 檔案路徑")
		port         = flag.Int("port", 8000, "遊戲服務器端口")
		adminPort    = flag.Int("admin-port", 8080, "管理 API 端口")
		pairing      = flag.String("pairing", "matched", "配對模式 (matched, shared)")
		roundTimeout = flag.Duration("round-timeout", 0, "等待對手出拳的上限，0 表示無限等待")
		logLevel     = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat    = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	bootLogger := logger.New(logger.Options{Level: "info"})

	if err := internal.LoadEnv(*envPath); err != nil {
		bootLogger.Warn("載入 .env 失敗", "path", *envPath, "error", err)
	}

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		bootLogger.Error("載入配置失敗", "error", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		bootLogger.Error("環境變數無效", "error", err)
		os.Exit(1)
	}

	// 只覆蓋明確指定的參數
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "admin-port":
			cfg.Admin.Port = *adminPort
		case "pairing":
			cfg.Match.Pairing = internal.PairingMode(*pairing)
		case "round-timeout":
			cfg.Match.RoundTimeout = *roundTimeout
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		bootLogger.Error("配置無效", "error", err)
		os.Exit(1)
	}

	// 日誌視窗：環形緩衝 + 可選的 NATS / Redis 發佈
	ring := internal.NewRingSink(cfg.Events.Buffer)
	sinks, closeSinks := setupSinks(cfg, bootLogger)

	appLogger := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Sink:   append(internal.MultiSink{ring}, sinks...),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 創建配對器與連線處理器
	matchmaker := internal.NewMatchmaker(cfg.Match.Pairing, cfg.Match.RoundTimeout, appLogger)
	matchHandler := internal.NewMatchHandler(matchmaker, appLogger)

	// TCP 接受器
	server := internal.NewServer(cfg.Addr(), matchHandler, appLogger)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	// 管理 API + WebSocket
	var (
		hub         *internal.WebSocketHub
		adminServer *http.Server
	)
	if cfg.Admin.Enabled {
		hub = internal.NewWebSocketHub(matchHandler, appLogger)
		handler := internal.NewHandler(matchmaker, server, hub, ring, appLogger)

		adminServer = &http.Server{
			Addr:         cfg.AdminAddr(),
			Handler:      handler.Routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			appLogger.Info("管理 API 啟動", "addr", adminServer.Addr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("管理 API 啟動失敗", "error", err)
				stop()
			}
		}()
	}

	appLogger.Info("猜拳服務器配置",
		"addr", cfg.Addr(),
		"pairing", cfg.Match.Pairing,
		"round_timeout", cfg.Match.RoundTimeout,
		"log_level", cfg.Log.Level,
		"log_format", cfg.Log.Format)

	// 等待中斷信號或接受迴圈失敗
	exitCode := 0
	select {
	case <-ctx.Done():
		appLogger.Info("收到關閉信號，開始優雅關閉...")
	case err := <-serveErr:
		if !errors.Is(err, internal.ErrServerClosed) {
			appLogger.Error("服務器啟動失敗", "error", err)
			exitCode = 1
		}
		stop()
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("管理 API 關閉失敗", "error", err)
		}
		hub.Stop()
	}

	// 先關閉對局，讓等待對手的提交返回
	matchmaker.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("服務器關閉失敗", "error", err)
	}

	appLogger.Info("服務器已關閉")
	closeSinks()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// setupSinks 連接外部日誌接收端；連不上只警告，不影響遊戲
func setupSinks(cfg *internal.Config, log *slog.Logger) (internal.MultiSink, func()) {
	var (
		sinks   internal.MultiSink
		closers []func()
	)

	if cfg.Events.NATSURL != "" {
		natsSink, err := internal.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			log.Warn("連接 NATS 失敗，略過", "url", cfg.Events.NATSURL, "error", err)
		} else {
			async := internal.NewAsyncSink(natsSink, cfg.Events.Buffer)
			sinks = append(sinks, async)
			closers = append(closers, async.Close, natsSink.Close)
			log.Info("日誌發佈到 NATS", "url", cfg.Events.NATSURL, "subject", cfg.Events.NATSSubject)
		}
	}

	if cfg.Events.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		redisSink, err := internal.NewRedisSink(ctx, &redis.Options{Addr: cfg.Events.RedisAddr}, cfg.Events.RedisChannel)
		cancel()
		if err != nil {
			log.Warn("連接 Redis 失敗，略過", "addr", cfg.Events.RedisAddr, "error", err)
		} else {
			async := internal.NewAsyncSink(redisSink, cfg.Events.Buffer)
			sinks = append(sinks, async)
			closers = append(closers, async.Close, redisSink.Close)
			log.Info("日誌發佈到 Redis", "addr", cfg.Events.RedisAddr, "channel", cfg.Events.RedisChannel)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
