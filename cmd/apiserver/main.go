package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/app"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/server/handlers/sync"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/server/routers"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/config"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/config.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, ledger: %s\n", cfg.App.Name, cfg.App.Env, cfg.Ledger.Backend)

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 组装引擎
	engine, cleanup, err := app.BuildEngine(cfg, zapLogger)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer cleanup()

	// 4. 触发队列客户端（可选）
	lmstfyClient, err := app.BuildLmstfyClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create lmstfy client: %v", err)
	}

	// lmstfyClient 为 nil 时 webhook 退化为内联运行
	var publisher sync.JobPublisher
	if lmstfyClient != nil {
		publisher = lmstfyClient
	}
	syncHandler := sync.NewSyncHandler(engine, publisher, cfg.Lmstfy.Queue, zapLogger)

	// 5. 创建 HTTP Server
	r := routers.SetupRoutes(syncHandler, zapLogger)
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 6. 优雅停机处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	case err := <-serverErrChan:
		log.Printf("HTTP server error: %v, shutting down...", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Server exited gracefully")
}
