package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/app"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/worker"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/config"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/config.yaml", "配置文件路径")
	runOnce    = flag.Bool("once", false, "执行一次同步后退出（配合 cron 等外部调度器）")
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

	// 单次模式：外部调度器（cron/CI 定时任务）直接调起，跑完即退
	if *runOnce {
		summary, err := engine.RunOnce(context.Background(), business.TriggerSchedule)
		if err != nil {
			log.Fatalf("Sync run failed: %v", err)
		}
		log.Printf("Sync run done: sent=%d, skipped=%d, failed=%d, ledger_saved=%v",
			summary.Sent, summary.Skipped, summary.Failed, summary.LedgerSaved)
		return
	}

	// 4. 队列模式：消费触发任务
	lmstfyClient, err := app.BuildLmstfyClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create lmstfy client: %v", err)
	}
	if lmstfyClient == nil {
		log.Fatalf("lmstfy.host is required in queue mode (or use -once)")
	}

	w := worker.NewWorker(engine, lmstfyClient, &worker.Config{
		QueueName: cfg.Lmstfy.Queue,
		Timeout:   cfg.Lmstfy.Timeout,
		TTR:       cfg.Lmstfy.TTR,
	}, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	workerErrChan := make(chan error, 1)
	go func() {
		workerErrChan <- w.Start(ctx)
	}()

	log.Println("Worker started. Press Ctrl+C to shutdown.")

	// 5. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v, shutting down...", sig)
	case err := <-workerErrChan:
		log.Printf("Worker stopped: %v", err)
	}

	// 6. 优雅关闭
	w.Shutdown()
	cancel()

	log.Println("Worker exited gracefully")
}
