package app

import (
	"fmt"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/config"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/githubfs"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/klaviyo"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/localfs"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/mysql"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/redis"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/squarespace"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/lmstfy"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// BuildEngine 按配置组装转发引擎及其依赖
// 返回的 cleanup 负责释放底层连接
func BuildEngine(cfg *config.Config, log logger.Logger) (*business.Engine, func(), error) {
	cleanups := make([]func(), 0, 2)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	backend, err := buildLedgerBackend(cfg, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	led := ledger.New(backend, cfg.Ledger.Capacity, log)

	source := squarespace.NewClient(cfg.Squarespace.BaseURL, cfg.Squarespace.APIKey, cfg.Squarespace.Timeout)
	sink := klaviyo.NewClient(cfg.Klaviyo.BaseURL, cfg.Klaviyo.APIKey, cfg.Klaviyo.Revision, cfg.Klaviyo.Timeout)

	// Redis 通知可选：未配置地址则不发通知
	var notifier business.Notifier
	if cfg.Redis.Addr != "" {
		pubsub, err := redis.NewPubSub(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init redis notifier failed: %w", err)
		}
		cleanups = append(cleanups, func() { pubsub.Close() })
		notifier = pubsub
	}

	engine := business.NewEngine(source, sink, led, notifier, business.EngineOptions{
		WindowMinutes:        cfg.Sync.WindowMinutes,
		ReconcileRefunds:     cfg.Sync.ReconcileRefunds,
		ReconcileFulfillment: cfg.Sync.ReconcileFulfillment,
		DryRun:               cfg.Klaviyo.DryRun,
		NotifyChannel:        cfg.Redis.Channel,
	}, log)

	return engine, cleanup, nil
}

// buildLedgerBackend 按配置选择台账后端
func buildLedgerBackend(cfg *config.Config, cleanups *[]func()) (ledger.Backend, error) {
	switch cfg.Ledger.Backend {
	case "file":
		return localfs.NewStore(cfg.Ledger.File.Path), nil
	case "mysql":
		dao, err := mysql.NewLedgerDAO(cfg.Ledger.MySQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("init mysql ledger failed: %w", err)
		}
		*cleanups = append(*cleanups, func() { dao.Close() })
		return dao, nil
	case "github":
		gh := cfg.Ledger.GitHub
		return githubfs.NewClient(gh.Repo, gh.Token, gh.Path, gh.CommitterName, gh.CommitterEmail), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}
}

// BuildLmstfyClient 创建触发队列客户端（未配置时返回 nil）
func BuildLmstfyClient(cfg *config.Config) (*lmstfy.Client, error) {
	if cfg.Lmstfy.Host == "" {
		return nil, nil
	}
	return lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
}
