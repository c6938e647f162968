package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Squarespace SquarespaceConfig `mapstructure:"squarespace"`
	Klaviyo     KlaviyoConfig     `mapstructure:"klaviyo"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lmstfy      LmstfyConfig      `mapstructure:"lmstfy"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// SquarespaceConfig 订单源（Squarespace Commerce API）配置
type SquarespaceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KlaviyoConfig 事件目标（Klaviyo Events API）配置
type KlaviyoConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Revision string        `mapstructure:"revision"` // API 版本头
	Timeout  time.Duration `mapstructure:"timeout"`
	DryRun   bool          `mapstructure:"dry_run"` // 只计算不发送
}

// SyncConfig 同步策略配置
type SyncConfig struct {
	WindowMinutes        int  `mapstructure:"window_minutes"`        // 订单时间窗口（分钟）
	ReconcileRefunds     bool `mapstructure:"reconcile_refunds"`     // 退款信号超窗补偿
	ReconcileFulfillment bool `mapstructure:"reconcile_fulfillment"` // 发货信号超窗补偿
}

// LedgerConfig 已处理台账配置
type LedgerConfig struct {
	Backend  string             `mapstructure:"backend"` // file/mysql/github
	Capacity int                `mapstructure:"capacity"`
	File     FileLedgerConfig   `mapstructure:"file"`
	MySQL    MySQLLedgerConfig  `mapstructure:"mysql"`
	GitHub   GitHubLedgerConfig `mapstructure:"github"`
}

// FileLedgerConfig 本地文件台账配置
type FileLedgerConfig struct {
	Path string `mapstructure:"path"`
}

// MySQLLedgerConfig MySQL 台账配置
type MySQLLedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// GitHubLedgerConfig GitHub Contents API 台账配置
type GitHubLedgerConfig struct {
	Repo           string `mapstructure:"repo"` // owner/repo
	Token          string `mapstructure:"token"`
	Path           string `mapstructure:"path"`
	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
}

// RedisConfig Redis 配置（运行结果通知）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LmstfyConfig Lmstfy 触发队列配置
type LmstfyConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Namespace string        `mapstructure:"namespace"`
	Token     string        `mapstructure:"token"`
	Queue     string        `mapstructure:"queue"`
	Timeout   time.Duration `mapstructure:"timeout"` // 拉取超时
	TTR       time.Duration `mapstructure:"ttr"`     // Time-To-Run
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Squarespace.BaseURL == "" {
		c.Squarespace.BaseURL = "https://api.squarespace.com"
	}
	if c.Squarespace.Timeout <= 0 {
		c.Squarespace.Timeout = 20 * time.Second
	}
	if c.Klaviyo.BaseURL == "" {
		c.Klaviyo.BaseURL = "https://a.klaviyo.com"
	}
	if c.Klaviyo.Revision == "" {
		c.Klaviyo.Revision = "2024-10-15"
	}
	if c.Klaviyo.Timeout <= 0 {
		c.Klaviyo.Timeout = 20 * time.Second
	}
	if c.Sync.WindowMinutes <= 0 {
		c.Sync.WindowMinutes = 1440
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Capacity <= 0 {
		c.Ledger.Capacity = 500
	}
	if c.Ledger.File.Path == "" {
		c.Ledger.File.Path = "data/processed.json"
	}
	if c.Ledger.GitHub.Path == "" {
		c.Ledger.GitHub.Path = "data/processed.json"
	}
	if c.Lmstfy.Timeout <= 0 {
		c.Lmstfy.Timeout = 3 * time.Second
	}
	if c.Lmstfy.TTR <= 0 {
		c.Lmstfy.TTR = 120 * time.Second
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Squarespace.APIKey == "" {
		return fmt.Errorf("squarespace.api_key is required")
	}
	if c.Klaviyo.APIKey == "" && !c.Klaviyo.DryRun {
		return fmt.Errorf("klaviyo.api_key is required unless klaviyo.dry_run is set")
	}
	switch c.Ledger.Backend {
	case "file", "mysql", "github":
	default:
		return fmt.Errorf("ledger.backend must be one of file/mysql/github, got %q", c.Ledger.Backend)
	}
	if c.Ledger.Backend == "mysql" && c.Ledger.MySQL.DSN == "" {
		return fmt.Errorf("ledger.mysql.dsn is required for mysql backend")
	}
	if c.Ledger.Backend == "github" {
		if c.Ledger.GitHub.Repo == "" {
			return fmt.Errorf("ledger.github.repo is required for github backend")
		}
		if c.Ledger.GitHub.Token == "" {
			return fmt.Errorf("ledger.github.token is required for github backend")
		}
	}
	return nil
}
