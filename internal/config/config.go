package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Web        WebConfig        `mapstructure:"web"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	AuthCheck  AuthCheckConfig  `mapstructure:"auth_check"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
	Admins     []string         `mapstructure:"admins"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
	WebAppURL     string        `mapstructure:"webapp_url"`
	AutoDelete    AutoDelConfig `mapstructure:"auto_delete"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

type AutoDelConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type WebConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// EngineConfig points at the voice engine HTTP service. The engine shares the
// storage root with this process: embedding artifacts it creates land directly
// in the user's directory.
type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClassifierConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AuthCheckConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Root     string `mapstructure:"root"`
	FailOpen bool   `mapstructure:"fail_open"`
}

type ModerationConfig struct {
	MaxStrikes    int     `mapstructure:"max_strikes"`
	AlertThresh   float64 `mapstructure:"alert_thresh"`
	MinReportProb float64 `mapstructure:"min_report_prob"`
}

type SessionsConfig struct {
	Type  string        `mapstructure:"type"`
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	Backlog int `mapstructure:"backlog"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("bot.webapp_url", "WEBAPP_URL")
	viper.BindEnv("engine.base_url", "ENGINE_BASE_URL")
	viper.BindEnv("classifier.base_url", "CLASSIFIER_BASE_URL")
	viper.BindEnv("storage.root", "STORAGE_ROOT")
	viper.BindEnv("moderation.max_strikes", "MAX_STRIKES")
	viper.BindEnv("moderation.alert_thresh", "ALERT_THRESH")
	viper.BindEnv("sessions.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("sessions.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Sessions.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// Admin ids may come from the environment as a comma separated list
	if admins := viper.GetString("ADMIN_IDS"); admins != "" {
		config.Admins = config.Admins[:0]
		for _, id := range strings.Split(admins, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				config.Admins = append(config.Admins, id)
			}
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("bot.update_timeout", 60)
	viper.SetDefault("bot.auto_delete.delay", 5*time.Second)
	viper.SetDefault("web.listen_addr", ":5000")
	viper.SetDefault("engine.timeout", 300*time.Second)
	viper.SetDefault("classifier.timeout", 60*time.Second)
	viper.SetDefault("classifier.cache_ttl", 10*time.Minute)
	viper.SetDefault("auth_check.timeout", 120*time.Second)
	viper.SetDefault("storage.root", "data")
	viper.SetDefault("storage.fail_open", true)
	viper.SetDefault("moderation.max_strikes", 5)
	viper.SetDefault("moderation.alert_thresh", 0.50)
	viper.SetDefault("moderation.min_report_prob", 0.05)
	viper.SetDefault("sessions.type", "memory")
	viper.SetDefault("sessions.ttl", 24*time.Hour)
	viper.SetDefault("queue.workers", 1)
	viper.SetDefault("queue.backlog", 64)
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en", "ru"})
	viper.SetDefault("i18n.directory", "configs/i18n")
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Engine.BaseURL == "" {
		return fmt.Errorf("engine base_url is required")
	}
	if cfg.Moderation.MaxStrikes <= 0 {
		return fmt.Errorf("moderation max_strikes must be positive")
	}
	if cfg.Moderation.AlertThresh <= 0 || cfg.Moderation.AlertThresh > 1 {
		return fmt.Errorf("moderation alert_thresh must be in (0, 1]")
	}
	if cfg.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	switch cfg.Sessions.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported sessions type: %s", cfg.Sessions.Type)
	}
	return nil
}

// IsAdmin reports whether the given user id is configured as an administrator.
func (c *Config) IsAdmin(uid string) bool {
	for _, id := range c.Admins {
		if id == uid {
			return true
		}
	}
	return false
}
