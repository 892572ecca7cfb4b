package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CURIOUSMINDS_BASIC_CONFIG_SERVER_ADDRESS.
const EnvPrefix = "CURIOUSMINDS"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config" validate:"required"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases" validate:"required,min=1,dive"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`
	AI          AIConfig                  `mapstructure:"ai"`
	Capture     CaptureConfig             `mapstructure:"capture"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `mapstructure:"server_address"`
	DBType            string `mapstructure:"db_type" validate:"oneof=sqlite sqlite3 mysql"`
	LogLevel          string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MinWorkers        int    `mapstructure:"min_workers" validate:"gte=0"`
	MaxWorkers        int    `mapstructure:"max_workers" validate:"gte=1"`
	QueueSize         int    `mapstructure:"queue_size" validate:"gte=1"`
	WorkerIdleTimeout int    `mapstructure:"worker_idle_timeout" validate:"gte=0"` // seconds
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AIConfig selects the chat provider and the Gemini models used for speech and images.
type AIConfig struct {
	ChatProvider string `mapstructure:"chat_provider" validate:"oneof=gemini openai claude"`
	SpeechModel  string `mapstructure:"speech_model"`
	ImageModel   string `mapstructure:"image_model"`
	Voice        string `mapstructure:"voice"`
}

type CaptureConfig struct {
	MicTimeout int    `mapstructure:"mic_timeout" validate:"gte=1"` // seconds
	MimeType   string `mapstructure:"mime_type" validate:"required"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Any key can be overridden from the environment using EnvPrefix.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if isSQLite(name) {
			db.DSN = resolveSQLiteDSN(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field requirements.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.BasicConfig.MaxWorkers < cfg.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", cfg.BasicConfig.MaxWorkers, cfg.BasicConfig.MinWorkers)
	}
	db, ok := cfg.Databases[cfg.BasicConfig.DBType]
	if !ok {
		return fmt.Errorf("database config for %s not found", cfg.BasicConfig.DBType)
	}
	if isSQLite(cfg.BasicConfig.DBType) && db.DSN == "" {
		return fmt.Errorf("sqlite dsn must be configured")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.db_type", "sqlite3")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.min_workers", 1)
	v.SetDefault("basic_config.max_workers", 4)
	v.SetDefault("basic_config.queue_size", 64)
	v.SetDefault("basic_config.worker_idle_timeout", 30)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("ai.chat_provider", "gemini")
	v.SetDefault("ai.speech_model", "gemini-2.5-flash-preview-tts")
	v.SetDefault("ai.image_model", "gemini-2.5-flash-image")
	v.SetDefault("ai.voice", "Zephyr")
	v.SetDefault("capture.mic_timeout", 10)
	v.SetDefault("capture.mime_type", "audio/webm")
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func resolveSQLiteDSN(baseDir, dsn string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(baseDir, dsn)
}
