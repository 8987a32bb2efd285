package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Bot          BotConfig          `json:"bot"`
	Database     DatabaseConfig     `json:"database"`
	Engine       EngineConfig       `json:"engine"`
	Confirmation ConfirmationConfig `json:"confirmation"`
	Enforcement  EnforcementConfig  `json:"enforcement"`
	Detection    DetectionConfig    `json:"detection"`
	API          APIConfig          `json:"api"`
	Redis        RedisConfig        `json:"redis"`
	Logging      LoggingConfig      `json:"logging"`
}

type BotConfig struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
}

type EngineConfig struct {
	MailboxSize         int      `json:"mailbox_size"`
	WorkerIdleTTL       Duration `json:"worker_idle_ttl"`
	SweepInterval       Duration `json:"sweep_interval"`
	MaxSubjectsPerGuild int      `json:"max_subjects_per_guild"`
	ClassifierTimeout   Duration `json:"classifier_timeout"`
	PolicyCacheTTL      Duration `json:"policy_cache_ttl"`
}

type ConfirmationConfig struct {
	Timeout Duration `json:"timeout"`
	// Ceiling bounds any per-guild override of Timeout.
	Ceiling Duration `json:"ceiling"`
}

type EnforcementConfig struct {
	Workers     int      `json:"workers"`
	QueueSize   int      `json:"queue_size"`
	MaxAttempts int      `json:"max_attempts"`
	BaseBackoff Duration `json:"base_backoff"`
	MaxBackoff  Duration `json:"max_backoff"`
	// RetryBudget is the hard ceiling on the total time spent on one request.
	RetryBudget   Duration `json:"retry_budget"`
	RequestRate   float64  `json:"request_rate"`
	APIBaseURL    string   `json:"api_base_url"`
	HTTPPoolSize  int      `json:"http_pool_size"`
	TokenCacheTTL Duration `json:"token_cache_ttl"`
	ExpirySweep   Duration `json:"expiry_sweep"`
}

type DetectionConfig struct {
	LinkDenylist       []string `json:"link_denylist"`
	LinkAllowlist      []string `json:"link_allowlist"`
	URLShorteners      []string `json:"url_shorteners"`
	InviteAllowlist    []string `json:"invite_allowlist"`
	SuspiciousTLDs     []string `json:"suspicious_tlds"`
	LookalikeKeywords  []string `json:"lookalike_keywords"`
	MaxMentions        int      `json:"max_mentions"`
	MaxEmoji           int      `json:"max_emoji"`
	DuplicateThreshold int      `json:"duplicate_threshold"`
	DuplicateWindow    Duration `json:"duplicate_window"`
	SelfHarmPhrases    []string `json:"self_harm_phrases"`
	ClassifierURL      string   `json:"classifier_url"`
	MinAccountAge      Duration `json:"min_account_age"`
}

type APIConfig struct {
	Bind  string `json:"bind"`
	Token string `json:"token"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	Path  string `json:"path"`
	// Stdout mirrors the file log to stdout.
	Stdout bool `json:"stdout"`
	// DecisionPath receives one JSON line per decision. Empty disables it.
	DecisionPath string `json:"decision_path"`
	// Rotation limits for both files. Zero means unbounded.
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`
}

// Duration marshals as a Go duration string ("10s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Second)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

var GlobalConfig *Config

// Load reads a JSON config on top of the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

// LoadOrDefault falls back to the defaults (plus environment) when the file
// does not exist. Malformed files are still an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = DefaultConfig()
	cfg.ApplyEnv()
	GlobalConfig = cfg
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnv() {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Bot.Token = token
	}
	if clientID := os.Getenv("CLIENT_ID"); clientID != "" {
		c.Bot.ClientID = clientID
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.URL = redisURL
	}
	if bind := os.Getenv("OPENGUARD_API_BIND"); bind != "" {
		c.API.Bind = bind
	}
	if secret := os.Getenv("MOD_LOG_API_SECRET"); secret != "" {
		c.API.Token = secret
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Engine.MailboxSize < 1 {
		return fmt.Errorf("engine.mailbox_size must be positive")
	}
	if c.Engine.MaxSubjectsPerGuild < 1 {
		return fmt.Errorf("engine.max_subjects_per_guild must be positive")
	}
	if c.Confirmation.Timeout <= 0 || c.Confirmation.Ceiling <= 0 {
		return fmt.Errorf("confirmation timeout and ceiling must be positive")
	}
	if c.Confirmation.Timeout > c.Confirmation.Ceiling {
		return fmt.Errorf("confirmation.timeout %s exceeds ceiling %s", c.Confirmation.Timeout.Std(), c.Confirmation.Ceiling.Std())
	}
	if c.Enforcement.Workers < 1 || c.Enforcement.MaxAttempts < 1 {
		return fmt.Errorf("enforcement workers and max_attempts must be positive")
	}
	if c.Enforcement.RetryBudget <= 0 {
		return fmt.Errorf("enforcement.retry_budget must be positive")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "openguard.db",
			MaxOpenConns: 25,
		},
		Engine: EngineConfig{
			MailboxSize:         1024,
			WorkerIdleTTL:       Duration(10 * time.Minute),
			SweepInterval:       Duration(30 * time.Second),
			MaxSubjectsPerGuild: 10000,
			ClassifierTimeout:   Duration(3 * time.Second),
			PolicyCacheTTL:      Duration(30 * time.Second),
		},
		Confirmation: ConfirmationConfig{
			Timeout: Duration(5 * time.Minute),
			Ceiling: Duration(30 * time.Minute),
		},
		Enforcement: EnforcementConfig{
			Workers:       8,
			QueueSize:     4096,
			MaxAttempts:   5,
			BaseBackoff:   Duration(250 * time.Millisecond),
			MaxBackoff:    Duration(8 * time.Second),
			RetryBudget:   Duration(30 * time.Second),
			RequestRate:   45,
			APIBaseURL:    "https://discord.com/api/v10",
			HTTPPoolSize:  4,
			TokenCacheTTL: Duration(24 * time.Hour),
			ExpirySweep:   Duration(time.Minute),
		},
		Detection: DefaultDetection(),
		API: APIConfig{
			Bind: ":8089",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Path:         "openguard.log",
			Stdout:       true,
			DecisionPath: "decisions.log",
			MaxSizeMB:    64,
			MaxBackups:   7,
			MaxAgeDays:   14,
			Compress:     true,
		},
	}
}

func Get() *Config {
	if GlobalConfig == nil {
		return DefaultConfig()
	}
	return GlobalConfig
}
