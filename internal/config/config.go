package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration derived from the environment and an optional file.
type Config struct {
	HTTPPort     string
	DBPath       string
	ConfigPath   string
	StrictConfig bool
	WatchConfig  bool

	Maps     MapsConfig
	Analyzer AnalyzerConfig
	Gate     GateConfig
	Stripe   StripeConfig

	SessionSecret string
	SecureCookies bool

	WorkerCount   int
	JobQueueSize  int
	JobTimeoutSec int

	ElasticsearchURL   string
	ElasticsearchIndex string
	TelegramToken      string
	TelegramChatID     int64
	RetentionDays      int
	RetentionSchedule  string
}

// MapsConfig points the places client at Google Maps.
type MapsConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
}

// AnalyzerConfig tunes search pagination, pacing and probing.
type AnalyzerConfig struct {
	DefaultRadius    int
	MaxResults       int
	MaxPages         int
	PageTokenDelayMS int
	BusinessDelayMS  int
	ProbeTimeoutSec  int
	Concurrency      int
	UserAgent        string
}

// GateConfig controls the free tier and the upgrade price. Hot-reloadable.
type GateConfig struct {
	FreeResultLimit   int    `json:"free_result_limit"`
	UpgradePriceCents int64  `json:"upgrade_price_cents"`
	Currency          string `json:"currency"`
}

// StripeConfig carries payment processor keys.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
}

type fileConfig struct {
	HTTPPort string             `json:"http_port" yaml:"http_port"`
	DBPath   string             `json:"db_path" yaml:"db_path"`
	Analyzer analyzerFileConfig `json:"analyzer" yaml:"analyzer"`
	Gate     gateFileConfig     `json:"gate" yaml:"gate"`
}

type analyzerFileConfig struct {
	DefaultRadius    *int `json:"default_radius" yaml:"default_radius"`
	MaxResults       *int `json:"max_results" yaml:"max_results"`
	MaxPages         *int `json:"max_pages" yaml:"max_pages"`
	PageTokenDelayMS *int `json:"page_token_delay_ms" yaml:"page_token_delay_ms"`
	BusinessDelayMS  *int `json:"business_delay_ms" yaml:"business_delay_ms"`
	ProbeTimeoutSec  *int `json:"probe_timeout_sec" yaml:"probe_timeout_sec"`
	Concurrency      *int `json:"concurrency" yaml:"concurrency"`
}

type gateFileConfig struct {
	FreeResultLimit   *int   `json:"free_result_limit" yaml:"free_result_limit"`
	UpgradePriceCents *int64 `json:"upgrade_price_cents" yaml:"upgrade_price_cents"`
	Currency          string `json:"currency" yaml:"currency"`
}

const (
	defaultPort              = ":5002"
	defaultDBFile            = "bizcheck.db"
	defaultMapsBaseURL       = "https://maps.googleapis.com/maps/api"
	defaultMapsTimeoutSec    = 15
	defaultRadius            = 15000
	defaultMaxResults        = 60
	defaultMaxPages          = 3
	defaultPageTokenDelayMS  = 2000
	defaultBusinessDelayMS   = 500
	defaultProbeTimeoutSec   = 10
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultFreeResultLimit   = 5
	defaultUpgradePriceCents = 600
	defaultCurrency          = "usd"
	minQueueSize             = 1
	defaultQueueSize         = 32
	maxQueueSize             = 1024
	defaultWorkerCount       = 2
	defaultJobTimeoutSec     = 600
	defaultESIndex           = "bizcheck-leads"
	defaultRetentionDays     = 30
	defaultRetentionSchedule = "0 3 * * *"
)

// DefaultGate returns the free tier settings used when nothing overrides them.
func DefaultGate() GateConfig {
	return GateConfig{
		FreeResultLimit:   defaultFreeResultLimit,
		UpgradePriceCents: defaultUpgradePriceCents,
		Currency:          defaultCurrency,
	}
}

func defaultAnalyzer() AnalyzerConfig {
	return AnalyzerConfig{
		DefaultRadius:    defaultRadius,
		MaxResults:       defaultMaxResults,
		MaxPages:         defaultMaxPages,
		PageTokenDelayMS: defaultPageTokenDelayMS,
		BusinessDelayMS:  defaultBusinessDelayMS,
		ProbeTimeoutSec:  defaultProbeTimeoutSec,
		Concurrency:      1,
		UserAgent:        defaultUserAgent,
	}
}

// Load reads configuration from .env, the optional config file and environment variables.
func Load() (Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	cfg := Config{
		StrictConfig:  parseBoolEnv("STRICT_CONFIG"),
		WatchConfig:   parseBoolEnvDefault("WATCH_CONFIG", true),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		SecureCookies: parseBoolEnv("SECURE_COOKIES"),
		Maps: MapsConfig{
			APIKey:     strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")),
			BaseURL:    strings.TrimRight(getEnv("MAPS_BASE_URL", defaultMapsBaseURL), "/"),
			TimeoutSec: defaultMapsTimeoutSec,
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
			PublishableKey: strings.TrimSpace(os.Getenv("STRIPE_PUBLISHABLE_KEY")),
		},
		WorkerCount:        defaultWorkerCount,
		JobQueueSize:       defaultQueueSize,
		JobTimeoutSec:      defaultJobTimeoutSec,
		ElasticsearchURL:   strings.TrimSpace(os.Getenv("ELASTICSEARCH_URL")),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", defaultESIndex),
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		RetentionDays:      defaultRetentionDays,
		RetentionSchedule:  getEnv("RETENTION_SCHEDULE", defaultRetentionSchedule),
	}

	cfg.ConfigPath = getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", cfg.ConfigPath, fileErr)
	}

	cfg.Analyzer = applyAnalyzerOverrides(defaultAnalyzer(), fileCfg.Analyzer)
	cfg.Gate = applyGateOverrides(DefaultGate(), fileCfg.Gate)

	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, defaultDBFile)
	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && cfg.HTTPPort == defaultPort {
		cfg.HTTPPort = legacyPort
	}
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	intOverrides := []struct {
		key string
		dst *int
		min int
		max int
	}{
		{"DEFAULT_RADIUS", &cfg.Analyzer.DefaultRadius, 1, 50000},
		{"MAX_RESULTS", &cfg.Analyzer.MaxResults, 1, defaultMaxResults},
		{"MAX_PAGES", &cfg.Analyzer.MaxPages, 1, defaultMaxPages},
		{"PAGE_TOKEN_DELAY_MS", &cfg.Analyzer.PageTokenDelayMS, 0, 60000},
		{"BUSINESS_DELAY_MS", &cfg.Analyzer.BusinessDelayMS, 0, 60000},
		{"PROBE_TIMEOUT_SEC", &cfg.Analyzer.ProbeTimeoutSec, 1, 120},
		{"ANALYZE_CONCURRENCY", &cfg.Analyzer.Concurrency, 1, 16},
		{"FREE_RESULT_LIMIT", &cfg.Gate.FreeResultLimit, 0, defaultMaxResults},
		{"WORKER_COUNT", &cfg.WorkerCount, 0, 64},
		{"JOB_QUEUE_SIZE", &cfg.JobQueueSize, minQueueSize, maxQueueSize},
		{"RETENTION_DAYS", &cfg.RetentionDays, 0, 3650},
		{"MAPS_TIMEOUT_SEC", &cfg.Maps.TimeoutSec, 1, 120},
	}
	for _, o := range intOverrides {
		v, ok, err := parseIntEnv(o.key)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", o.key, err)
			}
			log.Printf("invalid %s: %v (using %d)", o.key, err, *o.dst)
			continue
		}
		if !ok {
			continue
		}
		clamped := clampInt(v, o.min, o.max)
		if clamped != v {
			log.Printf("%s clamped to %d (was %d)", o.key, clamped, v)
		}
		*o.dst = clamped
	}

	if v, ok, err := parseIntEnv("UPGRADE_PRICE_CENTS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid UPGRADE_PRICE_CENTS: %w", err)
		}
		log.Printf("invalid UPGRADE_PRICE_CENTS: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.Gate.UpgradePriceCents = int64(v)
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("CURRENCY"))); v != "" {
		cfg.Gate.Currency = v
	}
	if v := strings.TrimSpace(os.Getenv("USER_AGENT")); v != "" {
		cfg.Analyzer.UserAgent = v
	}

	if v, ok, err := parseIntEnv("JOB_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
	} else if ok {
		if v <= 0 {
			return cfg, fmt.Errorf("JOB_TIMEOUT_SEC must be positive")
		}
		cfg.JobTimeoutSec = v
	}

	if cfg.JobQueueSize < cfg.WorkerCount {
		log.Printf("JOB_QUEUE_SIZE must be >= WORKER_COUNT; using %d", cfg.WorkerCount)
		cfg.JobQueueSize = cfg.WorkerCount
	}

	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
			}
			log.Printf("invalid TELEGRAM_CHAT_ID: %v (telegram disabled)", err)
		} else {
			cfg.TelegramChatID = id
		}
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	log.Printf("config: port=%s db=%s maps_key_set=%t stripe_set=%t free_limit=%d workers=%d",
		cfg.HTTPPort, cfg.DBPath, cfg.Maps.APIKey != "", cfg.Stripe.SecretKey != "", cfg.Gate.FreeResultLimit, cfg.WorkerCount)
	return cfg, nil
}

// LoadGate reads only the gate section of a config file, layered over defaults.
func LoadGate(path string) (GateConfig, error) {
	fc, err := loadFileConfig(path)
	if err != nil {
		return GateConfig{}, err
	}
	gate := applyGateOverrides(DefaultGate(), fc.Gate)
	if err := validateGate(gate); err != nil {
		return GateConfig{}, err
	}
	return gate, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return errors.New("HTTP_PORT is required")
	}
	if cfg.Maps.APIKey == "" {
		return errors.New("GOOGLE_MAPS_API_KEY is required for searches")
	}
	if (cfg.Stripe.SecretKey == "") != (cfg.Stripe.PublishableKey == "") {
		return errors.New("STRIPE_SECRET_KEY and STRIPE_PUBLISHABLE_KEY must be set together")
	}
	if (cfg.TelegramToken == "") != (cfg.TelegramChatID == 0) {
		return errors.New("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return validateGate(cfg.Gate)
}

func validateGate(g GateConfig) error {
	if g.FreeResultLimit < 0 {
		return errors.New("gate free_result_limit must not be negative")
	}
	if g.UpgradePriceCents <= 0 {
		return errors.New("gate upgrade_price_cents must be positive")
	}
	if len(g.Currency) != 3 {
		return fmt.Errorf("gate currency must be an ISO code (got %q)", g.Currency)
	}
	return nil
}

func applyAnalyzerOverrides(base AnalyzerConfig, override analyzerFileConfig) AnalyzerConfig {
	if override.DefaultRadius != nil && *override.DefaultRadius > 0 {
		base.DefaultRadius = *override.DefaultRadius
	}
	if override.MaxResults != nil && *override.MaxResults > 0 {
		base.MaxResults = clampInt(*override.MaxResults, 1, defaultMaxResults)
	}
	if override.MaxPages != nil && *override.MaxPages > 0 {
		base.MaxPages = clampInt(*override.MaxPages, 1, defaultMaxPages)
	}
	if override.PageTokenDelayMS != nil && *override.PageTokenDelayMS >= 0 {
		base.PageTokenDelayMS = *override.PageTokenDelayMS
	}
	if override.BusinessDelayMS != nil && *override.BusinessDelayMS >= 0 {
		base.BusinessDelayMS = *override.BusinessDelayMS
	}
	if override.ProbeTimeoutSec != nil && *override.ProbeTimeoutSec > 0 {
		base.ProbeTimeoutSec = *override.ProbeTimeoutSec
	}
	if override.Concurrency != nil && *override.Concurrency > 0 {
		base.Concurrency = clampInt(*override.Concurrency, 1, 16)
	}
	return base
}

// applyGateOverrides layers file values over base, ignoring unset or invalid entries.
func applyGateOverrides(base GateConfig, override gateFileConfig) GateConfig {
	if override.FreeResultLimit != nil && *override.FreeResultLimit >= 0 {
		base.FreeResultLimit = *override.FreeResultLimit
	}
	if override.UpgradePriceCents != nil && *override.UpgradePriceCents > 0 {
		base.UpgradePriceCents = *override.UpgradePriceCents
	}
	if c := strings.ToLower(strings.TrimSpace(override.Currency)); c != "" {
		base.Currency = c
	}
	return base
}

// PageTokenDelay returns the pause required before a continuation token is reused.
func (a AnalyzerConfig) PageTokenDelay() time.Duration {
	return time.Duration(a.PageTokenDelayMS) * time.Millisecond
}

// BusinessDelay returns the spacing between successive business analyses.
func (a AnalyzerConfig) BusinessDelay() time.Duration {
	return time.Duration(a.BusinessDelayMS) * time.Millisecond
}

// ProbeTimeout returns the hard timeout for one website probe.
func (a AnalyzerConfig) ProbeTimeout() time.Duration {
	return time.Duration(a.ProbeTimeoutSec) * time.Second
}

// JobTimeout returns the per-search budget for async jobs.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns utc time helper for deterministic timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
