package startup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"capture-library/internal/assets"
	"capture-library/internal/cleanup"
	"capture-library/internal/library"
	"capture-library/internal/logging"
	"capture-library/internal/ocr"
	"capture-library/internal/reindex"

	"github.com/pelletier/go-toml/v2"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultListenAddr      = "127.0.0.1:7420"
	DefaultConfigFileName  = "capture-library.toml"
	defaultLibraryDirName  = "capture-library"
	defaultOCRLanguageList = "en"
)

// Duration is a time.Duration that reads from TOML strings like "2s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// AssetsConfig controls rendering of the derived image tiers.
type AssetsConfig struct {
	ThumbnailMaxDimension int `toml:"thumbnail_max_dimension"`
	ThumbnailQuality      int `toml:"thumbnail_quality"`
	PreviewMaxDimension   int `toml:"preview_max_dimension"`
	PreviewQuality        int `toml:"preview_quality"`
}

// Options converts the section into asset store options.
func (a AssetsConfig) Options() *assets.Options {
	return &assets.Options{
		ThumbnailMaxDimension: a.ThumbnailMaxDimension,
		ThumbnailQuality:      a.ThumbnailQuality,
		PreviewMaxDimension:   a.PreviewMaxDimension,
		PreviewQuality:        a.PreviewQuality,
	}
}

// Config holds all application configuration
type Config struct {
	LibraryDir        string       `toml:"library_dir"`
	RetentionDays     int          `toml:"retention_days"`
	MaxItems          int64        `toml:"max_items"`
	MaxBytes          int64        `toml:"max_bytes"`
	OCRLanguages      []string     `toml:"ocr_languages"`
	PreferredLanguage string       `toml:"preferred_language"`
	ReindexEnabled    bool         `toml:"reindex_enabled"`
	ReindexDebounce   Duration     `toml:"reindex_debounce"`
	CleanupSchedule   string       `toml:"cleanup_schedule"`
	ListenAddr        string       `toml:"listen_addr"`
	MetricsEnabled    bool         `toml:"metrics_enabled"`
	LogLevel          string       `toml:"log_level"`
	Assets            AssetsConfig `toml:"assets"`
}

// CleanupPolicy returns the cleanup limits carried by the config.
func (c *Config) CleanupPolicy() cleanup.Policy {
	return cleanup.Policy{
		RetentionDays: c.RetentionDays,
		MaxItems:      c.MaxItems,
		MaxBytes:      c.MaxBytes,
	}
}

// LibraryConfig builds the library configuration, with rec as the OCR
// backend.
func (c *Config) LibraryConfig(rec ocr.Recognizer) library.Config {
	return library.Config{
		Dir:               c.LibraryDir,
		Assets:            c.Assets.Options(),
		PreferredLanguage: c.PreferredLanguage,
		Recognizer:        rec,
		OCRLanguages:      c.OCRLanguages,
		Cleanup:           c.CleanupPolicy(),
	}
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		LibraryDir:      defaultLibraryDir(),
		OCRLanguages:    []string{defaultOCRLanguageList},
		ReindexEnabled:  true,
		ReindexDebounce: Duration(reindex.DefaultDebounce),
		CleanupSchedule: cleanup.DefaultSchedule,
		ListenAddr:      DefaultListenAddr,
		MetricsEnabled:  true,
		LogLevel:        logging.GetLevel().String(),
	}
}

func defaultLibraryDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, defaultLibraryDirName)
	}
	return filepath.Join(".", defaultLibraryDirName)
}

// LoadConfig builds the configuration from defaults, the TOML file at path
// (skipped when path is empty or the file does not exist) and environment
// overrides, in that order. The log level is applied as a side effect.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
	}
	cfg.LibraryDir = abs
	cfg.OCRLanguages = ocr.NormalizeLanguages(cfg.OCRLanguages)

	if level, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logging.SetLevel(level)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("Config file %s not found, using defaults", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logging.Debug("Loaded config file %s", path)
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	cfg.LibraryDir = getEnv("CAPTURE_LIBRARY_DIR", cfg.LibraryDir)
	cfg.RetentionDays = getEnvInt("CAPTURE_RETENTION_DAYS", cfg.RetentionDays)
	cfg.MaxItems = getEnvInt64("CAPTURE_MAX_ITEMS", cfg.MaxItems)
	cfg.MaxBytes = getEnvInt64("CAPTURE_MAX_BYTES", cfg.MaxBytes)
	if langs := os.Getenv("CAPTURE_OCR_LANGUAGES"); langs != "" {
		cfg.OCRLanguages = strings.FieldsFunc(langs, func(r rune) bool { return r == ',' || r == ' ' })
	}
	cfg.ReindexEnabled = getEnvBool("CAPTURE_REINDEX_ENABLED", cfg.ReindexEnabled)
	cfg.CleanupSchedule = getEnv("CAPTURE_CLEANUP_SCHEDULE", cfg.CleanupSchedule)
	cfg.ListenAddr = getEnv("CAPTURE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsEnabled = getEnvBool("CAPTURE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects negative limits and non-loopback listen addresses.
func (c *Config) Validate() error {
	var errs []error
	if c.LibraryDir == "" {
		errs = append(errs, errors.New("library_dir must not be empty"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days must be >= 0, got %d", c.RetentionDays))
	}
	if c.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("max_items must be >= 0, got %d", c.MaxItems))
	}
	if c.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("max_bytes must be >= 0, got %d", c.MaxBytes))
	}
	if c.ReindexDebounce < 0 {
		errs = append(errs, errors.New("reindex_debounce must not be negative"))
	}
	if c.ListenAddr != "" {
		if err := checkLoopback(c.ListenAddr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("listen_addr %q is not a loopback address", addr)
}

// LogConfig prints the configuration block.
func LogConfig(cfg *Config, path string) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if path != "" {
		logging.Info("  Config file:         %s", path)
	}
	logging.Info("  LIBRARY_DIR:         %s", cfg.LibraryDir)
	logging.Info("  RETENTION_DAYS:      %s", limitString(int64(cfg.RetentionDays)))
	logging.Info("  MAX_ITEMS:           %s", limitString(cfg.MaxItems))
	logging.Info("  MAX_BYTES:           %s", limitString(cfg.MaxBytes))
	logging.Info("  OCR_LANGUAGES:       %s", strings.Join(cfg.OCRLanguages, ", "))
	logging.Info("  REINDEX_ENABLED:     %v", cfg.ReindexEnabled)
	logging.Info("  REINDEX_DEBOUNCE:    %s", time.Duration(cfg.ReindexDebounce))
	logging.Info("  CLEANUP_SCHEDULE:    %s", cfg.CleanupSchedule)
	logging.Info("  LISTEN_ADDR:         %s", listenString(cfg.ListenAddr))
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
}

func limitString(v int64) string {
	if v <= 0 {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}

func listenString(addr string) string {
	if addr == "" {
		return "DISABLED"
	}
	return addr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
