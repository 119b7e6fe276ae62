package startup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"capture-library/internal/cleanup"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPTURE_LIBRARY_DIR", dir)

	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LibraryDir != dir {
		t.Errorf("LibraryDir = %q, want %q", cfg.LibraryDir, dir)
	}
	if cfg.ListenAddr != DefaultListenAddr || !cfg.MetricsEnabled || !cfg.ReindexEnabled {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CleanupSchedule != cleanup.DefaultSchedule {
		t.Errorf("CleanupSchedule = %q", cfg.CleanupSchedule)
	}
	if cfg.CleanupPolicy().Enabled() {
		t.Error("default cleanup policy should be disabled")
	}
}

func TestLoadConfigFile(t *testing.T) {
	lib := t.TempDir()
	path := writeConfig(t, `
library_dir = "`+filepath.ToSlash(lib)+`"
retention_days = 30
max_items = 500
max_bytes = 1073741824
ocr_languages = ["ja", "EN", "en"]
reindex_debounce = "5s"
cleanup_schedule = "0 */15 * * * *"
listen_addr = "[::1]:9000"
metrics_enabled = false

[assets]
thumbnail_max_dimension = 256
preview_quality = 70
`)
	t.Setenv("CAPTURE_LIBRARY_DIR", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := cleanup.Policy{RetentionDays: 30, MaxItems: 500, MaxBytes: 1 << 30}
	if got := cfg.CleanupPolicy(); got != want {
		t.Errorf("CleanupPolicy = %+v, want %+v", got, want)
	}
	if got := strings.Join(cfg.OCRLanguages, " "); got != "en ja" {
		t.Errorf("OCRLanguages = %q, want normalized %q", got, "en ja")
	}
	if time.Duration(cfg.ReindexDebounce) != 5*time.Second {
		t.Errorf("ReindexDebounce = %v", time.Duration(cfg.ReindexDebounce))
	}
	if cfg.ListenAddr != "[::1]:9000" || cfg.MetricsEnabled {
		t.Errorf("listen/metrics = %q/%v", cfg.ListenAddr, cfg.MetricsEnabled)
	}
	opts := cfg.Assets.Options()
	if opts.ThumbnailMaxDimension != 256 || opts.PreviewQuality != 70 || opts.PreviewMaxDimension != 0 {
		t.Errorf("asset options = %+v", opts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
library_dir = "/from/file"
max_items = 10
reindex_enabled = true
`)
	dir := t.TempDir()
	t.Setenv("CAPTURE_LIBRARY_DIR", dir)
	t.Setenv("CAPTURE_MAX_ITEMS", "25")
	t.Setenv("CAPTURE_OCR_LANGUAGES", "de, fr")
	t.Setenv("CAPTURE_REINDEX_ENABLED", "false")
	t.Setenv("CAPTURE_RETENTION_DAYS", "not-a-number")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LibraryDir != dir || cfg.MaxItems != 25 || cfg.ReindexEnabled {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if got := strings.Join(cfg.OCRLanguages, " "); got != "de fr" {
		t.Errorf("OCRLanguages = %q", got)
	}
	if cfg.RetentionDays != 0 {
		t.Errorf("invalid integer should keep the previous value, got %d", cfg.RetentionDays)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed toml", body: "max_items = = 3", want: "failed to parse"},
		{name: "negative limit", body: "max_bytes = -1", want: "max_bytes"},
		{name: "bad duration", body: `reindex_debounce = "soon"`, want: "failed to parse"},
		{name: "public listen address", body: `listen_addr = "0.0.0.0:7420"`, want: "not a loopback"},
		{name: "listen address without port", body: `listen_addr = "localhost"`, want: "invalid listen_addr"},
	}

	t.Setenv("CAPTURE_LIBRARY_DIR", t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestCheckLoopback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		ok   bool
	}{
		{"127.0.0.1:7420", true},
		{"localhost:80", true},
		{"[::1]:7420", true},
		{"192.168.1.10:7420", false},
		{":7420", false},
	}
	for _, tt := range tests {
		if err := checkLoopback(tt.addr); (err == nil) != tt.ok {
			t.Errorf("checkLoopback(%q) = %v, want ok=%v", tt.addr, err, tt.ok)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "unset keeps default", defaultValue: true, want: true},
		{name: "true", envValue: "true", want: true},
		{name: "zero", envValue: "0", defaultValue: true, want: false},
		{name: "invalid keeps default", envValue: "maybe", defaultValue: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_CAPTURE_BOOL", tt.envValue)
			if got := getEnvBool("TEST_CAPTURE_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TEST_CAPTURE_INT", "1099511627776")
	if got := getEnvInt64("TEST_CAPTURE_INT", 0); got != 1<<40 {
		t.Errorf("getEnvInt64 = %d", got)
	}
	t.Setenv("TEST_CAPTURE_INT", "12MB")
	if got := getEnvInt64("TEST_CAPTURE_INT", 7); got != 7 {
		t.Errorf("invalid value should return default, got %d", got)
	}
}
