package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"StockMesh/internal/config"
)

// clearEnv blanks every override so a developer's shell does not leak into
// the assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STOCKMESH_CONFIG", "STOCKMESH_SYMBOLS", "STOCKMESH_STORAGE",
		"STOCKMESH_POSTGRES_DSN", "STOCKMESH_TRANSPORT", "STOCKMESH_NATS_URL",
		"STOCKMESH_HTTP_ADDR", "STOCKMESH_GRPC_ADDR", "STOCKMESH_METRICS_ADDR",
		"STOCKMESH_BOOK_SNAPSHOT_INTERVAL", "STOCKMESH_PUBLISH_INTERVAL",
		"STOCKMESH_MIGRATIONS_DIR", "STOCKMESH_LOG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// ============================================================================
// Test: defaults and overrides
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != "postgres" || cfg.Transport != "nats" {
		t.Errorf("default backends = %s/%s", cfg.Storage, cfg.Transport)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" || cfg.MetricsAddr != ":9091" {
		t.Errorf("default addrs = %s/%s/%s", cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)
	}
	if cfg.PublishInterval != 10*time.Second {
		t.Errorf("default publish interval = %s", cfg.PublishInterval)
	}
	if cfg.Symbols != nil {
		t.Errorf("default symbols should be nil (meaning all available), got %v", cfg.Symbols)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKMESH_STORAGE", "memory")
	t.Setenv("STOCKMESH_TRANSPORT", "memory")
	t.Setenv("STOCKMESH_HTTP_ADDR", ":18080")
	t.Setenv("STOCKMESH_PUBLISH_INTERVAL", "2s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != "memory" || cfg.Transport != "memory" {
		t.Errorf("backends = %s/%s", cfg.Storage, cfg.Transport)
	}
	if cfg.HTTPAddr != ":18080" {
		t.Errorf("http addr = %s", cfg.HTTPAddr)
	}
	if cfg.PublishInterval != 2*time.Second {
		t.Errorf("publish interval = %s", cfg.PublishInterval)
	}
}

func TestLoad_SymbolsSplitAndUppercased(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKMESH_SYMBOLS", "msft, aapl ,GOOG,,")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"MSFT", "AAPL", "GOOG"}
	if len(cfg.Symbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", cfg.Symbols, want)
	}
	for i, s := range want {
		if cfg.Symbols[i] != s {
			t.Errorf("symbols[%d] = %q, want %q", i, cfg.Symbols[i], s)
		}
	}
}

func TestLoad_YAMLFileThenEnvWins(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stockmesh.yaml")
	yaml := strings.Join([]string{
		"storage: memory",
		"transport: memory",
		"http_addr: :28080",
		"publish_interval: 3s",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("STOCKMESH_CONFIG", path)
	t.Setenv("STOCKMESH_HTTP_ADDR", ":38080")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != "memory" {
		t.Errorf("storage from file = %s", cfg.Storage)
	}
	if cfg.PublishInterval != 3*time.Second {
		t.Errorf("publish interval from file = %s", cfg.PublishInterval)
	}
	// Environment overlays the file.
	if cfg.HTTPAddr != ":38080" {
		t.Errorf("http addr = %s, want env override :38080", cfg.HTTPAddr)
	}
}

// ============================================================================
// Test: validation
// ============================================================================

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKMESH_STORAGE", "cassandra")
	if _, err := config.Load(); err == nil {
		t.Error("unknown storage backend accepted")
	}

	clearEnv(t)
	t.Setenv("STOCKMESH_TRANSPORT", "kafka")
	if _, err := config.Load(); err == nil {
		t.Error("unknown transport backend accepted")
	}
}

func TestLoad_RejectsMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKMESH_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := config.Load(); err == nil {
		t.Error("missing config file accepted")
	}
}
