package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %q: %v", path, err)
		}
		if cfg.Addr() != "localhost:8080" {
			t.Fatalf("addr = %q", cfg.Addr())
		}
		if cfg.DB.Path != DefaultDBPath || cfg.Locations != DefaultLocations {
			t.Fatalf("cfg = %+v", cfg)
		}
		if cfg.Retention() != 30*24*time.Hour {
			t.Fatalf("retention = %s", cfg.Retention())
		}
		if cfg.CleanupInterval() != DefaultCleanupInterval || cfg.BulkMatchInterval() != DefaultMatchInterval {
			t.Fatalf("intervals = %s/%s", cfg.CleanupInterval(), cfg.BulkMatchInterval())
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
db:
  path: /var/lib/netpass/relay.db
locations: 5
retention_days: 7
cleanup_interval: 5s
bulk_match_interval: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.DB.Path != "/var/lib/netpass/relay.db" || cfg.Locations != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Retention() != 7*24*time.Hour {
		t.Fatalf("retention = %s", cfg.Retention())
	}
	if cfg.CleanupInterval() != 5*time.Second || cfg.BulkMatchInterval() != 30*time.Minute {
		t.Fatalf("intervals = %s/%s", cfg.CleanupInterval(), cfg.BulkMatchInterval())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "locations: 10\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Locations != 10 {
		t.Fatalf("locations = %d", cfg.Locations)
	}
	if cfg.Addr() != "localhost:8080" || cfg.DB.Path != DefaultDBPath {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadIntervals(t *testing.T) {
	if _, err := Load(writeConfig(t, "cleanup_interval: soon\n")); err == nil {
		t.Fatal("expected error for unparseable interval")
	}
	if _, err := Load(writeConfig(t, "bulk_match_interval: -1h\n")); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "locations: [\n")); err == nil {
		t.Fatal("expected parse error")
	}
}
