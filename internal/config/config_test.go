package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	fc, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if fc.APIAddr != DefaultAPIAddr {
		t.Fatalf("api_addr default: %q", fc.APIAddr)
	}
	if fc.LockPort != DefaultLockPort {
		t.Fatalf("lock_port default: %d", fc.LockPort)
	}
	if fc.DataDir == "" || fc.LockFile == "" || fc.Store.DSN == "" {
		t.Fatalf("paths not defaulted: %+v", fc)
	}
	if !fc.Caddy.Enabled || fc.Playit.Enabled {
		t.Fatalf("sidecar defaults: caddy on, playit off, got %+v %+v", fc.Caddy, fc.Playit)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cubicd.toml")
	content := `
data_dir = "` + dir + `"
api_addr = "127.0.0.1:39000"
domain = "play.example.com"
lock_port = 40000

[store]
dsn = "postgres://cubic@localhost/cubicd"

[caddy]
enabled = true
check_update = true
probe_timeout = "20s"

[playit]
enabled = true

[log]
level = "debug"
dir = "` + filepath.Join(dir, "logs") + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	fc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if fc.APIAddr != "127.0.0.1:39000" || fc.LockPort != 40000 {
		t.Fatalf("overrides lost: %+v", fc)
	}
	if fc.Domain != "play.example.com" {
		t.Fatalf("domain: %q", fc.Domain)
	}
	if fc.Store.DSN != "postgres://cubic@localhost/cubicd" {
		t.Fatalf("store dsn: %q", fc.Store.DSN)
	}
	if !fc.Caddy.CheckUpdate || fc.Caddy.ProbeTimeout != 20*time.Second {
		t.Fatalf("caddy config: %+v", fc.Caddy)
	}
	if !fc.Playit.Enabled {
		t.Fatal("playit must be enabled")
	}
	if fc.Log.Level != "debug" {
		t.Fatalf("log level: %q", fc.Log.Level)
	}
	if fc.RegistryPath() != filepath.Join(dir, "profiles.json") {
		t.Fatalf("registry path: %q", fc.RegistryPath())
	}
}
