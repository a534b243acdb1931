package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CaddyService defines the TLS-terminating reverse proxy in front of the
// local control API. upstream is the loopback address Caddy proxies to;
// during warm-up that upstream is not listening yet, so connection errors
// naming it are expected and must not fail the startup probe.
func CaddyService(upstream string) Service {
	return Service{
		Name:        "caddy",
		BinaryName:  "caddy",
		ReleasesURL: "https://api.github.com/repos/caddyserver/caddy/releases/latest",
		Args: func(dataDir string) []string {
			return []string{"run", "--config", filepath.Join(dataDir, "Caddyfile"), "--adapter", "caddyfile"}
		},
		FailureMarkers: []string{"error", "failed", "panic"},
		WarmupError: func(line string) bool {
			if !strings.Contains(line, upstream) {
				return false
			}
			return strings.Contains(line, "connection refused") ||
				strings.Contains(line, "dial tcp")
		},
	}
}

// EnsureCaddyfile writes a minimal reverse-proxy config if none exists.
// An operator-edited Caddyfile is never touched.
func EnsureCaddyfile(dataDir, domain, upstream string) error {
	path := filepath.Join(dataDir, "Caddyfile")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content := fmt.Sprintf("%s {\n\treverse_proxy %s\n}\n", domain, upstream)
	return os.WriteFile(path, []byte(content), 0o600)
}
