package profile

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Defaults applied by Normalize. The control (RCON) and query ports are
// fixed so the reverse proxy and probes always know where to reach the
// server regardless of what a profile author typed in.
const (
	DefaultHost         = "127.0.0.1"
	DefaultRunScript    = "run.sh"
	DefaultRconPort     = 27001
	DefaultQueryPort    = 27002
	DefaultIdleLimit    = 30 * time.Minute
	DefaultPollInterval = 60 * time.Second
)

// Profile describes a single managed game server installation.
type Profile struct {
	Name          string        `json:"name"`
	Root          string        `json:"root"`           // absolute server directory
	RunScript     string        `json:"run_script"`     // launch script relative to Root
	Host          string        `json:"host"`           // always loopback in practice
	RconPort      int           `json:"rcon_port"`      // authenticated control channel
	QueryPort     int           `json:"query_port"`     // read-only status/player query
	RconPassword  string        `json:"rcon_password"`  // generated when absent
	IdleLimit     time.Duration `json:"idle_limit"`     // inactivity threshold
	PollInterval  time.Duration `json:"poll_interval"`  // activity poll cadence
	SuspendOnIdle bool          `json:"suspend_on_idle"`
	ExitOnIdle    bool          `json:"exit_on_idle"`
	Description   string        `json:"description"`
}

// Validate rejects profiles that cannot be supervised. Called at
// construction and on registry load so bad records never reach the core.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.Root == "" {
		return fmt.Errorf("profile %q: server root is required", p.Name)
	}
	if !filepath.IsAbs(p.Root) {
		return fmt.Errorf("profile %q: server root must be an absolute path", p.Name)
	}
	if p.RconPort <= 0 || p.RconPort > 65535 {
		return fmt.Errorf("profile %q: invalid rcon port %d", p.Name, p.RconPort)
	}
	if p.QueryPort <= 0 || p.QueryPort > 65535 {
		return fmt.Errorf("profile %q: invalid query port %d", p.Name, p.QueryPort)
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("profile %q: poll interval must be positive", p.Name)
	}
	return nil
}

// Normalize fills defaults and reports whether anything changed. A missing
// control secret is generated here; the caller persists the profile when
// changed so the secret survives restarts.
func (p *Profile) Normalize() bool {
	changed := false
	if p.Host == "" {
		p.Host = DefaultHost
		changed = true
	}
	if p.RunScript == "" {
		p.RunScript = DefaultRunScript
		changed = true
	}
	if p.RconPort == 0 {
		p.RconPort = DefaultRconPort
		changed = true
	}
	if p.QueryPort == 0 {
		p.QueryPort = DefaultQueryPort
		changed = true
	}
	if p.IdleLimit == 0 {
		p.IdleLimit = DefaultIdleLimit
		changed = true
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
		changed = true
	}
	if p.RconPassword == "" {
		p.RconPassword = generateSecret()
		changed = true
	}
	return changed
}

// RunScriptPath returns the absolute launch script path.
func (p *Profile) RunScriptPath() string {
	return filepath.Join(p.Root, p.RunScript)
}

// PropertiesPath returns the server.properties file inside the profile root.
func (p *Profile) PropertiesPath() string {
	return filepath.Join(p.Root, "server.properties")
}

// RconAddr returns host:port for the control channel.
func (p *Profile) RconAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.RconPort)
}

// SyncServerProperties upserts the RCON/query settings the supervisor
// depends on, preserving every unrelated line in the file.
func (p *Profile) SyncServerProperties() error {
	return WriteProperties(p.PropertiesPath(), map[string]string{
		"enable-rcon":   "true",
		"rcon.port":     fmt.Sprintf("%d", p.RconPort),
		"rcon.password": p.RconPassword,
		"enable-query":  "true",
		"query.port":    fmt.Sprintf("%d", p.QueryPort),
		"server-ip":     p.Host,
	})
}

func generateSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken; an empty
		// secret would silently disable the control channel.
		panic(fmt.Sprintf("profile: cannot generate secret: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
