// Package config loads the daemon's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cubic-control/cubicd/internal/logger"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	DataDir  string         `toml:"data_dir" mapstructure:"data_dir"`
	APIAddr  string         `toml:"api_addr" mapstructure:"api_addr"`
	Domain   string         `toml:"domain" mapstructure:"domain"`
	LockFile string         `toml:"lock_file" mapstructure:"lock_file"`
	LockPort int            `toml:"lock_port" mapstructure:"lock_port"`
	Log      *logger.Config `toml:"log" mapstructure:"log"`
	Store    StoreConfig    `toml:"store" mapstructure:"store"`
	Caddy    SidecarConfig  `toml:"caddy" mapstructure:"caddy"`
	Playit   SidecarConfig  `toml:"playit" mapstructure:"playit"`
	Metrics  bool           `toml:"metrics" mapstructure:"metrics"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type SidecarConfig struct {
	Enabled      bool          `toml:"enabled" mapstructure:"enabled"`
	CheckUpdate  bool          `toml:"check_update" mapstructure:"check_update"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

// Defaults applied when the file omits a key.
const (
	DefaultAPIAddr  = "127.0.0.1:38000"
	DefaultLockPort = 38999
)

// Load reads the TOML config at path and fills in defaults. A missing file
// is not an error; the defaults describe a fully working local setup.
func Load(path string) (*FileConfig, error) {
	fc := &FileConfig{
		APIAddr:  DefaultAPIAddr,
		LockPort: DefaultLockPort,
		Metrics:  true,
		Caddy:    SidecarConfig{Enabled: true, ProbeTimeout: 10 * time.Second},
		Playit:   SidecarConfig{ProbeTimeout: 10 * time.Second},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v := viper.New()
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := v.Unmarshal(fc); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if fc.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		fc.DataDir = filepath.Join(home, ".cubicd")
	}
	if fc.LockFile == "" {
		fc.LockFile = filepath.Join(fc.DataDir, "cubicd.lock")
	}
	if fc.Store.DSN == "" {
		fc.Store.DSN = filepath.Join(fc.DataDir, "events.db")
	}
	if fc.Log == nil {
		fc.Log = &logger.Config{}
	}
	if fc.Log.Dir == "" {
		fc.Log.Dir = filepath.Join(fc.DataDir, "logs")
	}
	return fc, nil
}

// RegistryPath is where the profile registry lives under the data dir.
func (fc *FileConfig) RegistryPath() string {
	return filepath.Join(fc.DataDir, "profiles.json")
}
