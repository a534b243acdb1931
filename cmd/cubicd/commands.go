package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubic-control/cubicd"
	"github.com/cubic-control/cubicd/internal/config"
	"github.com/cubic-control/cubicd/internal/guard"
	"github.com/cubic-control/cubicd/internal/poll"
	"github.com/cubic-control/cubicd/internal/profile"
)

type globalFlags struct {
	ConfigPath string
	APIUrl     string
}

func buildRoot() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "cubicd",
		Short:         "Single-host game server supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", defaultConfigPath(), "path to cubicd.toml")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api-url", "http://"+config.DefaultAPIAddr, "control API base URL for client commands")

	root.AddCommand(
		serveCmd(&gf),
		clientCmd(&gf, "status", "Show the server lifecycle state", http.MethodGet, "/status"),
		clientCmd(&gf, "start", "Start the game server", http.MethodPost, "/start"),
		clientCmd(&gf, "stop", "Gracefully stop the game server", http.MethodPost, "/stop"),
		clientCmd(&gf, "forcestop", "Kill the game server process tree", http.MethodPost, "/forcestop"),
		clientCmd(&gf, "restart", "Restart the game server", http.MethodPost, "/restart"),
		clientCmd(&gf, "players", "List online players", http.MethodGet, "/players"),
		profileCmd(&gf),
	)
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cubicd", "cubicd.toml")
}

func serveCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			app, err := cubicd.New(cfg)
			if err != nil {
				return err
			}

			if err := app.AcquireGuard(); err != nil {
				if errors.Is(err, guard.ErrAlreadyRunning) {
					_, _ = fmt.Fprintln(os.Stderr, "cubicd is already running")
					os.Exit(1)
				}
				return err
			}
			defer app.Shutdown("serve exit")
			go app.Coordinator.HandleSignals()

			if err := app.InitServices(cmd.Context()); err != nil {
				app.Log.Error("service startup failed", "err", err)
				app.Shutdown("startup failure")
				os.Exit(1)
			}

			srv := &http.Server{
				Addr:              cfg.APIAddr,
				Handler:           app.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go announceReady(app, cfg.APIAddr)

			app.Log.Info("control API listening", "addr", cfg.APIAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

// announceReady polls our own status route and logs once it answers, so
// the journal shows when the API became reachable through the proxy chain.
func announceReady(app *cubicd.App, addr string) {
	url := "http://" + addr + "/status"
	client := &http.Client{Timeout: 2 * time.Second}
	ok := poll.Until(context.Background(), 500*time.Millisecond, 20, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	})
	if ok {
		app.Log.Info("control API ready")
	}
}

// clientCmd builds a thin HTTP client command against a running daemon.
func clientCmd(gf *globalFlags, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), method, gf.APIUrl+path, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("is the daemon running? %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func profileCmd(gf *globalFlags) *cobra.Command {
	pc := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and select server profiles",
	}
	pc.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List profiles in the registry",
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, err := openRegistry(gf)
				if err != nil {
					return err
				}
				active := ""
				if p := reg.Active(); p != nil {
					active = p.Name
				}
				for _, name := range reg.Names() {
					marker := " "
					if name == active {
						marker = "*"
					}
					fmt.Printf("%s %s\n", marker, name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <name>",
			Short: "Mark a profile active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, err := openRegistry(gf)
				if err != nil {
					return err
				}
				return reg.SetActive(args[0])
			},
		},
	)
	return pc
}

func openRegistry(gf *globalFlags) (*profile.Registry, error) {
	cfg, err := config.Load(gf.ConfigPath)
	if err != nil {
		return nil, err
	}
	return profile.OpenRegistry(cfg.RegistryPath())
}
