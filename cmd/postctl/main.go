// Package main implementa postctl, el CLI de operador del dispatcher,
// siguiendo la misma forma de cmd/hellojohn del profesor (spf13/cobra, un
// grupo de subcomandos por área, --out json|text), pero hablando
// directamente contra el store y el Dispatcher en vez de un Admin API HTTP
// remoto, ya que este servicio no expone ninguno.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/postdispatch/internal/authcore"
	"github.com/dropDatabas3/postdispatch/internal/config"
	"github.com/dropDatabas3/postdispatch/internal/dispatcher"
	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/leader"
	"github.com/dropDatabas3/postdispatch/internal/networkclient"
	"github.com/dropDatabas3/postdispatch/internal/oauthstate"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/rate"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type cliDeps struct {
	cfg   *config.Config
	store *store.Store
}

func (d *cliDeps) close() {
	if d.store != nil {
		d.store.Close()
	}
}

func connect(ctx context.Context, configPath string) (*cliDeps, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(ctx, cfg.Storage.DSN, store.PoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &cliDeps{cfg: cfg, store: st}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.LoadFromEnv()
		}
		return nil, err
	}
	return config.Load(path)
}

func printResult(out string, v any) {
	if out == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			fmt.Println(string(b))
			return
		}
	}
	fmt.Printf("%+v\n", v)
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		out        string
	)

	root := &cobra.Command{
		Use:   "postctl",
		Short: "CLI de operador para el dispatcher de posts programados",
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("POSTCTL_CONFIG", "configs/config.example.yaml"), "Path al YAML de config (env POSTCTL_CONFIG)")
	root.PersistentFlags().StringVar(&out, "out", envOr("POSTCTL_OUT", "text"), "Formato de salida: json|text")

	root.AddCommand(newTickCmd(&configPath, &out))
	root.AddCommand(newPostCmd(&configPath, &out))
	root.AddCommand(newSessionCmd(&configPath, &out))
	root.AddCommand(newAuditCmd(&configPath, &out))

	return root
}

// newTickCmd implementa "trigger an immediate tick" (DESIGN.md §cmd/postctl).
func newTickCmd(configPath, out *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Fuerza un barrido inmediato de posts vencidos, sin esperar TickInterval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			state := oauthstate.New()
			nonces := dpop.NewNonceStore()
			auth := authcore.New(deps.cfg, deps.store, state, nonces)

			limiter, err := rate.NewMulti(rate.Config{Backend: "memory"})
			if err != nil {
				return err
			}
			apiWindow, err := time.ParseDuration(deps.cfg.Rate.API.Window)
			if err != nil {
				apiWindow = 5 * time.Minute
			}
			gate := rate.NewGate(limiter)
			gate.Register("api", deps.cfg.Rate.API.Limit, apiWindow)
			nc := networkclient.New(deps.store, auth, gate, nonces, deps.cfg.Auth.APIBaseURL)
			posts := postservice.New(deps.store, nc)

			dispatcherCfg, err := buildDispatcherConfig(deps.cfg)
			if err != nil {
				return err
			}
			disp := dispatcher.New(dispatcherCfg, deps.store, posts, leader.Static{})
			disp.RunOnce(ctx)

			printResult(*out, map[string]string{"status": "tick dispatched"})
			return nil
		},
	}
}

func newPostCmd(configPath, out *string) *cobra.Command {
	postCmd := &cobra.Command{Use: "post", Short: "Operaciones sobre un ScheduledPost"}

	postCmd.AddCommand(&cobra.Command{
		Use:   "inspect <post-id>",
		Short: "Muestra el estado actual de un post programado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			p, err := deps.store.GetPost(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get post: %w", err)
			}
			printResult(*out, p)
			return nil
		},
	})

	postCmd.AddCommand(&cobra.Command{
		Use:   "cancel <post-id> <user-id>",
		Short: "Cancela un post PENDING en nombre de su dueño",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			if err := deps.store.CancelPost(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("cancel post: %w", err)
			}
			printResult(*out, map[string]string{"status": "cancelled", "post_id": args[0]})
			return nil
		},
	})

	postCmd.AddCommand(&cobra.Command{
		Use:   "failures <post-id>",
		Short: "Lista los FailureRecords acumulados de un post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			records, err := deps.store.ListFailureRecords(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list failure records: %w", err)
			}
			printResult(*out, records)
			return nil
		},
	})

	return postCmd
}

// newAuditCmd implementa una vía de operador para revisar el AuditLog de un
// usuario (login, logout, revocación de sesión, cancelación de post), hoy
// solo consultable contra la base.
func newAuditCmd(configPath, out *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <user-id>",
		Short: "Lista el AuditLog reciente de un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			entries, err := deps.store.ListAuditLog(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("list audit log: %w", err)
			}
			printResult(*out, entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Cantidad máxima de entradas a devolver")
	return cmd
}

func newSessionCmd(configPath, out *string) *cobra.Command {
	sessionCmd := &cobra.Command{Use: "session", Short: "Operaciones sobre sesiones OAuth/DPoP"}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoca una sesión activa, forzando re-login en el próximo uso",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := connect(ctx, *configPath)
			if err != nil {
				return err
			}
			defer deps.close()

			if err := deps.store.RevokeSession(ctx, args[0], "operator_revoke"); err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
			if err := deps.store.AppendAuditLog(ctx, "", "session_revoked_by_operator", args[0], "postctl"); err != nil {
				fmt.Fprintf(os.Stderr, "warning: audit log append failed: %v\n", err)
			}
			printResult(*out, map[string]string{"status": "revoked", "session_id": args[0]})
			return nil
		},
	})

	return sessionCmd
}

func buildDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	var tick, subPause, watchdog, healthEvery, shutdown time.Duration
	specs := []struct {
		raw string
		out *time.Duration
	}{
		{cfg.Dispatcher.TickInterval, &tick},
		{cfg.Dispatcher.SubBatchPause, &subPause},
		{cfg.Dispatcher.WatchdogTimeout, &watchdog},
		{cfg.Dispatcher.HealthCheckEvery, &healthEvery},
		{cfg.Server.ShutdownDeadline, &shutdown},
	}
	for _, s := range specs {
		d, err := time.ParseDuration(s.raw)
		if err != nil {
			return dispatcher.Config{}, fmt.Errorf("parse duration %q: %w", s.raw, err)
		}
		*s.out = d
	}

	return dispatcher.Config{
		TickInterval:     tick,
		BatchSize:        cfg.Dispatcher.BatchSize,
		SubBatchSize:     cfg.Dispatcher.SubBatchSize,
		SubBatchPause:    subPause,
		WatchdogTimeout:  watchdog,
		HealthCheckEvery: healthEvery,
		MaintenanceAt:    cfg.Dispatcher.MaintenanceAt,
		RequireLeader:    false,
		ShutdownDeadline: shutdown,
	}, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
