package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rosterline/internal/app"
	"rosterline/internal/config"
	"rosterline/internal/domain"
	"rosterline/internal/lifecycle"
	"rosterline/internal/logging"
	"rosterline/internal/progress"
	"rosterline/internal/server"
	"rosterline/internal/timeouts"
	rosterlinesdk "rosterline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "rosterline",
	Short: "Rosterline onboarding CLI",
	Long: `Rosterline walks a restaurant through its setup flows.
- Flows: venue, staff and phase setup, each an ordered list of steps from rosterline.yml.
- Sessions: one run through a flow. Only one can be in progress per user; finish or cancel it before starting another.
- Steps: completed strictly in order. The server owns progress; the CLI only shows it.
- Events: every start, step and cancel is logged; view with 'rosterline log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		if hint := errorHint(err); hint != "" {
			fmt.Println(hint)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROSTERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "API server URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token (see 'rosterline flow login')")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	for _, name := range []string{"workspace", "json", "server", "token", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the flow catalog",
		Long:  "The catalog (rosterline.yml in the workspace) lists the flows the server can start and their steps. Without the file the built-in catalog is used.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default rosterline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the loaded catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			renderCatalog(os.Stdout, cfg)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate rosterline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func flowCmd() *cobra.Command {
	flow := &cobra.Command{
		Use:   "flow",
		Short: "Work through onboarding flows",
	}
	flow.AddCommand(flowLoginCmd())
	flow.AddCommand(flowListCmd())
	flow.AddCommand(flowStartCmd())
	flow.AddCommand(flowResumeCmd())
	flow.AddCommand(flowShowCmd())
	flow.AddCommand(flowCompleteCmd())
	flow.AddCommand(flowCancelCmd())
	flow.AddCommand(flowHistoryCmd())
	return flow
}

func flowLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <actor-id>",
		Short: "DEV ONLY: get a token from the server's dev login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := newClient().DevLogin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			fmt.Fprintln(os.Stderr, "export ROSTERLINE_TOKEN=<token> to use it")
			return nil
		},
	}
}

func flowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List startable flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := newClient().Flows(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(flows)
			}
			renderFlows(os.Stdout, flows)
			return nil
		},
	}
}

func flowStartCmd() *cobra.Command {
	var contextRef string
	cmd := &cobra.Command{
		Use:   "start <type>",
		Short: "Start a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				flowType := domain.FlowType(strings.ToUpper(args[0]))
				s, err := ctl.StartFlow(cmd.Context(), flowType, contextRef)
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
	cmd.Flags().StringVar(&contextRef, "context-ref", "", "venue or phase the flow is about")
	return cmd
}

func flowResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Show the in-progress session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				s, err := ctl.ResumeActiveSession(cmd.Context())
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func flowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session's progress (default: the in-progress one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				var (
					s   *domain.OnboardingSession
					err error
				)
				if len(args) == 1 {
					s, err = ctl.GetSession(cmd.Context(), args[0])
				} else {
					s, err = ctl.ResumeActiveSession(cmd.Context())
				}
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func flowCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <session-id> <step-id>",
		Short: "Complete the current step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				s, err := ctl.CompleteStep(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func flowCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				if err := ctl.CancelSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"cancelled": args[0]})
				}
				fmt.Println("cancelled", args[0])
				return nil
			})
		},
	}
}

func flowHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your sessions and completed flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *lifecycle.Controller) error {
				items, err := ctl.ListUserSessions(cmd.Context())
				if err != nil {
					return err
				}
				completed := lifecycle.CompletedTypes(items)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"sessions": items, "completed_flows": completed})
				}
				renderHistory(os.Stdout, items, completed)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Session event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Show a session's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := newClient().Events(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			renderEvents(os.Stdout, events)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if env.JWTSecret == "" {
				return fmt.Errorf("ROSTERLINE_JWT_SECRET is required for bearer auth")
			}
			logger, err := logging.New(env.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ws, err := app.OpenWorkspace(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()
			handler, err := server.New(server.Config{
				Engine:   ws.Engine(logger),
				BasePath: env.BasePath,
				Auth:     server.AuthConfig{JWTSecret: env.JWTSecret, Logger: logger},
				Logger:   logger,
				DevLogin: env.DevLogin,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: env.Addr, Handler: handler, ReadHeaderTimeout: timeouts.ReadHeader}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info("serving rosterline api",
					zap.String("addr", env.Addr),
					zap.String("base_path", env.BasePath),
					zap.Bool("dev_login", env.DevLogin))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides ROSTERLINE_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides ROSTERLINE_BASE_PATH)")
	return cmd
}

// --- helpers ---

func newClient() *rosterlinesdk.Client {
	c := rosterlinesdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	return c
}

func withController(fn func(*lifecycle.Controller) error) error {
	logger, err := logging.New(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	return fn(lifecycle.ForClient(newClient(), logger))
}

func printSession(s *domain.OnboardingSession) error {
	route := lifecycle.RouteFor(s)
	if viper.GetBool("json") {
		out := map[string]any{"route": route}
		if s != nil {
			out["session"] = s
			out["progress"] = progress.Calculate(*s)
		}
		return printJSON(out)
	}
	if s == nil {
		fmt.Println("No onboarding session. Pick a flow with 'rosterline flow list' and 'rosterline flow start <type>'.")
		return nil
	}
	renderSession(os.Stdout, *s)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errorHint(err error) string {
	var lerr *lifecycle.Error
	switch {
	case errors.Is(err, lifecycle.ErrActiveSessionConflict):
		if errors.As(err, &lerr) && lerr.SessionID != "" {
			return fmt.Sprintf("Resume it with 'rosterline flow show %s' or cancel it with 'rosterline flow cancel %s'.", lerr.SessionID, lerr.SessionID)
		}
		return "Resume it with 'rosterline flow resume' or cancel it first."
	case errors.Is(err, lifecycle.ErrUnauthenticated):
		return "Set ROSTERLINE_TOKEN or pass --token."
	case errors.As(err, &lerr) && lerr.UnknownOutcome:
		return "The request may have gone through; check with 'rosterline flow resume' before retrying."
	}
	return ""
}
