package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lounged/internal/app"
	"lounged/internal/config"
	"lounged/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "lounged",
		Short:         "Image generation queue and model readiness service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := config.Default()
	pf := root.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.String("addr", def.Addr, "HTTP listen address")
	pf.String("data-dir", def.DataDir, "Directory for state files and generated images")
	pf.String("registry", "", "Model registry file; empty uses the built-in models")
	pf.String("log-level", def.LogLevel, "Log level: debug|info|warn|error")
	pf.String("log-format", def.LogFormat, "Log format: json|console")
	pf.String("token", "", "Provider access token (also HUGGINGFACE_TOKEN)")
	pf.Int64("max-body-bytes", def.MaxBodyBytes, "Maximum JSON request body size")
	pf.Int("max-pending", 0, "Maximum pending requests (0 uses the default)")
	pf.Bool("cors", false, "Enable CORS for browser clients")
	pf.StringSlice("cors-origins", nil, "Allowed CORS origins")
	pf.Bool("no-prober", false, "Disable the periodic readiness prober")

	resolve := func(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
		cfg, err := config.Resolve(cfgPath, cmd.Flags())
		if err != nil {
			return cfg, zerolog.Nop(), err
		}
		return cfg, newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()), nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue and prober",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := resolve(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check <model>",
		Short: "Probe one model's readiness and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, resolve, func(ctx context.Context, a *app.App) (any, error) {
				return a.CheckStatus(ctx, args[0], "")
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "warmup <model>",
		Short: "Send one warm-up call and print the resulting status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, resolve, func(ctx context.Context, a *app.App) (any, error) {
				return a.Warmup(ctx, args[0], "")
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "Print the model registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolve(cmd)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.RegistryPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reg.Models())
		},
	})
	return root
}

type resolveFunc func(*cobra.Command) (config.Config, zerolog.Logger, error)

// oneShot builds the service without starting its loops, runs fn and prints
// the result.
func oneShot(cmd *cobra.Command, resolve resolveFunc, fn func(context.Context, *app.App) (any, error)) error {
	cfg, log, err := resolve(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Provider.Timeout.Std()+10*time.Second)
	defer cancel()
	a, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		return err
	}
	defer a.Stop()
	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger builds the root logger; unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
