// Package cmd defines the CLI commands for the watercrawl-mcp executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/watercrawl/watercrawl-mcp/internal/config"
	"github.com/watercrawl/watercrawl-mcp/internal/server"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "1.0.0"

const closeTimeout = 10 * time.Second

// App is what the commands need from the application. Tests swap in a fake
// through newApp.
type App interface {
	RunStdio(ctx context.Context) error
	RunHTTP(ctx context.Context) error
	Close(ctx context.Context) error
}

type configKey struct{}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	app, err := server.Build(ctx, cfg, Version)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates the root command. Without a subcommand it serves stdio.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "watercrawl-mcp",
		Short: "MCP server exposing WaterCrawl crawling, search and monitoring tools.",
		Long: `watercrawl-mcp lets MCP clients scrape pages, run searches, build sitemaps,
start and manage crawls, and follow crawl or search progress in real time
through the WaterCrawl API.

Run it over stdio for a single local client, or with the sse subcommand to
serve many clients over HTTP, each authenticating with its own API key.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadWithViper(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},

		RunE: runStdio,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("base-url", "", "WaterCrawl API base URL (env WATERCRAWL_BASE_URL)")
	flags.String("api-key", "", "WaterCrawl API key for stdio mode (env WATERCRAWL_API_KEY)")
	mustBind(v, "api.base_url", flags.Lookup("base-url"))
	mustBind(v, "api.api_key", flags.Lookup("api-key"))

	cmd.AddCommand(newStdioCmd(), newSSECmd(v))
	return cmd
}

// withApp builds the application from the loaded config, runs fn and closes
// the application whatever fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) (err error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return errors.New("configuration not loaded")
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, app.Close(closeCtx))
	}()
	return fn(ctx, app)
}

func runStdio(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app App) error {
		return app.RunStdio(ctx)
	})
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "watercrawl-mcp:", err)
		os.Exit(1)
	}
}
