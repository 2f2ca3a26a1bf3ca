package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve one MCP client over stdin/stdout",
		Long: `Serves a single MCP session over stdin and stdout. Every tool call uses
the configured API key, so --api-key or WATERCRAWL_API_KEY is required.`,
		Args: cobra.NoArgs,
		RunE: runStdio,
	}
}

func newSSECmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sse",
		Short: "Serve MCP over HTTP (SSE and streamable transports)",
		Long: `Serves MCP over HTTP. Each client authenticates with its own WaterCrawl
API key, sent as "Authorization: Bearer <key>" or the apikey query
parameter; a configured WATERCRAWL_API_KEY is ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app App) error {
				return app.RunHTTP(ctx)
			})
		},
	}
	cmd.Flags().Int("port", 3000, "HTTP listen port (env SSE_PORT)")
	cmd.Flags().String("endpoint", "/sse", "SSE endpoint path (env SSE_ENDPOINT)")
	mustBind(v, "server.port", cmd.Flags().Lookup("port"))
	mustBind(v, "server.endpoint", cmd.Flags().Lookup("endpoint"))
	return cmd
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}
