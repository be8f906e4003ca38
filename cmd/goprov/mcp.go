package main

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/goprov/tool"
)

// mcpCmd serves the resolution tools over stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve resolve_triples and segment_chunk as MCP tools over stdio",
	Long: `Mcp runs a Model Context Protocol server on stdin/stdout. Extraction
agents call resolve_triples with the chunks and triples they hold; nothing
is stored.

Logs go to stderr so they never mix with protocol messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		server := tool.NewServer(version, tool.Resolver{
			Options:     cfg.Resolution,
			Concurrency: cfg.Concurrency,
		})
		slog.Info("mcp: serving on stdio", "version", version)
		return server.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
