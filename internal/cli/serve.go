package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	flowmcp "github.com/ppiankov/flowgate/internal/mcp"
	"github.com/ppiankov/flowgate/internal/watch"
)

var (
	servePolicy string
	serveWatch  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy document (required)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Hot-reload the policy when the file changes")
	serveCmd.MarkFlagRequired("policy")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for agent host integration",
	Long: "Runs flowgate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: check, scenario, policy_validate, audit_verify.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	srv, err := flowmcp.New(flowmcp.Config{PolicyPath: servePolicy, Logger: logger})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if serveWatch {
		reloader, _, _, err := watch.NewReloader(servePolicy, srv.SetPolicy, logger)
		if err != nil {
			return fmt.Errorf("create reloader: %w", err)
		}
		go reloader.Run(ctx)
	}

	logger.Info("flowgate MCP server running on stdio", zap.String("policy", servePolicy))
	return srv.Run(ctx)
}
