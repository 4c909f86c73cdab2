package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mcpTransport string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the ops MCP server with read-only CRM tools",
	Long:  `Start a Model Context Protocol server exposing read-only platform tools (conversation lookup, queue stats, business hours, daily reports) so AI agents can query the CRM through a standardized protocol.`,
	Run:   runMcp,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "MCP transport: stdio or sse")
}

func runMcp(_ *cobra.Command, _ []string) {
	mcpServer := server.NewMCPServer(
		"CRM Ops MCP Server",
		cfg.App.Version,
		server.WithToolCapabilities(true),
	)

	queryHandler := mcp.InitMcpQuery(convRepo, queueRepo, advisorRepo, reportUC)
	queryHandler.AddQueryTools(mcpServer)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[MCP] Termination signal received, shutting down...")
		StopApp()
		os.Exit(0)
	}()

	if mcpTransport == "sse" {
		addr := fmt.Sprintf("%s:%s", cfg.MCP.Host, cfg.MCP.Port)
		sseServer := server.NewSSEServer(
			mcpServer,
			server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
			server.WithKeepAlive(true),
		)
		logrus.Infof("[MCP] SSE server on %s", addr)
		if err := sseServer.Start(addr); err != nil {
			logrus.Fatalf("[MCP] Failed to start SSE server: %v", err)
		}
		return
	}

	if err := server.ServeStdio(mcpServer); err != nil {
		logrus.Fatalf("[MCP] Stdio server stopped: %v", err)
	}
}
