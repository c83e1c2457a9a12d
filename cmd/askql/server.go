package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/askql/internal/api"
	"github.com/kalambet/askql/internal/app"
	"github.com/kalambet/askql/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the askql server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		skipCheck, _ := cmd.Flags().GetBool("skip-check")
		return runServer(withMCP, skipCheck)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askql system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	serveCmd.Flags().Bool("skip-check", false, "skip the embedding service readiness check")
}

func runServer(withMCP, skipCheck bool) error {
	fmt.Fprintf(os.Stderr, "askql version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := setupLogging(cfg)

	if cfg.Server.APIToken == "" {
		printWarning("ASKQL_SERVER_API_TOKEN is not set; management routes are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}()

	if !skipCheck {
		if err := a.EnsureReady(ctx, os.Stderr); err != nil {
			return err
		}
	}

	deps := api.Deps{
		Trainer:   a.Trainer,
		Store:     a.Store,
		Generator: a.Service,
		Token:     cfg.Server.APIToken,
		Logger:    logger,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "askql listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/tags")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s (dimension %d)", cfg.Ollama.EmbedModel, cfg.Embedding.Dimension)
	printStatus("Chat", "%s / %s", cfg.Chat.Provider, cfg.Chat.Model)
	printStatus("Backend", "%s", cfg.Store.Backend)
	if cfg.Store.Backend == config.BackendSQLite {
		printStatus("Data dir", "%s", cfg.Store.DataDir)
	}
	if cfg.SQL.DatabaseURL != "" {
		printStatus("SQL execution", "enabled")
	} else {
		printStatus("SQL execution", "disabled")
	}

	if resp != nil && resp.StatusCode == http.StatusOK {
		c, err := newAPIClient()
		if err == nil {
			if rows, err := listTrainingData(context.Background(), c); err == nil {
				printStatus("Training data", "%s", trainingSummary(countByCorpus(rows)))
			}
		}
	}
	return nil
}
