package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/radutopala/simsearch/internal/config"
	"github.com/radutopala/simsearch/internal/httpapi"
	"github.com/radutopala/simsearch/internal/logging"
	"github.com/radutopala/simsearch/internal/mcp"
	"github.com/radutopala/simsearch/internal/service"
)

const shutdownTimeout = 10 * time.Second

var (
	flagServeAddr      string
	flagServeTransport string
	flagServeCatalog   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search service",
	Long: `Load the embedding model, build the index from the catalog in the
background and serve queries. With --transport http the REST routes and the
MCP endpoint (/mcp) share one listener; with --transport stdio the MCP tools
are served on stdin/stdout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address for the http transport (overrides server.addr)")
	serveCmd.Flags().StringVar(&flagServeTransport, "transport", "", "http or stdio (overrides server.transport)")
	serveCmd.Flags().StringVar(&flagServeCatalog, "catalog-file", "", "Read the catalog from a JSON file instead of the data service")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(cfg.Logging)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start search service", "error", err)
		return err
	}
	svc.Start(ctx)

	mcpServer := mcp.NewSearchServer(cfg.Server.Name, cfg.Server.Version, svc, logger)

	switch cfg.Server.Transport {
	case "stdio":
		logger.Info("Serving MCP over stdio", "name", cfg.Server.Name, "version", cfg.Server.Version)
		err = mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
	default:
		handler := httpapi.NewHandler(svc, mcpServer.HTTPHandler(), logger)
		err = serveHTTP(ctx, cfg.Server.Addr, handler, logger)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := svc.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Search service shutdown incomplete", "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", "error", err)
		return err
	}
	logger.Info("Server finished")
	return nil
}

// loadServeConfig applies serve flags on top of the loaded configuration
func loadServeConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath, func(c *config.Config) {
		if flagServeAddr != "" {
			c.Server.Addr = flagServeAddr
		}
		if flagServeTransport != "" {
			c.Server.Transport = flagServeTransport
		}
		if flagServeCatalog != "" {
			c.Catalog.URL = ""
			c.Catalog.File = flagServeCatalog
		}
	})
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, nil
}

// serveHTTP runs handler on addr until ctx is cancelled, then drains connections
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Serving HTTP", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
