package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/assistant-relay/backend/api/handlers"
	"github.com/assistant-relay/backend/internal/auth"
	"github.com/assistant-relay/backend/internal/config"
	"github.com/assistant-relay/backend/internal/db"
	"github.com/assistant-relay/backend/internal/engine"
	"github.com/assistant-relay/backend/internal/metrics"
	"github.com/assistant-relay/backend/internal/repository"
	"github.com/assistant-relay/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	bindFlag(v, cmd, "server.addr", "addr")

	return cmd
}

// assistantEngine is what the server needs from an engine: running turns
// and creating threads and assistants.
type assistantEngine interface {
	engine.Engine
	engine.Provisioner
}

// newEngine selects the OpenAI engine when an API key is configured and the
// local echo engine otherwise.
func newEngine(cfg config.OpenAIConfig, logger *slog.Logger) assistantEngine {
	if cfg.APIKey == "" {
		logger.Warn("no OpenAI API key configured, using the echo engine")
		return engine.NewEchoEngine(cfg.EchoDelay)
	}
	return engine.NewOpenAIEngine(engine.OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Instructions: cfg.Instructions,
		Logger:       logger,
	})
}

// openCatalog opens the catalog database, creating the sqlite directory if
// needed.
func openCatalog(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == db.DriverSQLite && cfg.DSN != ":memory:" {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	return db.InitDB(cfg.Driver, cfg.DSN)
}

// server bundles the components behind the HTTP router.
type server struct {
	router    *gin.Engine
	wsService *ws.Service
}

func newServer(cfg *config.Config, database *sql.DB, eng assistantEngine, logger *slog.Logger, m *metrics.Metrics) *server {
	threads := repository.NewThreadRepository(database, cfg.Database.Driver)
	assistants := repository.NewAssistantRepository(database, cfg.Database.Driver)

	if len(cfg.Server.AllowedOrigins) > 0 {
		ws.SetCheckOrigin(ws.AllowOrigins(cfg.Server.AllowedOrigins))
	}

	wsService := ws.NewService(ws.ServiceConfig{
		Engine:     eng,
		Auth:       auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		Catalog:    repository.NewCatalog(threads, assistants),
		QueueSize:  cfg.WS.QueueSize,
		SendBuffer: cfg.WS.SendBuffer,
		Logger:     logger,
		Metrics:    m,
	})

	catalogHandler := handlers.NewCatalogHandler(threads, assistants, eng, engine.AssistantSpec{
		Name:         "Assistant",
		Instructions: cfg.OpenAI.Instructions,
	}, logger)
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"engine": eng.Name(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		catalogHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	return &server{router: r, wsService: wsService}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	database, err := openCatalog(cfg.Database)
	if err != nil {
		return err
	}
	defer db.CloseDB()

	eng := newEngine(cfg.OpenAI, logger)
	srv := newServer(cfg, database, eng, logger, metrics.New())

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "engine", eng.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	srv.wsService.Close()
	return err
}

// requestLogger logs each HTTP request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
