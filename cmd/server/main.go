package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/goprov"
	"github.com/brunobiangulo/goprov/parser"
	"github.com/brunobiangulo/goprov/watch"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	watchDir := flag.String("watch", "", "Directory to watch for new documents")
	rps := flag.Float64("rate", 0, "Requests per second per client (0 disables limiting)")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// A missing .env is fine; real environment variables take precedence.
	_ = godotenv.Load()

	cfg := goprov.DefaultConfig()
	if *configPath != "" {
		loaded, err := goprov.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyEnv(&cfg)

	apiKey := os.Getenv("GOPROV_API_KEY")
	corsOrigins := os.Getenv("GOPROV_CORS_ORIGINS")
	if v := os.Getenv("GOPROV_RATE_LIMIT"); v != "" && *rps == 0 {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*rps = f
		}
	}

	engine, err := goprov.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	var limiter *clientLimiter
	if *rps > 0 {
		limiter = newClientLimiter(*rps, int(*rps)*2)
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newServer(newHandler(engine), apiKey, corsOrigins, limiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest can be long
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watchDir != "" {
		if err := startWatcher(ctx, engine, *watchDir); err != nil {
			slog.Error("starting watcher", "dir", *watchDir, "error", err)
			os.Exit(1)
		}
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newServer wraps the routes in the middleware chain:
// recovery -> cors -> auth -> rate limit -> logging -> mux
func newServer(h *handler, apiKey, corsOrigins string, limiter *clientLimiter) http.Handler {
	var handler http.Handler = h.routes()
	handler = logMiddleware(handler)
	handler = rateLimitMiddleware(limiter, handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// applyEnv overrides config fields from GOPROV_* environment variables.
func applyEnv(cfg *goprov.Config) {
	if v := os.Getenv("GOPROV_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GOPROV_DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("GOPROV_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	for name, dst := range map[string]*int{
		"GOPROV_MAX_CHUNK_TOKENS":      &cfg.MaxChunkTokens,
		"GOPROV_CONCURRENCY":           &cfg.Concurrency,
		"GOPROV_MAX_SENTENCE_DISTANCE": &cfg.Resolution.MaxSentenceDistance,
		"GOPROV_WINDOW_SIZE":           &cfg.Resolution.WindowSize,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid env override", "var", name, "value", v)
			continue
		}
		*dst = n
	}
}

// startWatcher ingests existing files of dir, then keeps watching it in
// the background until ctx is done.
func startWatcher(ctx context.Context, engine goprov.Engine, dir string) error {
	w, err := watch.New(parser.NewRegistry().Formats(), func(ctx context.Context, path string) error {
		_, err := engine.Ingest(ctx, path)
		return err
	})
	if err != nil {
		return err
	}
	n, err := w.Scan(ctx, dir)
	if err != nil {
		w.Close()
		return err
	}
	slog.Info("watch: initial scan complete", "dir", dir, "ingested", n)

	go func() {
		defer w.Close()
		if err := w.Run(ctx, dir); err != nil && ctx.Err() == nil {
			slog.Error("watch: stopped", "error", err)
		}
	}()
	return nil
}
