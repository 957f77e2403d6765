package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/pulse/internal/api"
	"github.com/btouchard/pulse/internal/auth"
	"github.com/btouchard/pulse/internal/config"
	pulsemcp "github.com/btouchard/pulse/internal/mcp"
	"github.com/btouchard/pulse/internal/metrics"
	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/realtime"
	"github.com/btouchard/pulse/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("pulse %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "useradd":
		cmdUserAdd(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: pulse <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Pulse server\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  useradd   Create a user account\n")
	fmt.Fprintf(os.Stderr, "  token     Issue an access token for a user\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting pulse",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func cmdUserAdd(args []string) {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "password (at least 8 characters)")
	role := fs.String("role", "sales", "role slug: admin, manager or sales")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *name == "" || *email == "" || len(*password) < 8 {
		fmt.Fprintln(os.Stderr, "useradd: -name, -email and a -password of at least 8 characters are required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteStore(config.ExpandHome(cfg.Database.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	r, err := db.GetRoleBySlug(*role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "role %q: %v\n", *role, err)
		os.Exit(1)
	}
	hash, err := auth.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashing password: %v\n", err)
		os.Exit(1)
	}

	u := &store.UserRecord{
		Name:         *name,
		Email:        *email,
		PasswordHash: hash,
		RoleID:       r.ID,
		Active:       true,
	}
	if err := db.CreateUser(u); err != nil {
		fmt.Fprintf(os.Stderr, "creating user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created user #%d %s <%s> (%s)\n", u.ID, u.Name, u.Email, r.Slug)
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	email := fs.String("email", "", "email of the user to issue a token for")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *email == "" {
		fmt.Fprintln(os.Stderr, "token: -email is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteStore(config.ExpandHome(cfg.Database.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	u, err := db.GetUserByEmail(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "user %q: %v\n", *email, err)
		os.Exit(1)
	}
	r, err := db.GetRole(u.RoleID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "role of %q: %v\n", *email, err)
		os.Exit(1)
	}

	tok, exp, err := tokens.Issue(u.ID, u.Email, r.Slug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format(time.RFC3339))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func newTokenIssuer(cfg *config.Config) (*auth.TokenIssuer, error) {
	secret, err := auth.SigningSecret(cfg.Auth.JWTSecret, config.ExpandHome(cfg.Auth.SecretDir))
	if err != nil {
		return nil, fmt.Errorf("loading signing secret: %w", err)
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.Auth.JWTAlgorithm, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	return tokens, nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	dbPath := config.ExpandHome(cfg.Database.Path)
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", dbPath)

	// --- Auth ---
	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		return err
	}
	resolver := auth.NewResolver(tokens, db)

	// --- Realtime ---
	var (
		observer    realtime.Observer
		metricsHTTP http.Handler
	)
	if cfg.Metrics.Enabled {
		m := metrics.New()
		observer = m
		metricsHTTP = m.Handler()
	}

	registry := realtime.NewRegistry(realtime.WithObserver(observer))

	dispatcher := realtime.NewDispatcher(registry, observer)
	wsHandler := realtime.NewHandler(registry, resolver, realtime.HandlerConfig{
		AllowedOrigins:    cfg.Realtime.AllowedOrigins,
		WriteTimeout:      cfg.Realtime.WriteTimeout,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		MaxMessageSize:    cfg.Realtime.MaxMessageSize,
		RejectCloseCode:   cfg.Realtime.RejectCloseCode,
	}, observer)

	// --- Notifications ---
	hub := notify.NewHub(
		notify.NewStoreNotifier(db),
		notify.NewRealtimeNotifier(dispatcher),
	)

	// --- MCP Server ---
	var mcpHTTP http.Handler
	if cfg.MCP.Enabled {
		mcpServer := pulsemcp.NewServer(&pulsemcp.Deps{
			Presence:  registry,
			Notifier:  hub,
			Directory: db,
			Version:   version,
		})
		hub.Add(notify.NewMCPNotifier(mcpServer, 0))
		mcpHTTP = server.NewStreamableHTTPServer(mcpServer)
	}

	// --- HTTP Router ---
	router := api.NewRouter(api.NewHandler(db, tokens, hub, registry), api.RouterOptions{
		Authenticator: resolver,
		RateLimit:     cfg.RateLimit,
		Realtime:      wsHandler,
		Metrics:       metricsHTTP,
		MCP:           mcpHTTP,
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pulse is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by the http.Server.
	for _, c := range registry.All() {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	return srv.Shutdown(shutdownCtx)
}
