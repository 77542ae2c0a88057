package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/checkin/internal/apiclient"
	"github.com/pavelanni/checkin/internal/handler"
	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/metrics"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/store"
	"github.com/pavelanni/checkin/internal/validation"
)

const defaultAPIURL = "http://localhost:5000"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "checkin",
		Short:        "Client for the wellbeing check-in service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, loginCmd(), logoutCmd(), resultsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `checkin --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags are shared by every command.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "checkin.db", "SQLite database path")
	f.String("api-url", "", "Check-in API base URL (default "+defaultAPIURL+", or the last one used)")
	f.StringP("lang", "l", "en", "Language for labels and messages (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.Bool("admin-acts-as-clinician", true, "Let admins open clinician views")
}

func scoringFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("offset", 10, "Offset subtracted from each session total")
	f.StringSlice("offsets", nil, "Per-questionnaire offsets as id=N (repeatable)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web client",
		RunE:  runServe,
	}
	commonFlags(cmd)
	scoringFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /checkin)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("cleanup-interval", time.Hour, "How often expired sign-ins are purged")
	return cmd
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session for other commands",
		RunE:  runLogin,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("email", "", "Account email (required)")
	f.String("password", "", "Account password (or set CHECKIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the remembered session",
		RunE:  runLogout,
	}
	commonFlags(cmd)
	cmd.Flags().Bool("all", false, "Sign out on every device")
	return cmd
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print response tables and score series",
		RunE:  runResults,
	}
	commonFlags(cmd)
	scoringFlags(cmd)
	cmd.Flags().StringSliceP("client", "c", nil, "Client user id (repeatable; default: yourself)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a client's results as JSON",
		RunE:  runExport,
	}
	commonFlags(cmd)
	scoringFlags(cmd)
	f := cmd.Flags()
	f.StringP("client", "c", "", "Client user id (default: yourself)")
	f.StringP("output", "o", "-", "Output file path, s3://bucket/key, or - for stdout")
	f.String("s3-region", "us-east-1", "S3 region")
	f.String("s3-endpoint", "", "S3-compatible endpoint URL (e.g. MinIO)")
	f.String("s3-access-key", "", "S3 access key (default: AWS credential chain)")
	f.String("s3-secret-key", "", "S3 secret key")
	f.Bool("s3-path-style", false, "Use path-style S3 addressing")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CHECKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("checkin")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/checkin")
	v.AddConfigPath("/etc/checkin")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// parseOffsets reads "questionnaire=N" pairs.
func parseOffsets(pairs []string) (map[string]int, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		id, n, ok := strings.Cut(p, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("offset %q: want questionnaire=N", p)
		}
		off, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", p, err)
		}
		if off < 0 {
			return nil, fmt.Errorf("offset %q: must not be negative", p)
		}
		out[id] = off
	}
	return out, nil
}

// normalizeBasePath turns "checkin/" into "/checkin".
func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// clientConfig collects and validates the runtime settings of a command.
func clientConfig(v *viper.Viper, apiURL string) (model.ClientConfig, error) {
	offsets, err := parseOffsets(v.GetStringSlice("offsets"))
	if err != nil {
		return model.ClientConfig{}, err
	}
	cfg := model.ClientConfig{
		APIURL:               apiURL,
		Lang:                 strings.ToLower(v.GetString("lang")),
		BasePath:             normalizeBasePath(v.GetString("base-path")),
		SecureCookies:        v.GetBool("secure-cookies"),
		Offset:               v.GetInt("offset"),
		Offsets:              offsets,
		AdminActsAsClinician: v.GetBool("admin-acts-as-clinician"),
	}
	val := validation.New()
	if err := val.Struct(cfg); err != nil {
		if fields := val.FieldErrors(err); fields != nil {
			return cfg, fmt.Errorf("invalid configuration: %v", fields)
		}
		return cfg, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	apiURL := v.GetString("api-url")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	cfg, err := clientConfig(v, apiURL)
	if err != nil {
		return err
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	m := metrics.New()
	api := apiclient.New(cfg.APIURL, apiclient.WithObserver(m))
	h, err := handler.New(db, api, m, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

	basePath := cfg.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go cleanupLoop(ctx, db, v.GetDuration("cleanup-interval"))

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"api_url", cfg.APIURL,
		"lang", cfg.Lang,
		"base_path", basePath,
		"offset", cfg.Offset,
		"admin_acts_as_clinician", cfg.AdminActsAsClinician,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cleanupLoop purges expired sign-ins until ctx is done.
func cleanupLoop(ctx context.Context, db *store.Store, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := db.CleanupExpired(); err != nil {
			slog.Warn("cleanup expired identities", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
