package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examdb/internal/generator"
	"github.com/pavelanni/examdb/internal/handler"
	appI18n "github.com/pavelanni/examdb/internal/i18n"
	"github.com/pavelanni/examdb/internal/llm"
	"github.com/pavelanni/examdb/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examdb",
		Short:        "Course exam generation and storage",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, courseCmd(), examCmd(), generateCmd(), syllabusCmd(), statsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every command shares.
func commonFlags(f *pflag.FlagSet) {
	f.String("db", store.DefaultPath, "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// llmFlags registers the flags of commands that talk to the LLM.
func llmFlags(f *pflag.FlagSet) {
	f.String("llm-url", "https://api.deepseek.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set EXAMDB_LLM_KEY)")
	f.String("llm-model", "deepseek-chat", "LLM model name")
	f.Float32("llm-temperature", 0.7, "Sampling temperature")
	f.Int("llm-max-tokens", 4000, "Maximum tokens per completion")
	f.String("output-language", "", "Language of generated exams (default Simplified Chinese)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "zh", "Default language of API messages (en, zh)")
	f.String("admin-password", "", "Password for write routes, user admin (or set EXAMDB_ADMIN_PASSWORD)")
	commonFlags(f)
	llmFlags(f)
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

	v.SetEnvPrefix("EXAMDB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examdb")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examdb")
	v.AddConfigPath("/etc/examdb")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore sets up logging and opens the database named by --db.
func openStore(cmd *cobra.Command) (*store.Store, *viper.Viper, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, v, nil
}

// newGenerator builds a generator from the LLM flags. It returns nil when no
// API key is configured.
func newGenerator(ctx context.Context, v *viper.Viper, db *store.Store, ping bool) (*generator.Generator, error) {
	key := v.GetString("llm-key")
	if key == "" {
		return nil, nil
	}
	client := llm.New(llm.Config{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      key,
		Model:       v.GetString("llm-model"),
		Temperature: float32(v.GetFloat64("llm-temperature")),
		MaxTokens:   v.GetInt("llm-max-tokens"),
	})
	if ping {
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	return generator.New(client, db, v.GetString("output-language")), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := newGenerator(ctx, v, db, true)
	if err != nil {
		return err
	}
	if gen == nil {
		slog.Warn("no LLM key configured, exam generation disabled")
	}

	password := v.GetString("admin-password")
	if password == "" {
		slog.Warn("no admin password set, write routes are unauthenticated")
	}
	h, err := handler.New(db, gen, password)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db", v.GetString("db"),
			"lang", lang,
			"languages", appI18n.Languages(),
			"generation", gen != nil,
			"model", v.GetString("llm-model"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
