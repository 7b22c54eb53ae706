package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/quizgen/internal/catalog"
	"github.com/pavelanni/quizgen/internal/feedback"
	"github.com/pavelanni/quizgen/internal/handler"
	appI18n "github.com/pavelanni/quizgen/internal/i18n"
	"github.com/pavelanni/quizgen/internal/llm"
	"github.com/pavelanni/quizgen/internal/llm/prompts"
	"github.com/pavelanni/quizgen/internal/model"
	"github.com/pavelanni/quizgen/internal/prefetch"
	"github.com/pavelanni/quizgen/internal/quiz"
	"github.com/pavelanni/quizgen/internal/retriever"
	"github.com/pavelanni/quizgen/internal/session"
	"github.com/pavelanni/quizgen/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizgen",
		Short: "Lecture quiz generator backed by vector search and LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), topicsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizgen --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "quizgen.db", "SQLite database path for results")
	f.StringP("topics", "t", "topics.csv", "Topic catalog file (.csv, .yaml, .xlsx)")
	f.String("openai-api-key", "", "OpenAI API key (or set OPENAI_API_KEY)")
	f.String("openai-url", "", "OpenAI-compatible API base URL (empty for api.openai.com)")
	f.String("chat-model", llm.DefaultChatModel, "Chat model for questions and feedback")
	f.String("embedding-model", llm.DefaultEmbeddingModel, "Embedding model used by the lecture index")
	f.Float32("temperature", llm.DefaultTemperature, "Sampling temperature for question generation")
	f.String("pinecone-api-key", "", "Pinecone API key (or set PINECONE_API_KEY)")
	f.String("pinecone-index", retriever.DefaultIndex, "Pinecone index holding the lecture material")
	f.String("pinecone-host", "", "Pinecone index host (resolved via describe_index when empty)")
	f.String("pinecone-namespace", "", "Pinecone namespace")
	f.Int("top-k", retriever.DefaultTopK, "Number of chunks retrieved per topic")
	f.String("redis-url", "redis://localhost:6379/0", "Session store URL (redis://, rediss://, memory://) (or set REDIS_URL)")
	f.Duration("session-ttl", session.DefaultTTL, "Idle lifetime of a quiz session")
	f.Int("prefetch-workers", prefetch.DefaultWorkers, "Concurrent background question jobs")
	f.Duration("prefetch-timeout", prefetch.DefaultJobTimeout, "Upper bound for one background question job")
	f.Int("max-results", store.DefaultMaxResultsPerSession, "Results kept per session (0 = unlimited)")
	f.StringP("lang", "l", "de", "UI and prompt language (de, en)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /quiz)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-token", "", "Bearer token enabling the /admin routes")
	f.Duration("shutdown-timeout", 15*time.Second, "Grace period for in-flight requests on shutdown")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded quiz results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "quizgen.db", "SQLite database path for results")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print the lectures and topics of a catalog file",
		RunE:  runTopics,
	}
	f := cmd.Flags()
	f.StringP("topics", "t", "topics.csv", "Topic catalog file (.csv, .yaml, .xlsx)")
	f.BoolP("verbose", "v", false, "List every topic")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("QUIZGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Conventional names used by the hosting environment.
	_ = v.BindEnv("openai-api-key", "QUIZGEN_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("pinecone-api-key", "QUIZGEN_PINECONE_API_KEY", "PINECONE_API_KEY")
	_ = v.BindEnv("redis-url", "QUIZGEN_REDIS_URL", "REDIS_URL")

	v.SetConfigName("quizgen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizgen")
	v.AddConfigPath("/etc/quizgen")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	openaiKey := v.GetString("openai-api-key")
	if openaiKey == "" {
		return errors.New("openai API key is required: set --openai-api-key or OPENAI_API_KEY")
	}
	pineconeKey := v.GetString("pinecone-api-key")
	if pineconeKey == "" {
		return errors.New("pinecone API key is required: set --pinecone-api-key or PINECONE_API_KEY")
	}

	lang := strings.ToLower(strings.TrimSpace(v.GetString("lang")))
	if !prompts.IsValidLanguage(lang) {
		return fmt.Errorf("unsupported language %q (want de or en)", lang)
	}
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxResultsPerSession(v.GetInt("max-results"))

	// Load the topic catalog.
	topicsPath := v.GetString("topics")
	cat, err := loadCatalog(db, topicsPath)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}

	// Create LLM client.
	llmClient, err := llm.New(llm.Config{
		BaseURL:        v.GetString("openai-url"),
		APIKey:         openaiKey,
		ChatModel:      v.GetString("chat-model"),
		EmbeddingModel: v.GetString("embedding-model"),
		Temperature:    float32(v.GetFloat64("temperature")),
		Language:       prompts.Language(lang),
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "model", v.GetString("chat-model"), "embedding_model", v.GetString("embedding-model"))

	// Connect the vector index.
	pc, err := retriever.NewPinecone(retriever.PineconeConfig{APIKey: pineconeKey})
	if err != nil {
		return fmt.Errorf("create Pinecone client: %w", err)
	}
	indexName := v.GetString("pinecone-index")
	host, err := retriever.ResolveHost(ctx, pc, indexName, v.GetString("pinecone-host"))
	if err != nil {
		return fmt.Errorf("resolve Pinecone index %q: %w", indexName, err)
	}
	ret, err := retriever.New(llmClient, pc, retriever.Config{
		Host:      host,
		Namespace: v.GetString("pinecone-namespace"),
		TopK:      v.GetInt("top-k"),
	})
	if err != nil {
		return fmt.Errorf("create retriever: %w", err)
	}

	gen, err := quiz.New(ret, llmClient)
	if err != nil {
		return fmt.Errorf("create question generator: %w", err)
	}

	// Open the session store.
	sessionTTL := v.GetDuration("session-ttl")
	sessions, err := session.Open(ctx, v.GetString("redis-url"), sessionTTL)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	quizCtl := prefetch.New(cat, gen, sessions, db, prefetch.Config{
		Workers:    v.GetInt("prefetch-workers"),
		JobTimeout: v.GetDuration("prefetch-timeout"),
	})
	defer quizCtl.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	quizCfg := model.QuizConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		SessionTTL:    sessionTTL,
		AdminToken:    v.GetString("admin-token"),
	}

	h, err := handler.New(handler.Deps{
		Catalog:  cat,
		Quiz:     quizCtl,
		Feedback: feedback.New(db, llmClient, prompts.Language(lang)),
		Store:    db,
		Sessions: sessions,
	}, quizCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

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

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"lectures", cat.Len(),
		"topics", cat.TopicCount(),
		"pinecone_index", indexName,
		"top_k", v.GetInt("top-k"),
		"prefetch_workers", v.GetInt("prefetch-workers"),
		"base_path", basePath,
		"admin", quizCfg.AdminToken != "",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportResults()
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported results", "sessions", export.NumSessions, "results", export.NumResults)
	return nil
}

func runTopics(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cat, err := catalog.LoadFile(v.GetString("topics"))
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	return printCatalog(cmd.OutOrStdout(), cat, v.GetBool("verbose"))
}

func printCatalog(out io.Writer, cat *catalog.Catalog, verbose bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LECTURE\tTOPICS")
	for _, l := range cat.Lectures() {
		topics, err := cat.Topics(l)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", l, len(topics))
		if verbose {
			for _, t := range topics {
				fmt.Fprintf(tw, "  - %s\t\n", t)
			}
		}
	}
	fmt.Fprintf(tw, "\t\n%d lectures\t%d topics\n", cat.Len(), cat.TopicCount())
	return tw.Flush()
}

// loadCatalog reads the topic file and records what was loaded, noting
// whether the file changed since the previous start.
func loadCatalog(db *store.Store, path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		slog.Warn("topic catalog is empty", "path", path)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(path)
	if err != nil {
		return nil, fmt.Errorf("check import status for %s: %w", path, err)
	}
	switch storedHash {
	case hash:
		slog.Info("topic catalog unchanged", "path", path)
	case "":
		slog.Info("topic catalog loaded for the first time", "path", path)
	default:
		slog.Info("topic catalog changed since last start", "path", path)
	}
	if err := db.SetImportedFileHash(path, hash); err != nil {
		return nil, fmt.Errorf("record import for %s: %w", path, err)
	}
	if err := db.SetCatalogInfo(store.CatalogInfo{
		Path:     path,
		Lectures: cat.Len(),
		Topics:   cat.TopicCount(),
		LoadedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("record catalog info: %w", err)
	}

	return cat, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
