package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/inventory-tracker/internal/inventory"
	"github.com/zombor/inventory-tracker/internal/parsing"
	"github.com/zombor/inventory-tracker/internal/recognition"
	"github.com/zombor/inventory-tracker/internal/scan"
	"github.com/zombor/inventory-tracker/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// backend stores items and owner plans
type backend interface {
	inventory.Store
	inventory.PlanStore
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	flags := ff.NewFlagSet("inventory-tracker")
	var (
		port              = flags.IntLong("port", 8080, "HTTP server port")
		storeType         = flags.StringLong("store", "bolt", "Inventory store: 'bolt' or 'postgres'")
		dbPath            = flags.StringLong("db", "inventory-tracker.db", "Bolt database file path")
		databaseURL       = flags.StringLong("database-url", "", "Postgres DSN (or set DATABASE_URL env var)")
		storagePath       = flags.StringLong("storage", "./receipts", "Directory for archived receipt images")
		engine            = flags.StringLong("engine", recognition.EngineTesseract, "OCR engine: tesseract, vision, gemini, ollama or static")
		language          = flags.StringLong("language", "eng", "OCR language hint")
		enhance           = flags.BoolLong("enhance", "Grayscale, contrast and sharpen images before OCR")
		keywords          = flags.StringLong("keywords", "", "Extra comma-separated receipt lines to ignore, e.g. 'loyalty,coupon'")
		geminiKey         = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = flags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL         = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = flags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		staticText        = flags.StringLong("static-text", "", "Text returned by the static engine")
		scanRetention     = flags.DurationLong("scan-retention", scan.DefaultRetention, "How long finished scans stay readable")
		scanIdleTimeout   = flags.DurationLong("scan-idle-timeout", scan.DefaultIdleTimeout, "Drop unfinished scans untouched for this long")
		commitConcurrency = flags.IntLong("commit-concurrency", 1, "Items stored at once per commit")
		plans             = flags.StringLong("plans", "", "Owner plans to record at startup, e.g. 'alice=power,bob=professional'")
		authUser          = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion       = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("INVENTORY_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize inventory store
	slog.Info("Initializing inventory store...", "type", *storeType)
	store, err := openStore(*storeType, *dbPath, *databaseURL)
	if err != nil {
		slog.Error("Failed to initialize inventory store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := recordPlans(context.Background(), store, *plans); err != nil {
		slog.Error("Failed to record plans", "error", err)
		os.Exit(1)
	}

	// Initialize OCR engine factory; engines are created per scan
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	slog.Info("Initializing OCR engine...", "engine", *engine, "language", *language)
	factory, err := recognition.NewFactory(recognition.Config{
		Engine:      *engine,
		GeminiKey:   apiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		StaticText:  *staticText,
	})
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := scan.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	var parserOpts []parsing.Option
	if extra := splitList(*keywords); len(extra) > 0 {
		parserOpts = append(parserOpts, parsing.WithExtraKeywords(extra...))
	}

	quota := inventory.NewPlanQuota(store, store)
	committer := inventory.NewCommitter(store, quota, inventory.WithConcurrency(*commitConcurrency))
	scans := scan.NewManager(factory, parsing.New(parserOpts...), committer, storage, scan.Options{
		Language:    *language,
		Enhance:     *enhance,
		Retention:   *scanRetention,
		IdleTimeout: *scanIdleTimeout,
	})

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(scans, store, committer, quota, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
}

// openStore opens the configured inventory backend
func openStore(storeType, dbPath, databaseURL string) (backend, error) {
	switch storeType {
	case "bolt":
		return inventory.NewBoltStore(dbPath)
	case "postgres":
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			return nil, errors.New("postgres store requires --database-url or DATABASE_URL")
		}
		return inventory.NewGormStore(databaseURL)
	default:
		return nil, fmt.Errorf("invalid store type %q: valid types are bolt or postgres", storeType)
	}
}

// recordPlans parses "owner=plan" pairs and stores them
func recordPlans(ctx context.Context, plans inventory.PlanStore, assignments string) error {
	for _, pair := range splitList(assignments) {
		owner, name, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid plan assignment %q: want owner=plan", pair)
		}
		plan, err := inventory.ParsePlan(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		if err := plans.SetPlan(ctx, strings.TrimSpace(owner), plan); err != nil {
			return fmt.Errorf("setting plan for %s: %w", owner, err)
		}
		slog.Info("Recorded plan", "owner", owner, "plan", plan)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
