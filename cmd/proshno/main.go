// Package main is the proshno CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/proshno/internal/cli"
	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/eval"
	"github.com/hyperjump/proshno/internal/indexer"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/search"
	"github.com/hyperjump/proshno/internal/server"
	"github.com/hyperjump/proshno/internal/storage"
	"github.com/hyperjump/proshno/internal/vector"
	"github.com/hyperjump/proshno/internal/watcher"
	"github.com/hyperjump/proshno/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/proshno/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists; when neither exists, defaults resolved
// against the current directory are used and the returned path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		fallback := filepath.Join(cwd, "config.yaml")
		if _, statErr := os.Stat(fallback); statErr == nil {
			cfg, loadErr := config.Load(fallback)
			if loadErr != nil {
				return nil, "", loadErr
			}
			return cfg, fallback, nil
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(cwd), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "init":
		runInit()
	case "eval":
		runEval()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("proshno version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and creates the logger shared by every subcommand.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	}
	return cfg, logger, debugMode
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	force := fs.Bool("rebuild", false, "ignore the index cache and rebuild at startup")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Indexer.Init(context.Background(), *force); err != nil {
		logger.Fatal("Failed to build index", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Index.Watch {
		idx := components.Indexer
		watchSvc := watcher.NewWatcher(
			cfg.Corpus.Path,
			func(path string) {
				if _, err := idx.Rebuild(watchCtx); err != nil {
					logger.Warn("corpus changed but rebuild failed; previous index still serving",
						zap.String("path", path), zap.Error(err))
				}
			},
			watcher.WithLogger(logger.Named("watcher")),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(components.Search, components.Handle, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	useCache := fs.Bool("use-cache", false, "keep a valid cache instead of rebuilding")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Indexer.Init(context.Background(), !*useCache); err != nil {
		fmt.Fprintf(os.Stderr, "Index build failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteStatus(os.Stdout, components.Search.Status(), cli.OutputText)
	fmt.Printf("Cache: %s\n", cfg.Index.CacheDir)
}

func runEval() {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fraction := fs.Float64("fraction", 0, "fraction of the corpus to evaluate, in (0, 1] (0 = config value)")
	samples := fs.Int("samples", -1, "number of qualitative samples (-1 = config value)")
	seed := fs.Int64("seed", 0, "shuffle seed (0 = config value)")
	kMax := fs.Int("k", 0, "results retrieved per query (0 = config value)")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()

	evalCfg, err := evalOverrides(cfg.Eval, *fraction, *samples, *seed, *kMax)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Indexer.Init(ctx, false); err != nil {
		fmt.Fprintf(os.Stderr, "Index build failed: %v\n", err)
		os.Exit(1)
	}
	pinned, err := components.Search.Pin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Index not ready: %v\n", err)
		os.Exit(1)
	}
	report, err := eval.New(evalCfg, eval.WithLogger(logger)).Evaluate(ctx, pinned.Corpus(), pinned)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// evalOverrides applies eval flags on top of the configured values. Zero (or
// negative samples) keeps the configured value.
func evalOverrides(base config.EvalConfig, fraction float64, samples int, seed int64, kMax int) (config.EvalConfig, error) {
	cfg := base
	if fraction != 0 {
		if fraction < 0 || fraction > 1 {
			return cfg, fmt.Errorf("%w: --fraction must be in (0, 1], got %g", models.ErrInvalidParameter, fraction)
		}
		cfg.Fraction = fraction
	}
	if samples >= 0 {
		cfg.Samples = samples
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if kMax != 0 {
		if kMax < 1 || kMax > config.MaxK {
			return cfg, fmt.Errorf("%w: --k must be between 1 and %d, got %d", models.ErrInvalidParameter, config.MaxK, kMax)
		}
		cfg.KMax = kMax
	}
	return cfg, nil
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: proshno search [flags] [query]\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Without a query an interactive prompt starts;\ntype quit, exit, or q to leave it.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  proshno search গীতাঞ্জলি কার লেখা
  proshno search --k 3 --output json "বিদ্রোহী কবি"
  proshno search --server http://localhost:8000 নকশী কাঁথার মাঠ
  proshno search                                  # interactive
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// searcher is what the interactive loop queries; the local service and the
// HTTP client both satisfy it.
type searcher interface {
	Search(ctx context.Context, text string, k int) (*models.RetrievalResult, error)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = search locally)")
	k := fs.Int("k", 0, "number of results (0 = search.default_k)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	if *k == 0 {
		*k = cfg.Search.DefaultK
	}

	var s searcher
	if *serverURL != "" {
		s = &httpSearcher{baseURL: strings.TrimRight(*serverURL, "/"), client: &http.Client{Timeout: cfg.Embedding.Timeout + 5*time.Second}}
	} else {
		components, err := initializeComponents(cfg, logger, debugMode)
		if err != nil {
			logger.Fatal("Failed to initialize components", zap.Error(err))
		}
		defer components.Close()
		if _, err := components.Indexer.Init(context.Background(), false); err != nil {
			fmt.Fprintf(os.Stderr, "Index build failed: %v\n", err)
			os.Exit(1)
		}
		s = components.Search
	}

	ctx := context.Background()
	if query := buildSearchQuery(fs.Args()); query != "" {
		res, err := s.Search(ctx, query, *k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, res, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	interactive(ctx, os.Stdin, os.Stdout, os.Stderr, s, *k, format)
}

// interactive reads one query per line until EOF or quit/exit/q. Failed
// queries are reported and the loop continues.
func interactive(ctx context.Context, in io.Reader, out, errOut io.Writer, s searcher, k int, format cli.OutputFormat) {
	fmt.Fprintln(out, "Type your queries (or 'quit' to exit):")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Goodbye!")
			return
		case "":
			continue
		}
		res, err := s.Search(ctx, line, k)
		if err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			continue
		}
		if err := cli.WriteSearchResults(out, res, format); err != nil {
			fmt.Fprintf(errOut, "Output failed: %v\n", err)
		}
	}
}

// httpSearcher searches through a running proshno server.
type httpSearcher struct {
	baseURL string
	client  *http.Client
}

func (h *httpSearcher) Search(ctx context.Context, text string, k int) (*models.RetrievalResult, error) {
	q := url.Values{"query": {text}, "k": {strconv.Itoa(k)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var res models.RetrievalResult
	if err := h.getJSON(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *httpSearcher) Stats(ctx context.Context) (*models.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/stats", nil)
	if err != nil {
		return nil, err
	}
	var st models.Stats
	if err := h.getJSON(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (h *httpSearcher) getJSON(req *http.Request, v interface{}) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the local index cache)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var st models.Status
	if *serverURL != "" {
		h := &httpSearcher{baseURL: strings.TrimRight(*serverURL, "/"), client: &http.Client{Timeout: 10 * time.Second}}
		stats, err := h.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		st = stats.Status
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		st, err = cacheStatus(context.Background(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		if format == cli.OutputText {
			defer func() {
				if du, err := storage.DiskUsageBytes(cfg.Index.CacheDir); err == nil {
					fmt.Printf("Cache: %s (%d bytes)\n", cfg.Index.CacheDir, du)
				}
			}()
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// cacheStatus describes the persisted index without loading an embedder.
func cacheStatus(ctx context.Context, cfg *config.Config) (models.Status, error) {
	st := models.Status{ModelID: cfg.Embedding.ModelID, Dimensions: cfg.Embedding.Dimensions}
	dbPath := filepath.Join(cfg.Index.CacheDir, indexer.MetadataFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return st, nil
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return st, err
	}
	defer store.Close()
	m, err := store.LoadManifest(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	return models.Status{
		Ready:      true,
		CorpusSize: m.DocCount,
		ModelID:    m.ModelID,
		Dimensions: m.Dimensions,
		BuiltAt:    m.BuiltAt,
		Origin:     vector.OriginCache,
	}, nil
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Store    storage.Store
	Handle   *vector.Handle
	Indexer  *indexer.Indexer
	Search   *search.Service
}

func (c *Components) Close() {
	if c.Handle != nil {
		_ = c.Handle.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	logger.Info("embedder initialized",
		zap.String("provider", string(cfg.Embedding.Provider)),
		zap.String("model", embedder.ModelID()),
		zap.Int("dimensions", embedder.Dimensions()))

	store, err := storage.NewSQLiteStore(filepath.Join(cfg.Index.CacheDir, indexer.MetadataFile))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	handle := vector.NewHandle()
	idx := indexer.NewIndexer(embedder, store, handle, cfg, indexer.WithLogger(logger.Named("indexer")))

	svcOpts := []search.ServiceOption{search.WithTimeout(cfg.Embedding.Timeout)}
	if debug {
		svcOpts = append(svcOpts, search.WithLogger(logger.Named("search")))
	}
	svc := search.NewService(embedder, handle, svcOpts...)

	return &Components{
		Embedder: embedder,
		Store:    store,
		Handle:   handle,
		Indexer:  idx,
		Search:   svc,
	}, nil
}

func printUsage() {
	fmt.Println(`proshno - Semantic search over a Bengali literature quiz corpus

Usage:
  proshno server [flags]           Build or load the index and start the HTTP server
  proshno init [flags]             Build the index and save the cache
  proshno eval [flags]             Run the leave-one-out retrieval evaluation
  proshno search [flags] [query]   Search (interactive when no query is given)
  proshno status [flags]           Show index status
  proshno version                  Show version
  proshno help                     Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then /usr/local/etc/proshno/config.yaml)
  --debug            Enable debug logging

Server Flags:
  --rebuild          Ignore the index cache and rebuild at startup

Init Flags:
  --use-cache        Keep a valid cache instead of rebuilding

Eval Flags:
  --output string    Output format: text or json (default: text)
  --fraction float   Fraction of the corpus to evaluate (default from config, 0.2)
  --samples int      Number of qualitative samples (default from config, 5)
  --seed int         Shuffle seed (default from config, 42)
  --k int            Results retrieved per query (default from config, 20)

Search Flags:
  --k int            Number of results, 1..50 (default from config, 5)
  --output string    Output format: text or json (default: text)
  --server string    Search through a running server instead of locally

Status Flags:
  --server string    Ask a running server instead of reading the local cache
  --output string    Output format: text or json (default: text)

Examples:
  proshno init
  proshno server
  proshno eval --fraction 1 --samples 3
  proshno eval --output json > report.json
  proshno search "গীতাঞ্জলি কার লেখা"
  proshno search --k 3 --output json বিদ্রোহী কবি
  proshno status --server http://localhost:8000`)
}
