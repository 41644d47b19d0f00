package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/cli"
	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/importer"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/server"
	"github.com/hyperjump/memograph/internal/storage"
	"github.com/hyperjump/memograph/internal/telemetry"
	"github.com/hyperjump/memograph/internal/watcher"
	"github.com/hyperjump/memograph/pkg/utils"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type localFunc func(ctx context.Context, cfg *config.Config, comp *Components) error

// direct opens the collection in-process and runs fn against it.
func direct(c *commonFlags, fn localFunc) {
	cfg, logger := c.setup()
	comp, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	ctx, stop := signalContext()
	err = fn(ctx, cfg, comp)
	stop()
	comp.Close()
	_ = logger.Sync()
	if err != nil {
		fatalf("%v", err)
	}
}

// dispatch runs remote against the server at serverURL, or local against the database
// when serverURL is empty.
func dispatch(c *commonFlags, serverURL string, remote func(ctx context.Context, cl *client) error, local localFunc) {
	if serverURL == "" {
		direct(c, local)
		return
	}
	ctx, stop := signalContext()
	err := remote(ctx, newClient(serverURL))
	stop()
	if err != nil {
		fatalf("%v", err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watcher events, imports, requests)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signalContext()
	defer stop()

	tracing, err := telemetry.Init(ctx, &cfg.Tracing, version)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	if tracing.Enabled() {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watch := watcher.New(
		cfg.Import.Directories,
		cfg.Import.Extensions,
		cfg.Import.RecursiveOrDefault(),
		components.Importer,
		watcher.WithLogger(logger),
	)
	if err := watch.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	var initial sync.WaitGroup
	initial.Add(1)
	go func() {
		defer initial.Done()
		importDirectories(ctx, components.Importer, watch.Directories(), logger)
	}()

	srv := server.NewServer(components.Graph, components.Search, cfg, logger, watch)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	watch.Stop()
	initial.Wait()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
}

// importDirectories brings the collection up to date with the watched directories.
func importDirectories(ctx context.Context, im *importer.Importer, dirs []string, logger *zap.Logger) {
	for _, dir := range dirs {
		summary, err := im.ImportDirectory(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("initial import failed", zap.String("directory", dir), zap.Error(err))
			continue
		}
		logger.Info("initial import finished",
			zap.String("directory", dir),
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("unchanged", summary.Unchanged),
			zap.Int("failed", summary.Failed),
		)
	}
}

// importPath imports a directory or a single file.
func importPath(ctx context.Context, im *importer.Importer, path string) (*importer.Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return im.ImportDirectory(ctx, path)
	}
	result, err := im.ImportFile(ctx, path)
	if err != nil {
		return nil, err
	}
	summary := &importer.Summary{}
	summary.Add(result)
	return summary, nil
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	format := common.format()

	direct(common, func(ctx context.Context, cfg *config.Config, comp *Components) error {
		paths := fs.Args()
		if len(paths) == 0 {
			paths = cfg.Import.Directories
		}
		if len(paths) == 0 {
			return errors.New("nothing to import: pass a path or set import.directories")
		}
		failed := 0
		for _, path := range paths {
			summary, err := importPath(ctx, comp.Importer, path)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(os.Stderr, "Import %s failed: %v\n", path, err)
				failed++
				continue
			}
			if err := cli.WriteImportSummary(os.Stdout, path, summary, format); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d paths failed to import", failed, len(paths))
		}
		return nil
	})
}

func runRebuild(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	_ = fs.Parse(args)
	format := common.format()

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			report, err := cl.rebuild(ctx)
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}
			return cli.WriteRebuildReport(os.Stdout, report, format)
		},
		func(ctx context.Context, _ *config.Config, comp *Components) error {
			report, err := comp.Graph.Rebuild(ctx)
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}
			return cli.WriteRebuildReport(os.Stdout, report, format)
		},
	)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	offset := fs.Int("offset", 0, "number of notes to skip")
	limit := fs.Int("limit", 0, "maximum number of notes (0 = all)")
	_ = fs.Parse(args)
	format := common.format()

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			notes, err := cl.listNotes(ctx, *offset, *limit)
			if err != nil {
				return err
			}
			return cli.WriteNotes(os.Stdout, notes, format)
		},
		func(ctx context.Context, _ *config.Config, comp *Components) error {
			notes, err := comp.Graph.ListNotes(ctx, *offset, *limit)
			if err != nil {
				return err
			}
			return cli.WriteNotes(os.Stdout, notes, format)
		},
	)
}

// parseNoteID parses a positive note ID argument.
func parseNoteID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: note id must be a positive integer, got %q", models.ErrInvalidInput, s)
	}
	return id, nil
}

func runSimilar(args []string) {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	_ = fs.Parse(args)
	format := common.format()
	if fs.NArg() != 1 {
		fatalf("Usage: memograph similar [flags] <id>")
	}
	id, err := parseNoteID(fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			similar, err := cl.similar(ctx, id)
			if err != nil {
				return err
			}
			return cli.WriteSimilar(os.Stdout, id, similar, format)
		},
		func(ctx context.Context, _ *config.Config, comp *Components) error {
			similar, err := comp.Graph.GetSimilar(ctx, id)
			if err != nil {
				return err
			}
			return cli.WriteSimilar(os.Stdout, id, similar, format)
		},
	)
}

func runGraph(args []string) {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	limit := fs.Int("limit", -1, "maximum number of edges (-1 = similarity.graph_limit, 0 = all)")
	_ = fs.Parse(args)
	format := common.format()

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			snapshot, err := cl.graph(ctx, *limit)
			if err != nil {
				return err
			}
			return cli.WriteGraph(os.Stdout, snapshot, format)
		},
		func(ctx context.Context, cfg *config.Config, comp *Components) error {
			n := *limit
			if n < 0 {
				n = cfg.Similarity.GraphLimit
			}
			snapshot, err := comp.Graph.GetGraph(ctx, n)
			if err != nil {
				return err
			}
			return cli.WriteGraph(os.Stdout, snapshot, format)
		},
	)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: memograph search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Scores fuse a normalized keyword score and a normalized semantic score.
  • Use --keyword-weight 0 for semantic-only ranking.
  • Use --semantic-weight 0 for keyword-only ranking.
  • --min-score drops weak hits; --limit controls how many are returned.

Examples:
  memograph search machine learning
  memograph search --semantic-weight 0.8 --keyword-weight 0.2 neural networks
  memograph search --min-score 0.3 --limit 20 your query
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchWeightDefaultsFromConfig loads config at path and returns the default keyword and
// semantic weights. On load failure both are 0.5.
func searchWeightDefaultsFromConfig(path string) (keywordWeight, semanticWeight float64) {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return 0.5, 0.5
	}
	return cfg.Search.KeywordWeight, cfg.Search.SemanticWeight
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

func runSearch(args []string) {
	searchArgs := searchArgsReorder(args)
	defaultKeyword, defaultSemantic := searchWeightDefaultsFromConfig(searchConfigPathFromArgs(searchArgs, defaultConfigPath))

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	limit := fs.Int("limit", 0, "number of results (0 = search.default_limit)")
	keywordWeight := fs.Float64("keyword-weight", defaultKeyword, "weight of the keyword score")
	semanticWeight := fs.Float64("semantic-weight", defaultSemantic, "weight of the semantic score")
	minScore := fs.Float64("min-score", 0, "drop results whose fused score is below this value")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := common.format()
	query := &models.SearchQuery{
		Query:          queryStr,
		Limit:          *limit,
		KeywordWeight:  *keywordWeight,
		SemanticWeight: *semanticWeight,
		MinScore:       *minScore,
	}

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			response, err := cl.search(ctx, query)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(os.Stdout, response, format)
		},
		func(ctx context.Context, _ *config.Config, comp *Components) error {
			response, err := comp.Search.Search(ctx, query)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(os.Stdout, response, format)
		},
	)
}

// localStatus gathers statistics and settings from an open collection.
func localStatus(ctx context.Context, cfg *config.Config, comp *Components) (*cli.Status, error) {
	stats, err := comp.Graph.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &cli.Status{
		Stats:        stats,
		DatabasePath: cfg.Storage.DatabasePath,
		Dimensions:   cfg.Embedding.Dimensions,
		Threshold:    cfg.Similarity.ThresholdOrDefault(),
		Limit:        cfg.Similarity.Limit,
		Policy:       cfg.Similarity.Policy,
		Directories:  cfg.Import.Directories,
	}
	paths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath), cfg.Storage.BleveIndexPath)
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		st.DiskUsageBytes = n
	}
	return st, nil
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	_ = fs.Parse(args)
	format := common.format()

	dispatch(common, *serverURL,
		func(ctx context.Context, cl *client) error {
			st, err := cl.status(ctx)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			return cli.WriteStatus(os.Stdout, st, format)
		},
		func(ctx context.Context, cfg *config.Config, comp *Components) error {
			st, err := localStatus(ctx, cfg, comp)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			return cli.WriteStatus(os.Stdout, st, format)
		},
	)
}
