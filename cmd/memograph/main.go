// Package main is the memograph CLI entry point.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/cli"
	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/memograph/config.yaml"
	defaultServerURL  = "http://localhost:3000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, and a missing default file means built-in defaults.
// Returns the config and the path that was loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	args := os.Args[2:]
	switch command := os.Args[1]; command {
	case "server":
		runServer(args)
	case "import":
		runImport(args)
	case "rebuild":
		runRebuild(args)
	case "list":
		runList(args)
	case "similar":
		runSimilar(args)
	case "graph":
		runGraph(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("memograph version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand that touches the collection.
type commonFlags struct {
	configPath *string
	debug      *bool
	output     *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (c *commonFlags) format() cli.OutputFormat {
	format, err := cli.ParseOutputFormat(*c.output)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// setup loads the config and builds the logger for a direct (non-server) command.
func (c *commonFlags) setup() (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(*c.configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`memograph - semantic similarity graph for notes

Usage:
  memograph server [flags]              Start the HTTP server and watch import directories
  memograph import [flags] [path...]    Import files or directories as notes
  memograph rebuild [flags]             Re-vectorize every note and rebuild the graph
  memograph list [flags]                List notes
  memograph similar [flags] <id>        Show notes related to a note
  memograph graph [flags]               Show the similarity graph
  memograph search [flags] <query>      Hybrid keyword and semantic search
  memograph status [flags]              Show collection statistics and settings
  memograph version                     Show version
  memograph help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/memograph/config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Read Flags (list, similar, graph, search, status, rebuild):
  --server string    Server URL (default: http://localhost:3000). Use --server "" to open the
                     database directly when the server is not running.

Import directories default to import.directories from the config.

Examples:
  memograph server
  memograph import ~/notes
  memograph similar 42
  memograph graph --limit 50 --output json
  memograph search --semantic-weight 0.8 neural networks
  memograph status --server ""`)
}
