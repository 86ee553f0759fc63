package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/execgw/internal/config"
	"github.com/mattjoyce/execgw/internal/doctor"
	"github.com/mattjoyce/execgw/internal/entity"
	"github.com/mattjoyce/execgw/internal/lock"
	"github.com/mattjoyce/execgw/internal/log"
	"github.com/mattjoyce/execgw/internal/server"
	"github.com/mattjoyce/execgw/internal/storage"
	"gopkg.in/yaml.v3"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: execgw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("execgw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// resolveConfig loads configPath, or the discovered config, or the defaults
// when nothing is found and allowDefaults is set.
func resolveConfig(configPath string, allowDefaults bool) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			if allowDefaults {
				return config.Defaults(), "", nil
			}
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	port := fs.Int("port", -1, "Override server.port")
	ephemeral := fs.Bool("ephemeral", false, "Use the in-memory entity store")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, source, err := resolveConfig(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if source == "" {
		fmt.Fprintln(os.Stderr, "No config found, using defaults")
	}
	if *port >= 0 {
		cfg.Server.Port = *port
	}
	if *ephemeral {
		cfg.Storage.Backend = storage.BackendMemory
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("execgw starting", "version", version, "config", source)

	if cfg.Storage.Backend != storage.BackendMemory {
		pidLockPath := lock.PathFor(cfg.Storage.Path)
		pidLock, err := lock.Acquire(pidLockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLockPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		logger.Error("failed to open entity store", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path, "error", err)
		return 1
	}
	logger.Info("entity store opened", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	srv, err := server.New(cfg, entity.New(store, log.WithComponent("entity")), log.Get())
	if err != nil {
		logger.Error("failed to build server", "error", err)
		_ = store.Close()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	logger.Info("execgw running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		err = <-errCh
	case err = <-errCh:
	}

	grace := max(cfg.Server.DrainTimeout, storeCloseGrace)
	if cerr := closeAfterDrain(srv.Dispatcher(), store, grace, logger); cerr != nil {
		logger.Error("failed to close entity store", "error", cerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("execgw stopped")
	return 0
}

// storeCloseGrace is the minimum time shutdown waits for admitted requests
// before closing the entity store under them.
const storeCloseGrace = 30 * time.Second

type drainWaiter interface {
	Wait(ctx context.Context) error
}

// closeAfterDrain closes store once d has finished every admitted task, or
// once grace has passed.
func closeAfterDrain(d drainWaiter, store io.Closer, grace time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := d.Wait(ctx); err != nil {
		logger.Warn("admitted requests still running, closing entity store", "error", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close entity store: %w", err)
	}
	return nil
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, _, err := resolveConfig(configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := resolveConfig(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`execgw - HTTP entity server with a fixed request worker pool

Usage:
  execgw <command> [flags]

Commands:
  start             Start the server in the foreground
  config check      Validate configuration and report warnings
  config show       Print the effective configuration
  version           Show version information
  help              Show this help message

Use 'execgw <command> --help' for command flags.
`)
}

func printStartHelp() {
	fmt.Print(`Usage: execgw start [--config PATH] [--port N] [--ephemeral]

Start the server in the foreground. SIGINT or SIGTERM stops admission,
then closes all connections.

Flags:
  --config PATH   Configuration file or directory (default: discovered)
  --port N        Override server.port
  --ephemeral     Keep entities in memory only
`)
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: execgw config <action> [flags]

Actions:
  check   Validate configuration and report warnings
  show    Print the effective configuration
`)
}

func printConfigCheckHelp() {
	fmt.Print(`Usage: execgw config check [--config PATH] [--json] [--strict]

Exit codes: 0 valid, 1 invalid, 2 warnings with --strict.
`)
}

func printConfigShowHelp() {
	fmt.Print(`Usage: execgw config show [--config PATH] [--json]
`)
}
