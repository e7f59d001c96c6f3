// Package main is the entry point for the chronolog daemon, the
// long-running watcher/ingest process an external collaborator (a CLI
// dispatcher, an editor plugin) starts against one working tree.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/chronolog/chronolog"
	"github.com/chronolog/chronolog/internal/progress"
	"github.com/chronolog/chronolog/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const outputFormatJS = "json"

func main() {
	repoPath := flag.String("repo", getEnv("CHRONOLOG_REPO", "."), "Path to the working tree to watch")
	colorFlag := flag.String("color", "auto", "Color output: auto, always, never")
	noColor := flag.Bool("no-color", false, "Disable color output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	showHelp := flag.Bool("help", false, "Show help and exit")
	outputFormat := flag.String("output", "", "Startup output format: json (default: human-readable)")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	colorMode := termcolor.ColorAuto
	if *noColor {
		colorMode = termcolor.ColorNever
	} else if *colorFlag != "auto" {
		var err error
		colorMode, err = termcolor.ParseColorMode(*colorFlag)
		if err != nil {
			slog.Error("invalid color flag", "value", *colorFlag, "err", err)
			os.Exit(1)
		}
	}
	cw := termcolor.NewWriter(os.Stdout, colorMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spin := progress.New("Opening repository...")
	spin.Start()
	openStart := time.Now()
	h, err := chronolog.Open(ctx, *repoPath)
	openDur := time.Since(openStart).Round(time.Millisecond)
	spin.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cw.Red("error:"), err)
		os.Exit(1)
	}
	defer h.Close() //nolint:errcheck // best-effort on process exit

	if err := h.DaemonStart(ctx); err != nil {
		slog.Error("starting daemon", "err", err)
		os.Exit(1)
	}

	if *outputFormat == outputFormatJS {
		printStartupJSON(h.Root(), openDur)
	} else {
		printStartupBanner(cw, h.Root(), openDur)
	}

	<-ctx.Done()
	slog.Info("shutdown initiated, draining ingest queue")
	stopCtx, cancel := context.WithTimeout(context.Background(), h.Config().ShutdownGrace()+time.Second)
	defer cancel()
	if err := h.DaemonStop(stopCtx); err != nil {
		slog.Error("stopping daemon", "err", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printVersion() {
	fmt.Printf("chronologd %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printStartupBanner(cw *termcolor.Writer, root string, openDur time.Duration) {
	fmt.Printf("%s %s\n", cw.BoldCyan("chronologd"), cw.Green(version))
	timing := fmt.Sprintf("(opened in %s)", cw.Yellow(openDur.String()))
	fmt.Printf("  repo:    %s  %s\n", root, timing)
	fmt.Printf("  commit:  %s\n", commit)
	if termcolor.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\n%s\n", cw.Bold("Press Ctrl+C to stop."))
	}
}

type startupInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	RepoPath string `json:"repo_path"`
	OpenMs   int64  `json:"open_ms"`
}

func printStartupJSON(root string, openDur time.Duration) {
	info := startupInfo{Version: version, Commit: commit, RepoPath: root, OpenMs: openDur.Milliseconds()}
	data, _ := json.Marshal(info)
	fmt.Println(string(data))
}

func printHelp() {
	fmt.Println("chronologd - background watcher/ingest daemon for a chronolog repository")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage:")
	fmt.Println("  chronologd [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -repo string        Path to the working tree to watch (default: \".\")")
	fmt.Println("                      Environment: CHRONOLOG_REPO")
	fmt.Println("  -color string       Color output: auto, always, never")
	fmt.Println("  -no-color           Disable color output")
	fmt.Println("  -output string      Startup output format: json (default: human-readable)")
	fmt.Println("  -version             Show version and exit")
	fmt.Println("  -help                Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  CHRONOLOG_REPO       Repository path")
	fmt.Println("  CHRONOLOG_LOG_LEVEL  Log level: debug, info, warn, error (default: info)")
	fmt.Println("  CHRONOLOG_LOG_FORMAT Log format: text, json (default: text)")
}
