package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/logging"
	"github.com/tinytelemetry/glimpse/internal/socketrpc"
	"github.com/tinytelemetry/glimpse/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var socketPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/glimpse/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path of the monitored host")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Glimpse - Monitoring Dashboard\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if socketPath != "" {
		cfg.SocketPath = socketPath
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	log, cleanup, err := logging.New(logging.Config{
		Dir:     cfg.LogDir,
		File:    "glimpse-tui.log",
		Verbose: cfg.Verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		log = logr.Discard()
	}
	defer cleanup()
	log = log.WithName("tui")

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to monitored host at %s: %w\nIs a host with glimpse socket-path set running?", cfg.SocketPath, err)
	}
	defer client.Close()

	// Long-polls get their own connection so control keys are not queued
	// behind a pending wait.
	waiter, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		log.Error(err, "long-poll connection failed, falling back to polling")
	} else {
		defer waiter.Close()
	}

	var w tui.Waiter
	if waiter != nil {
		w = waiter
	}
	dash := tui.NewDashboard(client, w, cfg.UpdateInterval, "tui")
	app := tui.NewApp(dash, tui.NewInsightPage(dash))
	log.Info("dashboard started", "socket", cfg.SocketPath, "interval", cfg.UpdateInterval.String())

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
