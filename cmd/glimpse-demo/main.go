package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/logging"
	"github.com/tinytelemetry/glimpse/pkg/glimpse"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var scenarioPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/glimpse/config.yml)")
	flag.StringVar(&scenarioPath, "scenario", "", "workload scenario file (default is the built-in storefront)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Glimpse Demo - Monitored Sample Host\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if scenarioPath != "" {
		cfg.Scenario = scenarioPath
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg demoConfig) error {
	log, cleanup, err := logging.New(logging.Config{
		Dir:     cfg.LogDir,
		File:    "glimpse-demo.log",
		Verbose: cfg.Verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		log = logr.Discard()
	}
	defer cleanup()

	sc, err := loadScenario(cfg.Scenario)
	if err != nil {
		return err
	}

	up, err := startUpstream(cfg.UpstreamAddr, log)
	if err != nil {
		return err
	}
	defer up.Stop()

	client := &http.Client{}
	mon, err := glimpse.New(cfg.Config,
		glimpse.WithLogger(log),
		glimpse.WithHTTPClient(client),
		glimpse.WithHistory(glimpse.NewMemoryHistory("/")))
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	defer mon.Close()

	// Attach, not Start: a host stopped from the dashboard stays stopped
	// across restarts.
	if err := mon.Attach(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupBanner(cfg, mon, up.BaseURL(), sc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return newRunner(mon, client, up.BaseURL(), log).Run(gctx, sc)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	fmt.Println("\nShutting down...")
	mon.Wait()
	return err
}

func printStartupBanner(cfg demoConfig, mon *glimpse.Monitor, upstreamURL string, sc Scenario) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	row := func(on bool, label, value string) string {
		mark, style := dot, dim
		if on {
			mark, style = check, cyan
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, style.Render(value))
	}
	orDisabled := func(s string) string {
		if s == "" {
			return "disabled"
		}
		return s
	}

	logo := cyan.Bold(true).Render(`
    ╔═╗╦  ╦╔╦╗╔═╗╔═╗╔═╗
    ║ ╦║  ║║║║╠═╝╚═╗║╣
    ╚═╝╩═╝╩╩ ╩╩  ╚═╝╚═╝`)
	separator := dim.Render("    ─────────────────────────────────")

	state := "stopped"
	if mon.IsActive() {
		state = "recording"
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "in-memory"
	}

	lines := []string{
		"", logo, "    " + dim.Render("v"+version), "", separator, "",
		bold.Render("    Dashboards"), "",
		row(mon.HTTPAddr() != "", "HTTP API", orDisabled(mon.HTTPAddr())),
		row(mon.SocketPath() != "", "Unix Socket", orDisabled(shortenPath(mon.SocketPath()))),
		"",
		bold.Render("    Storage"), "",
		row(true, "Store", shortenPath(dbPath)),
		row(cfg.Snapshots.Enabled, "Snapshots", orDisabled(snapshotDir(cfg))),
		"",
		bold.Render("    Host"), "",
		row(true, "Upstream", upstreamURL),
		row(true, "Scenario", fmt.Sprintf("%s (%d steps)", sc.Name, len(sc.Steps))),
		row(mon.IsActive(), "Monitoring", state),
		"",
		separator, "",
		"    " + dim.Render("Press ") + yellow.Render("Ctrl+C") + dim.Render(" to stop"),
		"",
	}
	fmt.Println(strings.Join(lines, "\n"))
}

func snapshotDir(cfg demoConfig) string {
	if !cfg.Snapshots.Enabled {
		return ""
	}
	return shortenPath(cfg.Snapshots.Dir)
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || path == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
