package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"riemannpub/internal/app"
	"riemannpub/internal/config"
	"riemannpub/internal/publisher"
)

const (
	exitCodeFailure = 1
	exitCodeConfig  = 2
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// run starts the exporter process.
// Params: none.
// Returns: process exit code.
func run() int {
	var (
		configPath  string
		showInfo    bool
		checkConfig bool
	)

	flag.StringVar(&configPath, "config", "config.toml", "path to TOML config file or directory")
	flag.BoolVar(&checkConfig, "check", false, "validate config and exit")
	flag.BoolVar(&showInfo, "v", false, "show build information")
	flag.BoolVar(&showInfo, "version", false, "show build information")
	flag.Parse()

	if showInfo {
		fmt.Printf("riemannpub version=%s plugin=%s commit=%s date=%s\n", version, publisher.Version, commit, date)
		return 0
	}

	if checkConfig {
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return exitCodeConfig
		}
		fmt.Println("config ok")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reload := make(chan struct{}, 1)
	go forwardReload(ctx, hup, reload)

	if err := app.Run(ctx, app.Runtime{ConfigPath: configPath, Reload: reload}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFailure
	}

	return 0
}

// forwardReload coalesces SIGHUP into at most one pending reload request.
func forwardReload(ctx context.Context, hup <-chan os.Signal, reload chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			select {
			case reload <- struct{}{}:
			default:
			}
		}
	}
}

func main() {
	os.Exit(run())
}
