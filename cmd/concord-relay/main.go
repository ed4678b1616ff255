// Command concord-relay runs the rendezvous relay: circuit-relay transport,
// invite-code registry, and store-and-forward message queue, fronted by a
// small JSON HTTP API. It resolves a data directory, loads or creates its
// config file, prints a startup banner, and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/concord-chat/concord/internal/config"
	"github.com/concord-chat/concord/internal/relay"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	showVer    = flag.Bool("version", false, "Show version")
	appVersion = "dev"
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("concord-relay v%s\n", appVersion)
		return
	}
	if *showHelp || flag.NArg() < 1 {
		showUsage()
		if flag.NArg() < 1 {
			os.Exit(1)
		}
		return
	}

	dataDir, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		log.Fatalf("invalid data directory: %v", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("cannot create data directory %s: %v", dataDir, err)
	}

	cfgPath := filepath.Join(dataDir, "relay.json")
	cfg, _, err := config.EnsureRelayConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Environment variables override the persisted file.
	cfg = applyEnvOverrides(cfg)

	printRelayBanner(dataDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down gracefully...")
		cancel()
	}()

	if err := relay.Run(ctx, dataDir, cfg); err != nil {
		log.Fatalf("relay failed: %v", err)
	}
	// relay.Run only returns nil on a graceful ctx-cancelled shutdown;
	// main falls through to exit code 0.
}

// applyEnvOverrides layers WS_PORT/HTTP_PORT/RELAY_HOSTNAME on top of a
// persisted relay.json, env winning.
func applyEnvOverrides(cfg config.RelayConfig) config.RelayConfig {
	fromEnv := config.RelayConfigFromEnv()
	if v, ok := os.LookupEnv("WS_PORT"); ok && v != "" {
		cfg.WSPort = fromEnv.WSPort
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok && v != "" {
		cfg.HTTPPort = fromEnv.HTTPPort
	}
	if v, ok := os.LookupEnv("RELAY_HOSTNAME"); ok && v != "" {
		cfg.HostnameBase = fromEnv.HostnameBase
	}
	return cfg
}

func showUsage() {
	fmt.Println("concord-relay - rendezvous relay for concord peers")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  concord-relay <data-dir>   Run the relay using <data-dir> for identity and state")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  WS_PORT         Overlay WebSocket listen port (default 9090)")
	fmt.Println("  HTTP_PORT       HTTP API port (default 8080)")
	fmt.Println("  RELAY_HOSTNAME  Public hostname advertised to peers")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h         Show this help message")
	fmt.Println("  -version   Show version information")
}

func printRelayBanner(dataDir, cfgPath string, cfg config.RelayConfig) {
	fmt.Println("concord-relay")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Config file:    %s\n", cfgPath)
	fmt.Printf("Overlay port:   %d\n", cfg.WSPort)
	fmt.Printf("HTTP API port:  %d\n", cfg.HTTPPort)
	fmt.Printf("Hostname:       %s\n", cfg.HostnameBase)
	fmt.Println("Starting relay... (Ctrl+C to stop)")
}
