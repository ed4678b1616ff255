// Command concord-peer runs one peer node process: it owns a signing
// identity, joins the overlay, and drives a newline-delimited JSON
// command-and-event protocol on stdin/stdout for an embedding UI. It
// resolves the peer's data directory, loads or creates its config file,
// prints a startup banner, then runs until SIGINT/SIGTERM or stdin EOF.
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
	"github.com/concord-chat/concord/internal/peer"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	showVer    = flag.Bool("version", false, "Show version")
	relayFlag  = flag.String("relay", "", "Rendezvous relay base URL, overrides concord.json")
	appVersion = "dev"
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("concord-peer v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	// The data directory is an optional positional argument; absent, it
	// falls back to CONCORD_DATA_DIR, then ./data.
	dataDirArg := config.DefaultDataDir()
	if flag.NArg() >= 1 {
		dataDirArg = flag.Arg(0)
	}
	dataDir, err := filepath.Abs(dataDirArg)
	if err != nil {
		log.Fatalf("invalid data directory: %v", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("cannot create data directory %s: %v", dataDir, err)
	}

	cfgPath := filepath.Join(dataDir, "concord.json")
	cfg, _, err := config.EnsurePeerConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.DataDir = dataDir
	if *relayFlag != "" {
		cfg.RelayURL = *relayFlag
	}

	printPeerBanner(dataDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down gracefully...")
		cancel()
	}()

	emit := peer.NewEmitter(os.Stdout)

	node, err := peer.Bootstrap(ctx, cfg.DataDir, cfg.RelayURL)
	if err != nil {
		// The embedding UI learns about the failure from the error event;
		// the log line is for anyone running the process by hand.
		emit.Error(fmt.Sprintf("peer bootstrap failed: %v", err))
		log.Fatalf("peer bootstrap failed: %v", err)
	}
	defer node.Close()

	relayPeerID := ""
	if info := node.RelayInfo(); info != nil {
		relayPeerID = info.RelayPeerID
	}

	loop := peer.NewLoop(node, emit, relayPeerID)
	loop.Run(ctx, os.Stdin)
	// Falling out of Run (stdin EOF, signal, or ctx cancellation) is a
	// clean shutdown; the deferred node.Close() above releases the
	// overlay host and relay reservation before main returns with
	// exit code 0.
}

func showUsage() {
	fmt.Println("concord-peer - decentralized chat peer node")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  concord-peer [data-dir]   Run a peer using data-dir for identity and state")
	fmt.Println("                            (defaults to $CONCORD_DATA_DIR, else ./data)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -relay <url>  Rendezvous relay base URL (overrides concord.json)")
	fmt.Println("  -h            Show this help message")
	fmt.Println("  -version      Show version information")
	fmt.Println()
	fmt.Println("Protocol:")
	fmt.Println("  Commands are read as newline-delimited JSON on stdin.")
	fmt.Println("  Events are written as newline-delimited JSON on stdout.")
}

func printPeerBanner(dataDir, cfgPath string, cfg config.PeerConfig) {
	fmt.Println("concord-peer")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Config file:    %s\n", cfgPath)
	if cfg.RelayURL != "" {
		fmt.Printf("Relay:          %s\n", cfg.RelayURL)
	} else {
		fmt.Println("Relay:          (none configured — direct/LAN dial only)")
	}
	fmt.Println("Starting peer... (Ctrl+C to stop)")
}
