package relay

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/concord-chat/concord/internal/config"
	"github.com/concord-chat/concord/internal/identity"
)

// Relay bundles the three relay responsibilities — circuit transport,
// invite-code registry, store-and-forward queue — and the HTTP API that
// fronts them, started and stopped as one unit.
type Relay struct {
	Circuit  *CircuitHost
	Registry *Registry
	Queue    *Queue
	HTTP     *Server

	stop chan struct{}
}

// Run loads or creates the relay's identity key under dataDir, starts the
// circuit-relay overlay on cfg.WSPort, and serves the HTTP API on
// cfg.HTTPPort until ctx is cancelled.
func Run(ctx context.Context, dataDir string, cfg config.RelayConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	idPath := filepath.Join(dataDir, "node-identity.json")
	id, _, err := identity.LoadOrCreate(idPath, false)
	if err != nil {
		return fmt.Errorf("relay identity: %w", err)
	}

	circuit, err := StartCircuitRelay(id.PrivateKey, cfg.WSPort)
	if err != nil {
		return fmt.Errorf("start circuit relay: %w", err)
	}
	defer circuit.Close()

	externalAddr := fmt.Sprintf("/dns4/%s/tcp/%d/ws/p2p/%s", cfg.HostnameBase, cfg.WSPort, circuit.Host.ID())

	registry := NewRegistry()
	queue := NewQueue()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := NewServer(httpAddr, registry, queue, circuit.Host.ID().String(), circuit.Addrs(), externalAddr,
		func() int { return len(circuit.Host.Network().Peers()) })

	r := &Relay{Circuit: circuit, Registry: registry, Queue: queue, HTTP: srv, stop: make(chan struct{})}

	go registry.RunSweeper(r.stop)
	go queue.RunSweeper(r.stop)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	log.Infof("relay ready: peerId=%s external=%s http=%s", circuit.Host.ID(), externalAddr, httpAddr)

	select {
	case <-ctx.Done():
		close(r.stop)
		_ = srv.Shutdown()
		return nil
	case err := <-serveErr:
		close(r.stop)
		if err != nil {
			return fmt.Errorf("relay http server: %w", err)
		}
		return nil
	}
}
