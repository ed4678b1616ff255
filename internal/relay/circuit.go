package relay

import (
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	relayv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	"github.com/multiformats/go-multiaddr"
)

var log = logging.Logger("concord/relay")

const (
	maxReservations      = 256
	defaultDurationLimit = 300 * time.Second
	defaultDataLimit     = 16 << 20 // 16 MiB
)

// CircuitHost is the relay's own overlay node: a libp2p host whose only job
// is to accept reservations and forward bytes between two reserved peers.
type CircuitHost struct {
	Host host.Host
}

// StartCircuitRelay brings up the relay overlay node on wsPort, with the
// given identity key, and enables the circuit relay v2 service directly
// (skipping libp2p's AutoNAT-gated EnableRelayService, since a relay
// process with a forwarded port is reachable by construction).
func StartCircuitRelay(priv crypto.PrivKey, wsPort int) (*CircuitHost, error) {
	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d/ws", wsPort))
	if err != nil {
		return nil, fmt.Errorf("build relay listen addr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddr),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("create relay host: %w", err)
	}

	rc := relayv2.DefaultResources()
	rc.Limit = &relayv2.RelayLimit{
		Duration: defaultDurationLimit,
		Data:     defaultDataLimit,
	}
	rc.MaxReservations = maxReservations
	if _, err := relayv2.New(h, relayv2.WithResources(rc)); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("start circuit relay service: %w", err)
	}

	log.Infof("circuit relay listening on ws port %d, peer id %s", wsPort, h.ID())
	return &CircuitHost{Host: h}, nil
}

// Addrs returns the relay overlay's locally-bound listen addresses as
// strings, for /info's relayAddrs field.
func (c *CircuitHost) Addrs() []string {
	addrs := make([]string, 0, len(c.Host.Addrs()))
	for _, a := range c.Host.Addrs() {
		addrs = append(addrs, a.String())
	}
	return addrs
}

// Close shuts down the relay overlay node.
func (c *CircuitHost) Close() error {
	return c.Host.Close()
}
