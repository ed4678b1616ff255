// Package peer implements the long-lived peer process: identity and
// overlay bootstrap, the chat protocol handler, the tiered outbound
// router, the relay client, known-peers persistence, and the
// stdin/stdout command-and-event loop.
package peer

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/host/autorelay"
	websocket "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/concord-chat/concord/internal/config"
	"github.com/concord-chat/concord/internal/identity"
	"github.com/concord-chat/concord/internal/wireproto"
)

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("relay", "info")
	logging.SetLogLevel("autorelay", "info")
	logging.SetLogLevel("autonat", "warn")
}

var log = logging.Logger("concord/peer")

// Node is a running peer process: its overlay host, identity, relay
// client, known-peers store, and the accumulated state the command/event
// loop reports on.
type Node struct {
	Host        host.Host
	Identity    identity.Identity
	IsEphemeral bool
	Port        int

	relayMu    sync.Mutex
	relayInfo  *wireproto.RelayInfoResponse
	inviteCode string
	relayURL   string

	Stats      Stats
	KnownChat  *knownChatPeers
	KnownPeers *KnownPeerStore

	mdnsService mdns.Service

	startedAt time.Time
	diagLog   *diagRing

	// emitMessage delivers a fully-parsed incoming chat message to the UI.
	// Wired by the event loop when it starts; nil-safe, so a message that
	// arrives before then (the chat handler is registered in Bootstrap), or
	// on a Node constructed outside the full loop (e.g. in tests), is
	// counted but not emitted.
	emitMessage func(IncomingMessage)
}

type mdnsNotifee struct {
	ctx context.Context
	h   host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.ctx, connectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

const (
	fetchTimeout   = 10 * time.Second
	connectTimeout = 15 * time.Second
)

// Bootstrap implements the peer bootstrap state machine: port resolution
// with persistence, identity load, best-effort relay info fetch, listen
// address assembly, and overlay startup with a single bind-retry on
// address-in-use.
func Bootstrap(ctx context.Context, dataDir, relayURL string) (*Node, error) {
	portFile := filepath.Join(dataDir, "relay-config.json")
	idFile := filepath.Join(dataDir, "node-identity.json")

	port, portConflict, err := resolvePort(portFile)
	if err != nil {
		return nil, fmt.Errorf("resolve port: %w", err)
	}

	id, isEphemeral, err := identity.LoadOrCreate(idFile, portConflict)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	info := fetchRelayInfo(relayURL)

	host, usedPort, err := startOverlay(id, port, portFile, info)
	if err != nil {
		return nil, fmt.Errorf("start overlay: %w", err)
	}
	// A port-conflict run is ephemeral by construction: never overwrite the
	// persisted port, which still names the port the original instance
	// owns. Only a non-conflict bind-retry (genuine address-in-use at
	// libp2p's own bind time) updates the persisted file.
	if usedPort != port && !portConflict {
		_ = config.SavePersistedPort(portFile, usedPort)
	}

	knownPeers, err := OpenKnownPeerStore(dataDir)
	if err != nil {
		_ = host.Close()
		return nil, fmt.Errorf("open known-peers store: %w", err)
	}

	n := &Node{
		Host:        host,
		Identity:    id,
		IsEphemeral: isEphemeral,
		Port:        usedPort,
		relayInfo:   info,
		relayURL:    relayURL,
		KnownChat:   newKnownChatPeers(),
		KnownPeers:  knownPeers,
		startedAt:   time.Now(),
		diagLog:     newDiagLog(),
	}

	n.registerChatHandler()

	md := mdns.NewMdnsService(host, wireproto.MdnsTag, &mdnsNotifee{ctx: ctx, h: host})
	if err := md.Start(); err != nil {
		_ = host.Close()
		return nil, fmt.Errorf("start mdns: %w", err)
	}
	n.mdnsService = md

	return n, nil
}

// resolvePort reads a previously persisted port and probes whether it is
// still free. If it is, that port is reused unchanged. If another process
// (another instance of this program pointed at the same data directory)
// already holds it, this run is a port conflict: a fresh OS-assigned port
// is selected but NOT persisted, and the caller must treat identity as
// ephemeral. Absence of a persisted port is the ordinary first-run path,
// not a conflict.
func resolvePort(portFile string) (port int, portConflict bool, err error) {
	if p, ok, lerr := config.LoadPersistedPort(portFile); lerr == nil && ok {
		if portFree(p) {
			return p, false, nil
		}
		newPort, ferr := freePort()
		if ferr != nil {
			return 0, true, ferr
		}
		log.Warnf("persisted port %d is already in use; binding ephemeral port %d", p, newPort)
		return newPort, true, nil
	}

	p, err := freePort()
	if err != nil {
		return 0, false, err
	}
	if err := config.SavePersistedPort(portFile, p); err != nil {
		log.Warnf("failed to persist chosen port: %v", err)
	}
	return p, false, nil
}

// portFree reports whether port is currently bindable on this host by
// briefly binding and releasing it.
func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// fetchRelayInfo fetches /info from relayURL. Absence is not an error: it
// just means no invite code and no circuit listen address will be
// available for this run.
func fetchRelayInfo(relayURL string) *wireproto.RelayInfoResponse {
	if relayURL == "" {
		return nil
	}
	info, err := httpGetInfo(relayURL)
	if err != nil {
		log.Warnf("relay info unavailable at bootstrap: %v", err)
		return nil
	}
	return info
}

// startOverlay brings up the libp2p host: a WebSocket listen address, noise
// encryption, the default stream multiplexer, and, when relay info is
// available, auto-relay pointed at the known relay. No circuit-relay
// listen address is added; the circuit address appears only once
// auto-relay holds a reservation. If the OS reports the port is already in use, the
// persisted port file is deleted and the bind is retried exactly once
// with a fresh port.
func startOverlay(id identity.Identity, port int, portFile string, info *wireproto.RelayInfoResponse) (host.Host, int, error) {
	h, err := buildHost(id, port, info)
	if err == nil {
		return h, port, nil
	}
	if !isAddrInUse(err) {
		return nil, 0, err
	}

	// The persisted port raced with another bind; drop it so neither this
	// retry nor the next run trusts it.
	if derr := config.DeletePersistedPort(portFile); derr != nil {
		log.Warnf("failed to delete persisted port file: %v", derr)
	}
	newPort, perr := freePort()
	if perr != nil {
		return nil, 0, fmt.Errorf("bind retry: %w (original error: %v)", perr, err)
	}
	h, err = buildHost(id, newPort, info)
	if err != nil {
		return nil, 0, fmt.Errorf("bind retry on port %d: %w", newPort, err)
	}
	return h, newPort, nil
}

// isAddrInUse reports whether err looks like a bind failure due to the
// port already being in use. libp2p doesn't expose a typed sentinel for
// this, so match on the underlying syscall error text.
func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}

func buildHost(id identity.Identity, port int, info *wireproto.RelayInfoResponse) (host.Host, error) {
	listenAddrs := []ma.Multiaddr{}
	wsAddr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d/ws", port))
	if err != nil {
		return nil, err
	}
	listenAddrs = append(listenAddrs, wsAddr)

	opts := []libp2p.Option{
		libp2p.Identity(id.PrivateKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Transport(websocket.New),
		libp2p.EnableRelay(),
	}

	if info != nil && info.ExternalRelayAddr != "" {
		if ai, err := relayAddrInfo(info.ExternalRelayAddr); err == nil {
			opts = append(opts,
				libp2p.EnableAutoRelayWithStaticRelays([]peer.AddrInfo{ai},
					autorelay.WithBootDelay(0),
				),
			)
		} else {
			log.Warnf("invalid relay address from /info, skipping autorelay: %v", err)
		}
	}

	return libp2p.New(opts...)
}

// relayAddrInfo parses a multiaddr ending in /p2p/<id> into an AddrInfo.
func relayAddrInfo(addrStr string) (peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(addrStr)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	ai, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	return *ai, nil
}

func (n *Node) registerChatHandler() {
	n.Host.SetStreamHandler(protocol.ID(wireproto.ChatProtoID), func(s network.Stream) {
		n.handleChatStream(s)
	})
}

// RelayInfo returns the relay info captured at bootstrap (or refreshed by
// reconnection), or nil if no relay has ever answered /info. Guarded by
// relayMu since the reconnect loop updates it from its own goroutine.
func (n *Node) RelayInfo() *wireproto.RelayInfoResponse {
	n.relayMu.Lock()
	defer n.relayMu.Unlock()
	return n.relayInfo
}

func (n *Node) setRelayInfo(info *wireproto.RelayInfoResponse) {
	n.relayMu.Lock()
	n.relayInfo = info
	n.relayMu.Unlock()
}

// InviteCode returns the most recently registered invite code, or "" if
// registration hasn't succeeded yet.
func (n *Node) InviteCode() string {
	n.relayMu.Lock()
	defer n.relayMu.Unlock()
	return n.inviteCode
}

func (n *Node) setInviteCode(code string) {
	n.relayMu.Lock()
	n.inviteCode = code
	n.relayMu.Unlock()
}

// Close stops the overlay host and releases its relay reservation.
func (n *Node) Close() error {
	if n.mdnsService != nil {
		_ = n.mdnsService.Close()
	}
	if n.KnownPeers != nil {
		_ = n.KnownPeers.Close()
	}
	return n.Host.Close()
}
