package peer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
)

var inviteCodeRe = regexp.MustCompile(`^[A-Za-z0-9]{4}-[A-Za-z0-9]{4}$`)

const netStatsInterval = 5 * time.Second

// command is the newline-delimited JSON shape read from stdin.
type command struct {
	Cmd          string `json:"cmd"`
	ChannelID    string `json:"channelId"`
	Data         string `json:"data"`
	TargetPeerID string `json:"targetPeerId"`
	Address      string `json:"address"`
}

// Emitter writes newline-delimited JSON events to an output stream,
// serializing concurrent writers (the command loop, the chat handler, the
// relay client, and the connect/disconnect notifiee all emit from
// different goroutines).
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

func (e *Emitter) emit(event string, payload any) {
	line := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload}

	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.w.Write(b)
}

// emitMessage emits a "message" event for one delivered chat envelope,
// regardless of whether it arrived over a direct stream or the relay
// queue — both tiers converge on the same IncomingMessage shape.
func (e *Emitter) emitMessage(m IncomingMessage) {
	e.emit("message", m)
}

func (e *Emitter) Log(format string, args ...any) {
	e.emit("log", map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (e *Emitter) Error(message string) {
	e.emit("error", map[string]string{"error": message})
}

// Loop is the peer's command/event driver: it wires stdout event emission
// to node lifecycle callbacks, runs the registration, poll, net-stats and
// disconnect-reconnect background loops, and reads stdin commands until
// EOF or ctx cancellation.
type Loop struct {
	node        *Node
	emit        *Emitter
	relayPeerID string
}

func NewLoop(n *Node, emit *Emitter, relayPeerID string) *Loop {
	return &Loop{node: n, emit: emit, relayPeerID: relayPeerID}
}

// Run emits the ready event, starts background loops, auto-dials known
// peers, then blocks reading stdin commands until EOF, a signal, or ctx
// cancellation.
func (l *Loop) Run(ctx context.Context, stdin io.Reader) {
	n := l.node

	n.emitMessage = l.emit.emitMessage
	disconnected := make(chan string, 8)
	n.Host.Network().Notify(&connNotifiee{loop: l, disconnected: disconnected})

	l.emit.emit("ready", map[string]any{
		"peerId":      n.Host.ID().String(),
		"address":     LoopbackAddress(n.Host, n.Port),
		"lanAddress":  LANAddress(n.Host),
		"port":        n.Port,
		"isEphemeral": n.IsEphemeral,
		"inviteCode":  nil,
	})

	go n.RunRegistrationLoop(ctx, func(code string) {
		l.emit.emit("invite_code", map[string]string{"code": code})
	})
	go n.RunPollLoop(ctx, func(m IncomingMessage) {
		l.emit.emitMessage(m)
	})
	go n.RunReconnectOnDisconnect(ctx, l.relayPeerID, disconnected)
	go l.runNetStats(ctx)
	n.WatchCircuitAddr(ctx, func(hasCircuit bool) {
		if hasCircuit {
			l.emit.Log("circuit relay address available")
			return
		}
		l.emit.Log("circuit relay address lost")
		if l.relayPeerID != "" {
			// Losing the circuit address means the relay reservation is
			// gone even if libp2p hasn't yet fired a disconnect notification
			// for the relay peer itself; feed the reconnect path a synthetic
			// disconnect so it doesn't wait on that separate signal.
			select {
			case disconnected <- l.relayPeerID:
			default:
			}
		}
	})

	l.autoDialKnownPeers(ctx)

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			l.handleLine(ctx, line)
		}
	}
}

func (l *Loop) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var cmd command
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		l.emit.Log("malformed command: %v", err)
		return
	}

	switch cmd.Cmd {
	case "send":
		l.handleSend(ctx, cmd)
	case "dial":
		l.handleDial(ctx, cmd)
	case "status":
		l.handleStatus()
	default:
		l.emit.Log("unknown command: %s", cmd.Cmd)
	}
}

func (l *Loop) handleSend(ctx context.Context, cmd command) {
	n := l.node
	if cmd.TargetPeerID != "" {
		if err := n.sendTo(ctx, cmd.TargetPeerID, cmd.ChannelID, cmd.Data); err != nil {
			l.emit.Log("send to %s failed: %v", cmd.TargetPeerID, err)
		}
		return
	}
	n.broadcast(ctx, cmd.ChannelID, cmd.Data, l.relayPeerID)
}

func (l *Loop) handleDial(ctx context.Context, cmd command) {
	addr := strings.TrimSpace(cmd.Address)

	switch {
	case inviteCodeRe.MatchString(addr):
		l.dialByInviteCode(ctx, addr)
	case strings.HasPrefix(addr, "/"):
		l.dialByAddress(ctx, addr)
	default:
		l.emit.emit("dial_result", map[string]any{"ok": false, "error": "Invalid address"})
	}
}

func (l *Loop) dialByInviteCode(ctx context.Context, code string) {
	n := l.node
	entry, err := n.lookupInviteCode(code)
	if err != nil {
		l.emit.emit("dial_result", map[string]any{"ok": false, "error": err.Error()})
		return
	}

	n.KnownChat.Add(entry.PeerID)

	// A failed circuit dial is non-fatal: the peer stays reachable through
	// the relay's message queue.
	if ai, aerr := relayAddrInfo(entry.CircuitAddr); aerr == nil {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if cerr := n.Host.Connect(dialCtx, ai); cerr == nil && n.KnownPeers != nil {
			_ = n.KnownPeers.Add(entry.CircuitAddr, time.Now().UnixMilli())
		}
	}

	l.emit.emit("dial_result", map[string]any{"ok": true, "peerId": entry.PeerID})
}

func (l *Loop) dialByAddress(ctx context.Context, addr string) {
	n := l.node
	ai, err := relayAddrInfo(addr)
	if err != nil {
		l.emit.emit("dial_result", map[string]any{"ok": false, "error": err.Error()})
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := n.Host.Connect(dialCtx, ai); err != nil {
		l.emit.emit("dial_result", map[string]any{"ok": false, "error": err.Error()})
		return
	}
	n.KnownChat.Add(ai.ID.String())
	if n.KnownPeers != nil {
		_ = n.KnownPeers.Add(addr, time.Now().UnixMilli())
	}
	l.emit.emit("dial_result", map[string]any{"ok": true, "peerId": ai.ID.String()})
}

func (l *Loop) handleStatus() {
	n := l.node
	var conns []string
	for _, c := range n.Host.Network().Conns() {
		conns = append(conns, c.RemotePeer().String())
	}
	l.emit.emit("status", map[string]any{
		"peerId":         n.Host.ID().String(),
		"addresses":      addrStrings(n.Host.Addrs()),
		"circuitAddress": CircuitAddress(n.Host),
		"connected":      conns,
		"inviteCode":     n.InviteCode(),
		"isEphemeral":    n.IsEphemeral,
		"diagnostics":    n.Snapshot(),
	})
}

func (l *Loop) runNetStats(ctx context.Context) {
	ticker := time.NewTicker(netStatsInterval)
	defer ticker.Stop()
	n := l.node

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var conns []ConnDetail
			known := make(map[string]struct{})
			for _, c := range n.Host.Network().Conns() {
				conns = append(conns, ConnDetail{
					RemotePeerID: c.RemotePeer().String(),
					RemoteAddr:   c.RemoteMultiaddr().String(),
					Direction:    dirString(c.Stat().Direction),
					Streams:      len(c.GetStreams()),
				})
				known[c.RemotePeer().String()] = struct{}{}
			}
			for _, id := range n.KnownChat.All() {
				known[id] = struct{}{}
			}
			knownPeers := make([]string, 0, len(known))
			for id := range known {
				knownPeers = append(knownPeers, id)
			}
			l.emit.emit("net_stats", map[string]any{
				"port":           n.Port,
				"addresses":      addrStrings(n.Host.Addrs()),
				"circuitAddress": CircuitAddress(n.Host),
				"connections":    conns,
				"knownPeers":     knownPeers,
				"stats":          n.Stats.Snapshot(),
				"inviteCode":     n.InviteCode(),
			})
		}
	}
}

// autoDialKnownPeers dials every surviving persisted known peer once, on
// the first ready event of a session. Failures are silent.
func (l *Loop) autoDialKnownPeers(ctx context.Context) {
	if l.node.KnownPeers == nil {
		return
	}
	peers, err := l.node.KnownPeers.All()
	if err != nil {
		l.emit.Log("failed to load known peers: %v", err)
		return
	}
	for _, kp := range peers {
		ai, err := relayAddrInfo(kp.Address)
		if err != nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		_ = l.node.Host.Connect(dialCtx, ai)
		cancel()
	}
}

func addrStrings[T fmt.Stringer](addrs []T) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// connNotifiee tracks overlay connect/disconnect events: non-relay
// connects are folded into knownChatPeers; disconnects are never removed
// from it, and a disconnect from the relay peer is forwarded to the
// reconnect loop.
type connNotifiee struct {
	network.NoopNotifiee
	loop         *Loop
	disconnected chan<- string
}

func (c *connNotifiee) Connected(_ network.Network, conn network.Conn) {
	peerID := conn.RemotePeer().String()
	if peerID != c.loop.relayPeerID {
		c.loop.node.KnownChat.Add(peerID)
	}
	c.loop.node.diag("connected to %s (%s)", peerID, dirString(conn.Stat().Direction))
	c.loop.emit.emit("peer:connect", map[string]string{"peerId": peerID})
}

func (c *connNotifiee) Disconnected(_ network.Network, conn network.Conn) {
	peerID := conn.RemotePeer().String()
	c.loop.node.diag("disconnected from %s", peerID)
	c.loop.emit.emit("peer:disconnect", map[string]string{"peerId": peerID})
	select {
	case c.disconnected <- peerID:
	default:
	}
}
