package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
)

// diagHistory is how many recent diagnostic lines the ring buffer keeps.
const diagHistory = 200

// DiagEntry is one line of the peer's recent-activity log, surfaced by the
// status command.
type DiagEntry struct {
	At      string `json:"at"`
	Message string `json:"message"`
}

// diagRing is a fixed-capacity circular buffer of DiagEntry, overwriting
// the oldest entry once full. Specialized to DiagEntry rather than kept
// generic: this package is its only consumer and a diagnostic log is the
// only shape it ever needs to hold.
type diagRing struct {
	mu    sync.Mutex
	buf   []DiagEntry
	head  int
	count int
}

func newDiagRing(capacity int) *diagRing {
	return &diagRing{buf: make([]DiagEntry, capacity)}
}

// push appends an entry, overwriting the oldest if the ring is full.
func (r *diagRing) push(e DiagEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = e
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// snapshot returns a copy of the buffered entries, oldest first.
func (r *diagRing) snapshot() []DiagEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiagEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// diag records a timestamped diagnostic line in the ring buffer and logs
// it.
func (n *Node) diag(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Info(msg)
	n.diagLog.push(DiagEntry{At: time.Now().Format("15:04:05"), Message: msg})
}

// DiagSnapshot reports the peer's connectivity and recent activity for the
// status command: connected peers with connection direction and stream
// count, whether a circuit-relay address is held, and the recent
// diagnostic log.
type DiagSnapshot struct {
	PeerID         string       `json:"peerId"`
	UptimeSeconds  int64        `json:"uptimeSeconds"`
	ConnectedPeers []ConnDetail `json:"connectedPeers"`
	HasCircuitAddr bool         `json:"hasCircuitAddr"`
	Logs           []DiagEntry  `json:"logs"`
}

// ConnDetail is one tracked overlay connection.
type ConnDetail struct {
	RemotePeerID string `json:"remotePeerId"`
	RemoteAddr   string `json:"remoteAddr"`
	Direction    string `json:"direction"`
	Streams      int    `json:"streams"`
}

// Snapshot builds a DiagSnapshot from the host's live connection table and
// the diagnostic ring buffer.
func (n *Node) Snapshot() DiagSnapshot {
	var conns []ConnDetail
	for _, c := range n.Host.Network().Conns() {
		conns = append(conns, ConnDetail{
			RemotePeerID: c.RemotePeer().String(),
			RemoteAddr:   c.RemoteMultiaddr().String(),
			Direction:    dirString(c.Stat().Direction),
			Streams:      len(c.GetStreams()),
		})
	}

	return DiagSnapshot{
		PeerID:         n.Host.ID().String(),
		UptimeSeconds:  int64(time.Since(n.startedAt).Seconds()),
		ConnectedPeers: conns,
		HasCircuitAddr: n.hasCircuitAddr(),
		Logs:           n.diagLog.snapshot(),
	}
}

// newDiagLog allocates the peer's diagnostic ring buffer.
func newDiagLog() *diagRing {
	return newDiagRing(diagHistory)
}

// dirString converts a network.Direction to a human-readable string.
func dirString(d network.Direction) string {
	switch d {
	case network.DirInbound:
		return "inbound"
	case network.DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
