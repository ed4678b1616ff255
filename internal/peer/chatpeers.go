package peer

import "sync"

// knownChatPeers is the in-memory set of peer-ids the node treats as send
// targets even when not currently connected, so relay-forwarded messages
// can still reach peers behind NAT.
type knownChatPeers struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newKnownChatPeers() *knownChatPeers {
	return &knownChatPeers{set: make(map[string]struct{})}
}

func (k *knownChatPeers) Add(peerID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.set[peerID] = struct{}{}
}

func (k *knownChatPeers) Has(peerID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.set[peerID]
	return ok
}

func (k *knownChatPeers) All() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.set))
	for id := range k.set {
		out = append(out, id)
	}
	return out
}
