package relay

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/concord-chat/concord/internal/wireproto"
)

// CodeTTL is how long an invite code survives without a touching
// register/lookup call.
const CodeTTL = 24 * time.Hour

// CleanupInterval is how often the registry sweeps expired codes.
const CleanupInterval = time.Hour

// codeAlphabet excludes O/0/I/1 so a spoken or handwritten code is
// unambiguous.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// InviteRegistryEntry is the value half of the code→peer mapping.
type InviteRegistryEntry struct {
	PeerID     string
	LastSeenMs int64
}

// Registry is the relay's invite-code directory: a bijection between
// short codes and peer-ids, each entry refreshed by traffic and expired
// by a background sweep. Kept in memory — the registry is single-process
// and rebuilds naturally as peers re-register.
type Registry struct {
	mu         sync.Mutex
	codeToEntry map[string]*InviteRegistryEntry
	peerToCode  map[string]string
}

// NewRegistry creates an empty invite-code registry.
func NewRegistry() *Registry {
	return &Registry{
		codeToEntry: make(map[string]*InviteRegistryEntry),
		peerToCode:  make(map[string]string),
	}
}

// RegisterPeer returns a stable invite code for peerID: if peerID already
// holds a live code, its lastSeen is refreshed and that code is returned;
// otherwise a fresh code is generated and both directions of the mapping
// are inserted.
func (r *Registry) RegisterPeer(peerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMillis()
	if code, ok := r.peerToCode[peerID]; ok {
		if entry, ok := r.codeToEntry[code]; ok {
			entry.LastSeenMs = now
			return code
		}
		// Stale forward mapping whose entry already expired; fall through
		// and mint a new code.
		delete(r.peerToCode, peerID)
	}

	code := r.generateUnusedCodeLocked()
	r.codeToEntry[code] = &InviteRegistryEntry{PeerID: peerID, LastSeenMs: now}
	r.peerToCode[peerID] = code
	return code
}

// LookupCode resolves a code to its registered entry, case-insensitively,
// and refreshes lastSeenMs on a hit — any traffic against a code keeps it
// alive, not only its owner's re-registration.
func (r *Registry) LookupCode(code string) (InviteRegistryEntry, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.codeToEntry[code]
	if !ok {
		return InviteRegistryEntry{}, false
	}
	entry.LastSeenMs = nowMillis()
	return *entry, true
}

// Sweep removes entries untouched for longer than CodeTTL, maintaining
// the codeToEntry/peerToCode bijection invariant.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMillis()
	for code, entry := range r.codeToEntry {
		if now-entry.LastSeenMs > CodeTTL.Milliseconds() {
			delete(r.codeToEntry, code)
			if r.peerToCode[entry.PeerID] == code {
				delete(r.peerToCode, entry.PeerID)
			}
		}
	}
}

// CodeCount reports the number of live codes, used by /health.
func (r *Registry) CodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codeToEntry)
}

// RunSweeper starts a background sweep timer that stops when stop is
// closed.
func (r *Registry) RunSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// generateUnusedCodeLocked draws random codes from codeAlphabet until one
// isn't already present in codeToEntry. Caller must hold r.mu.
func (r *Registry) generateUnusedCodeLocked() string {
	for {
		code := randomCode()
		if _, exists := r.codeToEntry[code]; !exists {
			return code
		}
	}
}

// randomCode draws an 8-character "XXXX-XXXX" code from codeAlphabet
// using crypto/rand, falling back to a time-seeded draw only if the CSPRNG
// is unavailable.
func randomCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(now >> (uint(i) * 8))
		}
	}
	b := make([]byte, 9)
	for i := 0; i < 4; i++ {
		b[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	b[4] = '-'
	for i := 4; i < 8; i++ {
		b[i+1] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(b)
}

func nowMillis() int64 { return wireproto.NowMillis() }
