package relay

import "testing"

func TestRegisterPeerIsIdempotent(t *testing.T) {
	r := NewRegistry()
	code1 := r.RegisterPeer("peer-A")
	code2 := r.RegisterPeer("peer-A")
	if code1 != code2 {
		t.Fatalf("expected re-registration to return the same code, got %q and %q", code1, code2)
	}
	if r.CodeCount() != 1 {
		t.Fatalf("expected exactly one code, got %d", r.CodeCount())
	}
}

func TestRegisterPeerDistinctCodesPerPeer(t *testing.T) {
	r := NewRegistry()
	codeA := r.RegisterPeer("peer-A")
	codeB := r.RegisterPeer("peer-B")
	if codeA == codeB {
		t.Fatalf("expected distinct codes, both were %q", codeA)
	}
}

func TestLookupCodeBijection(t *testing.T) {
	r := NewRegistry()
	code := r.RegisterPeer("peer-A")

	entry, ok := r.LookupCode(code)
	if !ok {
		t.Fatalf("expected lookup of %q to succeed", code)
	}
	if entry.PeerID != "peer-A" {
		t.Fatalf("expected peer-A, got %q", entry.PeerID)
	}

	if _, ok := r.LookupCode("ZZZZ-ZZZZ"); ok {
		t.Fatal("expected lookup of unknown code to fail")
	}
}

func TestLookupCodeIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	code := r.RegisterPeer("peer-A")

	lower := make([]byte, len(code))
	for i, c := range []byte(code) {
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		lower[i] = c
	}

	entry, ok := r.LookupCode(string(lower))
	if !ok || entry.PeerID != "peer-A" {
		t.Fatalf("expected case-insensitive lookup to resolve peer-A, got %+v ok=%v", entry, ok)
	}
}

func TestSweepExpiresStaleCodesAndMaintainsBijection(t *testing.T) {
	r := NewRegistry()
	code := r.RegisterPeer("peer-A")

	r.mu.Lock()
	r.codeToEntry[code].LastSeenMs -= (CodeTTL.Milliseconds() + 1)
	r.mu.Unlock()

	r.Sweep()

	if _, ok := r.LookupCode(code); ok {
		t.Fatal("expected expired code to be gone after sweep")
	}
	r.mu.Lock()
	_, stillMapped := r.peerToCode["peer-A"]
	r.mu.Unlock()
	if stillMapped {
		t.Fatal("expected reverse peerToCode mapping to be cleared by sweep too")
	}
}

func TestSweepKeepsFreshCodes(t *testing.T) {
	r := NewRegistry()
	code := r.RegisterPeer("peer-A")

	r.Sweep()

	if _, ok := r.LookupCode(code); !ok {
		t.Fatal("expected a freshly registered code to survive a sweep")
	}
}
