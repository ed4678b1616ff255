package peer

import "testing"

func TestKnownChatPeersAddHasAll(t *testing.T) {
	k := newKnownChatPeers()
	if k.Has("QmPeerA") {
		t.Fatal("expected empty set to not contain anything")
	}

	k.Add("QmPeerA")
	k.Add("QmPeerB")
	k.Add("QmPeerA") // duplicate add is a no-op

	if !k.Has("QmPeerA") || !k.Has("QmPeerB") {
		t.Fatal("expected both added peers to be present")
	}

	all := k.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 distinct peers, got %d: %v", len(all), all)
	}
}
