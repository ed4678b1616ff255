package peer

import (
	"fmt"
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
)

func TestDirString(t *testing.T) {
	cases := map[network.Direction]string{
		network.DirInbound:  "inbound",
		network.DirOutbound: "outbound",
		network.DirUnknown:  "unknown",
	}
	for dir, want := range cases {
		if got := dirString(dir); got != want {
			t.Fatalf("dirString(%v) = %q, want %q", dir, got, want)
		}
	}
}

func TestNodeDiagPushesRingBuffer(t *testing.T) {
	n := &Node{diagLog: newDiagLog()}
	n.diag("hello %s", "world")

	entries := n.diagLog.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 diagnostic entry, got %d", len(entries))
	}
	if entries[0].Message != "hello world" {
		t.Fatalf("expected formatted message, got %q", entries[0].Message)
	}
	if entries[0].At == "" {
		t.Fatal("expected a non-empty timestamp")
	}
}

func TestDiagRingOverwritesOldest(t *testing.T) {
	r := newDiagRing(3)
	for i := 1; i <= 5; i++ {
		r.push(DiagEntry{Message: fmt.Sprintf("msg%d", i)})
	}

	got := r.snapshot()
	want := []string{"msg3", "msg4", "msg5"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDiagRingBelowCapacity(t *testing.T) {
	r := newDiagRing(4)
	r.push(DiagEntry{Message: "a"})
	r.push(DiagEntry{Message: "b"})

	got := r.snapshot()
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "b" {
		t.Fatalf("unexpected snapshot: %v", got)
	}
}
