package peer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/concord-chat/concord/internal/wireproto"
)

// TestChatStreamRoundTrip exercises the real stream path end to end: two
// in-memory libp2p hosts (no listen addrs given explicitly — libp2p picks
// ephemeral loopback-reachable ports) dial each other, one opens a
// chat-protocol stream and writes an envelope, and the other's registered
// stream handler must parse and emit it.
func TestChatStreamRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostA, err := libp2p.New()
	if err != nil {
		t.Fatalf("create host A: %v", err)
	}
	defer hostA.Close()

	hostB, err := libp2p.New()
	if err != nil {
		t.Fatalf("create host B: %v", err)
	}
	defer hostB.Close()

	received := make(chan IncomingMessage, 1)
	nodeA := &Node{Host: hostA, emitMessage: func(m IncomingMessage) { received <- m }}
	nodeA.registerChatHandler()

	if err := hostB.Connect(ctx, peer.AddrInfo{ID: hostA.ID(), Addrs: hostA.Addrs()}); err != nil {
		t.Fatalf("connect B->A: %v", err)
	}

	nodeB := &Node{Host: hostB}
	if err := nodeB.sendDirect(hostA.ID().String(), "general", "hello over the wire"); err != nil {
		t.Fatalf("sendDirect: %v", err)
	}

	select {
	case msg := <-received:
		if msg.ChannelID != "general" || msg.Data != "hello over the wire" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.From != hostB.ID().String() {
			t.Fatalf("expected From=%s, got %s", hostB.ID(), msg.From)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for chat message")
	}
}

// TestChatStreamMultipleEnvelopesOnOneStream confirms a single stream can
// carry more than one newline-delimited envelope.
func TestChatStreamMultipleEnvelopesOnOneStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostA, err := libp2p.New()
	if err != nil {
		t.Fatalf("create host A: %v", err)
	}
	defer hostA.Close()

	hostB, err := libp2p.New()
	if err != nil {
		t.Fatalf("create host B: %v", err)
	}
	defer hostB.Close()

	received := make(chan IncomingMessage, 2)
	nodeA := &Node{Host: hostA, emitMessage: func(m IncomingMessage) { received <- m }}
	nodeA.registerChatHandler()

	if err := hostB.Connect(ctx, peer.AddrInfo{ID: hostA.ID(), Addrs: hostA.Addrs()}); err != nil {
		t.Fatalf("connect B->A: %v", err)
	}

	pid, err := peer.Decode(hostA.ID().String())
	if err != nil {
		t.Fatalf("decode peer id: %v", err)
	}
	s, err := hostB.NewStream(ctx, pid, wireproto.ChatProtoID)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	for _, payload := range []string{"one", "two"} {
		env := wireproto.ChatEnvelope{ChannelID: "c", Data: payload}
		b, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := s.Write(append(b, '\n')); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("timed out waiting for chat messages")
		}
	}
}
