package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/concord-chat/concord/internal/wireproto"
)

// sendTo implements the tiered outbound strategy: a direct stream to a
// currently-connected peer, falling through to the relay-forwarded HTTP
// queue on any failure.
func (n *Node) sendTo(ctx context.Context, peerID, channelID, data string) error {
	if n.isConnected(peerID) {
		if err := n.sendDirect(peerID, channelID, data); err == nil {
			n.Stats.IncSent()
			return nil
		}
		// Fall through to relay queue.
	}

	if err := n.sendViaRelay(ctx, peerID, channelID, data); err != nil {
		n.Stats.IncSendFail()
		return fmt.Errorf("send to %s: %w", peerID, err)
	}
	n.Stats.IncSent()
	return nil
}

func (n *Node) isConnected(peerID string) bool {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return false
	}
	return n.Host.Network().Connectedness(pid) == network.Connected
}

// sendDirect opens a chat-protocol stream to peerID and writes one
// envelope, allowed even over a limited (relay-circuit) connection.
func (n *Node) sendDirect(peerID, channelID, data string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return err
	}

	s, err := n.Host.NewStream(network.WithAllowLimitedConn(context.Background(), "chat"), pid, protocol.ID(wireproto.ChatProtoID))
	if err != nil {
		return err
	}
	defer s.Close()

	env := wireproto.ChatEnvelope{ChannelID: channelID, Data: data}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.Write(append(b, '\n'))
	return err
}

// broadcastTargets computes the union of directly-connected peers and
// known chat peers, excluding the relay and self.
func (n *Node) broadcastTargets(relayPeerID string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(id string) {
		if id == "" || id == relayPeerID || id == n.Host.ID().String() {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, c := range n.Host.Network().Conns() {
		add(c.RemotePeer().String())
	}
	for _, id := range n.KnownChat.All() {
		add(id)
	}
	return out
}

// broadcast sends payload to every broadcast target in parallel, logging
// each target's outcome.
func (n *Node) broadcast(ctx context.Context, channelID, data, relayPeerID string) {
	targets := n.broadcastTargets(relayPeerID)

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			if err := n.sendTo(ctx, peerID, channelID, data); err != nil {
				log.Warnf("broadcast to %s failed: %v", peerID, err)
			}
		}(target)
	}
	wg.Wait()
}
