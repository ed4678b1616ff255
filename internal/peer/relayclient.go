package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/p2p/net/swarm"
	relayv2client "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"

	"github.com/concord-chat/concord/internal/wireproto"
)

const (
	registerInitialDelay = 3 * time.Second
	registerRetryDelay   = 10 * time.Second
	pollInterval         = 1500 * time.Millisecond
	reconnectInitial     = 5 * time.Second
	reconnectSteady      = 15 * time.Second
	maxLoggedPollErrors  = 3
)

var httpClient = &http.Client{Timeout: fetchTimeout}

func httpGetInfo(relayURL string) (*wireproto.RelayInfoResponse, error) {
	var out wireproto.RelayInfoResponse
	if err := httpGetJSON(relayURL+"/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func httpGetJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sendViaRelay POSTs a single message to the relay's /send route.
func (n *Node) sendViaRelay(ctx context.Context, to, channelID, data string) error {
	if n.relayURL == "" {
		return fmt.Errorf("no relay configured")
	}

	body, err := json.Marshal(wireproto.RelaySendRequest{
		To:        to,
		From:      n.Host.ID().String(),
		ChannelID: channelID,
		Data:      data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.relayURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay /send returned %s: %s", resp.Status, string(b))
	}
	return nil
}

// lookupInviteCode resolves a human-shareable code via the relay's
// /lookup route. Codes are case-insensitive on the wire but canonically
// uppercase, so lowercase input is normalized before the request.
func (n *Node) lookupInviteCode(code string) (wireproto.RelayLookupResponse, error) {
	var out wireproto.RelayLookupResponse
	if n.relayURL == "" {
		return out, fmt.Errorf("no relay configured")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	err := httpGetJSON(fmt.Sprintf("%s/lookup?code=%s", n.relayURL, code), &out)
	return out, err
}

// RunRegistrationLoop registers this peer's invite code with the relay,
// retrying every registerRetryDelay until it succeeds, and calls onCode
// once registration succeeds.
func (n *Node) RunRegistrationLoop(ctx context.Context, onCode func(code string)) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(registerInitialDelay):
	}

	for {
		code, err := n.register()
		if err == nil {
			n.setInviteCode(code)
			n.diag("registered invite code %s", code)
			onCode(code)
			return
		}
		log.Warnf("invite-code registration failed, retrying: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(registerRetryDelay):
		}
	}
}

func (n *Node) register() (string, error) {
	if n.relayURL == "" {
		return "", fmt.Errorf("no relay configured")
	}
	var out wireproto.RelayRegisterResponse
	url := fmt.Sprintf("%s/register?peerId=%s", n.relayURL, n.Host.ID().String())
	if err := httpGetJSON(url, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// RunPollLoop polls the relay's /poll route every pollInterval and invokes
// onMessage for each queued message delivered, unwrapping a double-encoded
// payload when present.
func (n *Node) RunPollLoop(ctx context.Context, onMessage func(IncomingMessage)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages, err := n.poll()
			if err != nil {
				consecutiveErrors++
				if consecutiveErrors <= maxLoggedPollErrors {
					log.Warnf("poll failed: %v", err)
				}
				continue
			}
			consecutiveErrors = 0
			for _, m := range messages {
				onMessage(unwrapQueuedMessage(m))
			}
		}
	}
}

func (n *Node) poll() ([]wireproto.RelayQueuedMessage, error) {
	if n.relayURL == "" {
		return nil, nil
	}
	var out wireproto.RelayPollResponse
	url := fmt.Sprintf("%s/poll?peerId=%s&since=0", n.relayURL, n.Host.ID().String())
	if err := httpGetJSON(url, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// unwrapQueuedMessage converts a relay-delivered message into the same
// IncomingMessage shape the direct chat handler emits. If data itself
// parses as a ChatEnvelope, the inner channelId/data take precedence —
// this happens when a sender serialized its chat envelope before handing
// it to the relay instead of splitting it into the /send request fields.
func unwrapQueuedMessage(m wireproto.RelayQueuedMessage) IncomingMessage {
	var inner wireproto.ChatEnvelope
	if err := json.Unmarshal([]byte(m.Data), &inner); err == nil && inner.ChannelID != "" {
		return IncomingMessage{ChannelID: inner.ChannelID, Data: inner.Data, From: m.From}
	}
	return IncomingMessage{ChannelID: m.ChannelID, Data: m.Data, From: m.From}
}

// RunReconnectOnDisconnect waits for relayPeerID to disconnect, then
// re-fetches relay info, redials the relay, and re-registers the invite
// code, with 5s/15s backoff, until ctx is cancelled.
func (n *Node) RunReconnectOnDisconnect(ctx context.Context, relayPeerID string, disconnected <-chan string) {
	delay := reconnectInitial
	for {
		select {
		case <-ctx.Done():
			return
		case peerID := <-disconnected:
			if peerID != relayPeerID {
				continue
			}
			n.reconnectRelay(ctx, &delay)
		}
	}
}

func (n *Node) reconnectRelay(ctx context.Context, delay *time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(*delay):
	}

	info := fetchRelayInfo(n.relayURL)
	if info == nil {
		n.diag("relay reconnect attempt failed: info unavailable")
		*delay = reconnectSteady
		return
	}
	n.setRelayInfo(info)

	ai, err := relayAddrInfo(info.ExternalRelayAddr)
	if err != nil {
		n.diag("relay reconnect failed: bad relay address %q: %v", info.ExternalRelayAddr, err)
		*delay = reconnectSteady
		return
	}

	// Autorelay's reservation-refresh failure path doesn't trigger a
	// reconnect on its own, so dial the relay explicitly: clear any dial
	// backoff left over from the disconnect, refresh the peerstore
	// addresses, and connect.
	if sw, ok := n.Host.Network().(*swarm.Swarm); ok {
		sw.Backoff().Clear(ai.ID)
	}
	n.Host.Peerstore().AddAddrs(ai.ID, ai.Addrs, 10*time.Minute)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = n.Host.Connect(connCtx, ai)
	cancel()
	if err != nil {
		n.diag("relay reconnect dial failed: %v", err)
		*delay = reconnectSteady
		return
	}

	// Kick-start the circuit reservation instead of waiting out
	// autorelay's backoff timer. A failure here is non-fatal: autorelay
	// retries on its own schedule once the connection is back.
	resCtx, resCancel := context.WithTimeout(ctx, connectTimeout)
	if _, resErr := relayv2client.Reserve(resCtx, n.Host, ai); resErr != nil {
		n.diag("relay reservation refresh failed: %v", resErr)
	}
	resCancel()

	if code, err := n.register(); err == nil {
		n.setInviteCode(code)
		n.diag("reconnected to relay, invite code %s", code)
		*delay = reconnectInitial
	} else {
		n.diag("relay reconnect re-registration failed: %v", err)
		*delay = reconnectSteady
	}
}
