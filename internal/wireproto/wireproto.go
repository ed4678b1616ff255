// Package wireproto collects the protocol identifiers and wire-format
// types shared by the peer and relay processes: a single source of truth
// for stream protocol IDs and the JSON shapes that cross a process
// boundary.
package wireproto

import "time"

const (
	// ChatProtoID is the libp2p stream protocol for direct chat delivery.
	ChatProtoID = "/concord/chat/1.0.0"

	// MdnsTag is the service tag peers advertise/discover over mDNS.
	MdnsTag = "concord-mdns"
)

// ChatEnvelope is the newline-terminated JSON wire format exchanged on a
// ChatProtoID stream.
type ChatEnvelope struct {
	ChannelID string `json:"channelId"`
	Data      string `json:"data"`
}

// RelaySendRequest is the JSON body POSTed to the relay's /send route.
type RelaySendRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	ChannelID string `json:"channelId"`
	Data      string `json:"data"`
}

// RelayQueuedMessage is one entry of the JSON array returned by /poll. ID
// is a relay-assigned diagnostic correlation id; dedup is left to
// identifiers carried inside the opaque Data field.
type RelayQueuedMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	ChannelID string `json:"channelId"`
	Data      string `json:"data"`
	TS        int64  `json:"ts"`
}

// RelayPollResponse is the body of a successful /poll response.
type RelayPollResponse struct {
	Messages []RelayQueuedMessage `json:"messages"`
}

// RelayInfoResponse is the body of a successful /info response.
type RelayInfoResponse struct {
	RelayPeerID       string   `json:"relayPeerId"`
	RelayAddrs        []string `json:"relayAddrs"`
	ExternalRelayAddr string   `json:"externalRelayAddr"`
}

// RelayRegisterResponse is the body of a successful /register response.
type RelayRegisterResponse struct {
	Code        string `json:"code"`
	RelayPeerID string `json:"relayPeerId"`
	RelayAddr   string `json:"relayAddr"`
	CircuitAddr string `json:"circuitAddr"`
}

// RelayLookupResponse is the body of a successful /lookup response.
type RelayLookupResponse struct {
	PeerID      string `json:"peerId"`
	RelayAddr   string `json:"relayAddr"`
	CircuitAddr string `json:"circuitAddr"`
}

// RelayHealthResponse is the body of /health.
type RelayHealthResponse struct {
	Status      string `json:"status"`
	RelayPeerID string `json:"relayPeerId"`
	Peers       int    `json:"peers"`
	Codes       int    `json:"codes"`
	Queued      int    `json:"queued"`
	Uptime      string `json:"uptime"`
	Goroutines  int    `json:"goroutines"`
}

// ErrorResponse is the JSON body of any non-2xx relay HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// unit used throughout the wire protocol.
func NowMillis() int64 { return time.Now().UnixMilli() }
