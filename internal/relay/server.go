package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/concord-chat/concord/internal/wireproto"
)

// Server is the relay's single HTTP listener: invite-code registration and
// lookup, the store-and-forward poll queue, and health/info endpoints. A
// bare http.ServeMux with one handler per route; every response is JSON.
type Server struct {
	registry       *Registry
	queue          *Queue
	relayPeerID    string
	relayAddrs     []string
	externalAddr   string
	connectedPeers func() int
	startedAt      time.Time
	srv            *http.Server
}

// NewServer wires a relay HTTP server around an already-running registry,
// queue, and circuit-relay host identity. connectedPeers reports the
// circuit host's current connection count for /health.
func NewServer(addr string, registry *Registry, queue *Queue, relayPeerID string, relayAddrs []string, externalAddr string, connectedPeers func() int) *Server {
	s := &Server{
		registry:       registry,
		queue:          queue,
		relayPeerID:    relayPeerID,
		relayAddrs:     relayAddrs,
		externalAddr:   externalAddr,
		connectedPeers: connectedPeers,
		startedAt:      time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/info", s.withCORS(s.handleInfo))
	mux.HandleFunc("/register", s.withCORS(s.handleRegister))
	mux.HandleFunc("/lookup", s.withCORS(s.handleLookup))
	mux.HandleFunc("/send", s.withCORS(s.handleSend))
	mux.HandleFunc("/poll", s.withCORS(s.handlePoll))
	mux.HandleFunc("/health", s.withCORS(s.handleHealth))

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe runs the HTTP server until it errors or is shut down.
func (s *Server) ListenAndServe() error {
	log.Infof("relay HTTP API listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops the HTTP server immediately, closing active connections
// without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.srv.Close()
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wireproto.ErrorResponse{Error: msg})
}

func (s *Server) circuitAddr(peerID string) string {
	return s.externalAddr + "/p2p-circuit/p2p/" + peerID
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, wireproto.RelayInfoResponse{
		RelayPeerID:       s.relayPeerID,
		RelayAddrs:        s.relayAddrs,
		ExternalRelayAddr: s.externalAddr,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	peerID := r.URL.Query().Get("peerId")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "missing peerId")
		return
	}

	code := s.registry.RegisterPeer(peerID)
	writeJSON(w, http.StatusOK, wireproto.RelayRegisterResponse{
		Code:        code,
		RelayPeerID: s.relayPeerID,
		RelayAddr:   s.externalAddr,
		CircuitAddr: s.circuitAddr(peerID),
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	entry, ok := s.registry.LookupCode(code)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown code")
		return
	}
	writeJSON(w, http.StatusOK, wireproto.RelayLookupResponse{
		PeerID:      entry.PeerID,
		RelayAddr:   s.externalAddr,
		CircuitAddr: s.circuitAddr(entry.PeerID),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req wireproto.RelaySendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.To == "" || req.From == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "missing field")
		return
	}

	s.queue.Enqueue(req.To, req.From, req.ChannelID, req.Data)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	peerID := r.URL.Query().Get("peerId")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "missing peerId")
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		fmt.Sscanf(v, "%d", &since)
	}

	drained := s.queue.Drain(peerID, since)
	messages := make([]wireproto.RelayQueuedMessage, 0, len(drained))
	for _, m := range drained {
		messages = append(messages, wireproto.RelayQueuedMessage{
			ID:        m.ID,
			From:      m.From,
			ChannelID: m.ChannelID,
			Data:      m.Data,
			TS:        m.TSMs,
		})
	}
	writeJSON(w, http.StatusOK, wireproto.RelayPollResponse{Messages: messages})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	peers := 0
	if s.connectedPeers != nil {
		peers = s.connectedPeers()
	}
	writeJSON(w, http.StatusOK, wireproto.RelayHealthResponse{
		Status:      "ok",
		RelayPeerID: s.relayPeerID,
		Peers:       peers,
		Codes:       s.registry.CodeCount(),
		Queued:      s.queue.RecipientCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
	})
}
