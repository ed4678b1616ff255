package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/concord-chat/concord/internal/wireproto"
)

func newTestServer() (*Server, *Registry, *Queue) {
	registry := NewRegistry()
	queue := NewQueue()
	s := NewServer("127.0.0.1:0", registry, queue, "relay-peer-id",
		[]string{"/ip4/127.0.0.1/tcp/9090/ws"}, "/ip4/203.0.113.5/tcp/9090/ws", func() int { return 2 })
	return s, registry, queue
}

func TestHandleInfo(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	w := httptest.NewRecorder()
	s.handleInfo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out wireproto.RelayInfoResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.RelayPeerID != "relay-peer-id" {
		t.Fatalf("unexpected relayPeerId: %+v", out)
	}
}

func TestHandleRegisterRequiresPeerID(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/register", nil)
	w := httptest.NewRecorder()
	s.handleRegister(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing peerId, got %d", w.Code)
	}
}

func TestRegisterLookupRoundTrip(t *testing.T) {
	s, _, _ := newTestServer()

	regReq := httptest.NewRequest(http.MethodGet, "/register?peerId=QmPeerA", nil)
	regW := httptest.NewRecorder()
	s.handleRegister(regW, regReq)
	if regW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", regW.Code)
	}
	var regOut wireproto.RelayRegisterResponse
	if err := json.NewDecoder(regW.Body).Decode(&regOut); err != nil {
		t.Fatal(err)
	}
	if regOut.Code == "" {
		t.Fatal("expected a non-empty invite code")
	}

	lookupReq := httptest.NewRequest(http.MethodGet, "/lookup?code="+regOut.Code, nil)
	lookupW := httptest.NewRecorder()
	s.handleLookup(lookupW, lookupReq)
	if lookupW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", lookupW.Code)
	}
	var lookupOut wireproto.RelayLookupResponse
	if err := json.NewDecoder(lookupW.Body).Decode(&lookupOut); err != nil {
		t.Fatal(err)
	}
	if lookupOut.PeerID != "QmPeerA" {
		t.Fatalf("expected QmPeerA, got %q", lookupOut.PeerID)
	}
}

func TestHandleLookupUnknownCode(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/lookup?code=ZZZZ-ZZZZ", nil)
	w := httptest.NewRecorder()
	s.handleLookup(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", w.Code)
	}
}

func TestSendThenPollDeliversAndDrains(t *testing.T) {
	s, _, _ := newTestServer()

	body, _ := json.Marshal(wireproto.RelaySendRequest{
		To:        "QmPeerA",
		From:      "QmPeerB",
		ChannelID: "chan-1",
		Data:      "hello",
	})
	sendReq := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	sendW := httptest.NewRecorder()
	s.handleSend(sendW, sendReq)
	if sendW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", sendW.Code)
	}

	pollReq := httptest.NewRequest(http.MethodGet, "/poll?peerId=QmPeerA&since=0", nil)
	pollW := httptest.NewRecorder()
	s.handlePoll(pollW, pollReq)
	var pollOut wireproto.RelayPollResponse
	if err := json.NewDecoder(pollW.Body).Decode(&pollOut); err != nil {
		t.Fatal(err)
	}
	if len(pollOut.Messages) != 1 || pollOut.Messages[0].Data != "hello" {
		t.Fatalf("expected one queued message with data=hello, got %+v", pollOut.Messages)
	}

	pollW2 := httptest.NewRecorder()
	s.handlePoll(pollW2, pollReq)
	var pollOut2 wireproto.RelayPollResponse
	if err := json.NewDecoder(pollW2.Body).Decode(&pollOut2); err != nil {
		t.Fatal(err)
	}
	if len(pollOut2.Messages) != 0 {
		t.Fatalf("expected poll to be destructive, got %+v", pollOut2.Messages)
	}
}

func TestHandleHealthReportsCountsAndGoroutines(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	var out wireproto.RelayHealthResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "ok" {
		t.Fatalf("expected status ok, got %q", out.Status)
	}
	if out.Peers != 2 {
		t.Fatalf("expected peers=2, got %d", out.Peers)
	}
	if out.Goroutines <= 0 {
		t.Fatalf("expected a positive goroutine count, got %d", out.Goroutines)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/info", nil)
	w := httptest.NewRecorder()
	s.handleInfo(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
