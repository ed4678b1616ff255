package peer

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/concord-chat/concord/internal/wireproto"
)

// IncomingMessage is the event payload emitted to the UI for each complete
// chat envelope received on an inbound stream.
type IncomingMessage struct {
	ChannelID string `json:"channelId"`
	Data      string `json:"data"`
	From      string `json:"from"`
}

// handleChatStream implements the inbound side of the chat protocol: read
// chunks until the stream closes, split on newline, parse each complete
// line as a ChatEnvelope, and emit a message event per envelope. Errors
// that indicate ordinary stream teardown (abort/reset) are suppressed.
func (n *Node) handleChatStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer().String()
	reader := bufio.NewReader(s)
	var buf strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		buf.WriteString(chunk)
		if err != nil {
			if err != io.EOF && !isStreamTeardown(err) {
				log.Warnf("chat stream read error from %s: %v", remote, err)
			}
			break
		}
		n.drainCompleteLines(&buf, remote)
	}

	n.drainCompleteLines(&buf, remote)
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		n.parseAndEmit(rest, remote)
	}
}

// drainCompleteLines extracts and processes every "\n"-terminated line
// currently in buf, leaving any trailing partial line in place.
func (n *Node) drainCompleteLines(buf *strings.Builder, remote string) {
	s := buf.String()
	idx := strings.LastIndexByte(s, '\n')
	if idx < 0 {
		return
	}
	complete, rest := s[:idx+1], s[idx+1:]
	buf.Reset()
	buf.WriteString(rest)

	for _, line := range strings.Split(strings.TrimRight(complete, "\n"), "\n") {
		if line == "" {
			continue
		}
		n.parseAndEmit(line, remote)
	}
}

// isStreamTeardown reports whether err is one of the ordinary stream
// termination signals ("stream reset", "stream aborted") that must not be
// logged as failures.
func isStreamTeardown(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "reset") || strings.Contains(msg, "abort")
}

func (n *Node) parseAndEmit(line, remote string) {
	var env wireproto.ChatEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		n.Stats.IncRecvFail()
		log.Warnf("malformed chat envelope from %s: %v", remote, err)
		return
	}
	n.Stats.IncRecv()
	if n.emitMessage != nil {
		n.emitMessage(IncomingMessage{ChannelID: env.ChannelID, Data: env.Data, From: remote})
	}
}
