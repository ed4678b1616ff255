package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MsgMaxPerPeer bounds each recipient's queue; oldest entries are evicted
// on overflow.
const MsgMaxPerPeer = 200

// MsgTTL is how long a queued message survives independent of poll
// activity.
const MsgTTL = 5 * time.Minute

// QueueSweepInterval is how often the background sweep removes expired
// messages.
const QueueSweepInterval = 60 * time.Second

// QueuedMessage is one store-and-forward entry. ID is a diagnostic
// correlation id, not a dedup key — delivery is best-effort and consumers
// dedup on identifiers carried inside the opaque Data field. It exists so
// relay logs can refer to a specific enqueued entry.
type QueuedMessage struct {
	ID        string
	From      string
	To        string
	ChannelID string
	Data      string
	TSMs      int64
}

// Queue is the relay's per-recipient store-and-forward mailbox: FIFO per
// recipient, bounded, TTL-expiring, destructively drained on poll. The
// relay has no persistent connection to push through, so delivery happens
// entirely through the recipient's own /poll requests.
type Queue struct {
	mu     sync.Mutex
	byPeer map[string][]QueuedMessage
}

// NewQueue creates an empty message queue.
func NewQueue() *Queue {
	return &Queue{byPeer: make(map[string][]QueuedMessage)}
}

// Enqueue appends a message to the recipient's sequence, evicting the
// oldest entry once the per-recipient cap is exceeded.
func (q *Queue) Enqueue(to, from, channelID, data string) {
	msg := QueuedMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		ChannelID: channelID,
		Data:      data,
		TSMs:      nowMillis(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seq := append(q.byPeer[to], msg)
	if len(seq) > MsgMaxPerPeer {
		seq = seq[len(seq)-MsgMaxPerPeer:]
	}
	q.byPeer[to] = seq
}

// Drain returns every message for peerID newer than since and younger
// than MsgTTL, then destructively clears the recipient's sequence
// regardless of how many entries were returned.
func (q *Queue) Drain(peerID string, since int64) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, ok := q.byPeer[peerID]
	if !ok {
		return nil
	}
	delete(q.byPeer, peerID)

	now := nowMillis()
	var out []QueuedMessage
	for _, m := range seq {
		if m.TSMs > since && now-m.TSMs < MsgTTL.Milliseconds() {
			out = append(out, m)
		}
	}
	return out
}

// Sweep removes messages older than MsgTTL from every recipient, dropping
// recipients whose sequence becomes empty.
func (q *Queue) Sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := nowMillis()
	for peerID, seq := range q.byPeer {
		kept := seq[:0:0]
		for _, m := range seq {
			if now-m.TSMs < MsgTTL.Milliseconds() {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(q.byPeer, peerID)
		} else {
			q.byPeer[peerID] = kept
		}
	}
}

// RecipientCount reports how many peers currently have queued messages,
// used by /health.
func (q *Queue) RecipientCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byPeer)
}

// RunSweeper starts a background sweep timer that stops when stop is
// closed.
func (q *Queue) RunSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(QueueSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.Sweep()
		}
	}
}
