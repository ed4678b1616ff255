package relay

import (
	"fmt"
	"testing"
)

func TestEnqueueDrainFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue("peer-A", "peer-B", "chan-1", "one")
	q.Enqueue("peer-A", "peer-B", "chan-1", "two")
	q.Enqueue("peer-A", "peer-B", "chan-1", "three")

	msgs := q.Drain("peer-A", 0)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"one", "two", "three"}
	for i, m := range msgs {
		if m.Data != want[i] {
			t.Fatalf("expected FIFO order %v, got %q at index %d", want, m.Data, i)
		}
		if m.ID == "" {
			t.Fatalf("expected message %d to have a non-empty diagnostic id", i)
		}
	}
}

func TestDrainIsDestructive(t *testing.T) {
	q := NewQueue()
	q.Enqueue("peer-A", "peer-B", "chan-1", "payload")

	first := q.Drain("peer-A", 0)
	if len(first) != 1 {
		t.Fatalf("expected 1 message on first drain, got %d", len(first))
	}
	second := q.Drain("peer-A", 0)
	if len(second) != 0 {
		t.Fatalf("expected drain to be destructive, got %d messages on second drain", len(second))
	}
}

func TestDrainUnknownRecipientReturnsNil(t *testing.T) {
	q := NewQueue()
	if msgs := q.Drain("nobody", 0); msgs != nil {
		t.Fatalf("expected nil for unknown recipient, got %v", msgs)
	}
}

func TestDrainRespectsSinceFilter(t *testing.T) {
	q := NewQueue()
	q.Enqueue("peer-A", "peer-B", "chan-1", "payload")

	q.mu.Lock()
	ts := q.byPeer["peer-A"][0].TSMs
	q.mu.Unlock()

	msgs := q.Drain("peer-A", ts)
	if len(msgs) != 0 {
		t.Fatalf("expected since filter to exclude the message itself, got %d", len(msgs))
	}
}

func TestDrainExcludesExpiredMessages(t *testing.T) {
	q := NewQueue()
	q.Enqueue("peer-A", "peer-B", "chan-1", "expired")
	q.Enqueue("peer-A", "peer-B", "chan-1", "fresh")

	q.mu.Lock()
	q.byPeer["peer-A"][0].TSMs -= (MsgTTL.Milliseconds() + 1)
	q.mu.Unlock()

	msgs := q.Drain("peer-A", 0)
	if len(msgs) != 1 || msgs[0].Data != "fresh" {
		t.Fatalf("expected only the fresh message to survive drain, got %+v", msgs)
	}
}

func TestEnqueueEvictsOldestOnOverflow(t *testing.T) {
	q := NewQueue()
	total := MsgMaxPerPeer + 5
	for i := 0; i < total; i++ {
		q.Enqueue("peer-A", "peer-B", "chan-1", fmt.Sprintf("msg-%d", i))
	}

	msgs := q.Drain("peer-A", 0)
	if len(msgs) != MsgMaxPerPeer {
		t.Fatalf("expected queue capped at %d, got %d", MsgMaxPerPeer, len(msgs))
	}
	// The oldest five were evicted; survivors keep enqueue order.
	if msgs[0].Data != "msg-5" {
		t.Fatalf("expected oldest messages evicted first, got %q at the front", msgs[0].Data)
	}
	if msgs[len(msgs)-1].Data != fmt.Sprintf("msg-%d", total-1) {
		t.Fatalf("expected the newest message last, got %q", msgs[len(msgs)-1].Data)
	}
}

func TestSweepRemovesExpiredAndDropsEmptyRecipients(t *testing.T) {
	q := NewQueue()
	q.Enqueue("peer-A", "peer-B", "chan-1", "stale")

	q.mu.Lock()
	q.byPeer["peer-A"][0].TSMs -= (MsgTTL.Milliseconds() + 1)
	q.mu.Unlock()

	q.Sweep()

	q.mu.Lock()
	_, exists := q.byPeer["peer-A"]
	q.mu.Unlock()
	if exists {
		t.Fatal("expected recipient with only expired messages to be dropped")
	}
}

func TestRecipientCount(t *testing.T) {
	q := NewQueue()
	if q.RecipientCount() != 0 {
		t.Fatalf("expected empty queue, got %d recipients", q.RecipientCount())
	}
	q.Enqueue("peer-A", "peer-B", "chan-1", "payload")
	q.Enqueue("peer-C", "peer-B", "chan-1", "payload")
	if q.RecipientCount() != 2 {
		t.Fatalf("expected 2 recipients, got %d", q.RecipientCount())
	}
}
