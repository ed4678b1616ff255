package wireproto

import (
	"encoding/json"
	"testing"
)

func TestChatEnvelopeRoundTrip(t *testing.T) {
	in := ChatEnvelope{ChannelID: "chan-1", Data: "hello world"}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out ChatEnvelope
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestRelayQueuedMessageFieldNames(t *testing.T) {
	in := RelayQueuedMessage{ID: "abc", From: "QmFrom", ChannelID: "chan-1", Data: "payload", TS: 123}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "from", "channelId", "data", "ts"} {
		if _, ok := generic[key]; !ok {
			t.Fatalf("expected wire field %q in %s", key, b)
		}
	}
}

func TestNowMillisIsPositive(t *testing.T) {
	if NowMillis() <= 0 {
		t.Fatal("expected a positive millisecond timestamp")
	}
}
