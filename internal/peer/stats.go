package peer

import "sync/atomic"

// Stats holds the monotonic send/receive counters surfaced in net_stats
// events.
type Stats struct {
	sent     atomic.Int64
	sendFail atomic.Int64
	recv     atomic.Int64
	recvFail atomic.Int64
}

func (s *Stats) IncSent()     { s.sent.Add(1) }
func (s *Stats) IncSendFail() { s.sendFail.Add(1) }
func (s *Stats) IncRecv()     { s.recv.Add(1) }
func (s *Stats) IncRecvFail() { s.recvFail.Add(1) }

// Snapshot is the JSON-friendly counter view.
type Snapshot struct {
	Sent     int64 `json:"sent"`
	SendFail int64 `json:"sendFail"`
	Recv     int64 `json:"recv"`
	RecvFail int64 `json:"recvFail"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Sent:     s.sent.Load(),
		SendFail: s.sendFail.Load(),
		Recv:     s.recv.Load(),
		RecvFail: s.recvFail.Load(),
	}
}
