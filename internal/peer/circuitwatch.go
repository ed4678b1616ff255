package peer

import (
	"context"

	"github.com/libp2p/go-libp2p/core/event"
)

// WatchCircuitAddr subscribes to the host's address-change event bus and
// calls onChange whenever a circuit-relay address appears or disappears —
// the signal the event loop uses, on loss, to kick the relay reconnect
// path instead of waiting on the next disconnect notification.
func (n *Node) WatchCircuitAddr(ctx context.Context, onChange func(hasCircuit bool)) {
	sub, err := n.Host.EventBus().Subscribe(new(event.EvtLocalAddressesUpdated))
	if err != nil {
		log.Warnf("failed to subscribe to address changes: %v", err)
		return
	}

	hadCircuit := n.hasCircuitAddr()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Out():
				hasCircuit := n.hasCircuitAddr()
				if hasCircuit == hadCircuit {
					continue
				}
				hadCircuit = hasCircuit
				if hasCircuit {
					n.diag("circuit address appeared")
				} else {
					n.diag("circuit address lost")
				}
				onChange(hasCircuit)
			}
		}
	}()
}

func (n *Node) hasCircuitAddr() bool {
	for _, a := range n.Host.Addrs() {
		if isCircuitAddr(a) {
			return true
		}
	}
	return false
}
