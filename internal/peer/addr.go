package peer

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// isCircuitAddr reports whether a contains the /p2p-circuit component.
func isCircuitAddr(a ma.Multiaddr) bool {
	for _, p := range a.Protocols() {
		if p.Code == ma.P_CIRCUIT {
			return true
		}
	}
	return false
}

// LoopbackAddress returns the host's own loopback listen address as a
// dialable multiaddr string, e.g. /ip4/127.0.0.1/tcp/<port>/ws/p2p/<id>.
func LoopbackAddress(h host.Host, port int) string {
	return fmt.Sprintf("/ip4/127.0.0.1/tcp/%d/ws/p2p/%s", port, h.ID())
}

// LANAddress returns the host's address on the first non-loopback IPv4
// interface it's bound to, or "" if none is found.
func LANAddress(h host.Host) string {
	for _, a := range h.Addrs() {
		if isCircuitAddr(a) {
			continue
		}
		ip, err := manet.ToIP(a)
		if err != nil || ip.To4() == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		return a.String() + "/p2p/" + h.ID().String()
	}
	return ""
}

// CircuitAddress returns the host's relay-circuit form if it currently has
// one, or "" otherwise.
func CircuitAddress(h host.Host) string {
	for _, a := range h.Addrs() {
		if isCircuitAddr(a) {
			return a.String()
		}
	}
	return ""
}
