//go:build !unix

package server

import (
	"context"
	"net"
)

// ListenUDP binds a datagram socket. The "udp6" network keeps IPv6 sockets
// from receiving IPv4 traffic.
func ListenUDP(ip net.IP, port uint16) (net.PacketConn, error) {
	pc, err := new(net.ListenConfig).ListenPacket(context.Background(), network("udp", ip), SocketAddr(ip, port))
	if err != nil {
		return nil, bindError("udp", ip, port, err)
	}
	return pc, nil
}

// ListenTCP binds a stream socket with the same isolation as ListenUDP.
func ListenTCP(ip net.IP, port uint16) (net.Listener, error) {
	ln, err := new(net.ListenConfig).Listen(context.Background(), network("tcp", ip), SocketAddr(ip, port))
	if err != nil {
		return nil, bindError("tcp", ip, port, err)
	}
	return ln, nil
}

func network(base string, ip net.IP) string {
	if ip.To4() != nil {
		return base + "4"
	}
	return base + "6"
}
