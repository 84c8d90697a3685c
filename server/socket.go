package server

import (
	"fmt"
	"net"
	"strconv"
)

// ListenBacklog is the accept queue length of stream listeners.
const ListenBacklog = 128

// SocketAddr joins ip and port the way listeners report them.
func SocketAddr(ip net.IP, port uint16) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}

func bindError(network string, ip net.IP, port uint16, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBind, network, SocketAddr(ip, port), err)
}
