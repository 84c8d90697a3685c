//go:build unix

package server

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenUDP binds a non-blocking datagram socket. IPv6 sockets only
// receive IPv6 traffic so the IPv4 wildcard can be bound next to them.
func ListenUDP(ip net.IP, port uint16) (net.PacketConn, error) {
	f, err := bindSocket(ip, port, unix.SOCK_DGRAM)
	if err != nil {
		return nil, bindError("udp", ip, port, err)
	}
	defer f.Close()

	pc, err := net.FilePacketConn(f)
	if err != nil {
		return nil, bindError("udp", ip, port, err)
	}

	return pc, nil
}

// ListenTCP binds a non-blocking stream socket listening with
// ListenBacklog, with the same address family isolation as ListenUDP.
func ListenTCP(ip net.IP, port uint16) (net.Listener, error) {
	f, err := bindSocket(ip, port, unix.SOCK_STREAM)
	if err != nil {
		return nil, bindError("tcp", ip, port, err)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, bindError("tcp", ip, port, err)
	}

	return ln, nil
}

// bindSocket returns the bound socket as a file; the caller hands it to the
// net package, which takes its own copy of the descriptor.
func bindSocket(ip net.IP, port uint16, typ int) (*os.File, error) {
	var (
		family = unix.AF_INET6
		sa     unix.Sockaddr
	)

	if ip4 := ip.To4(); ip4 != nil {
		family = unix.AF_INET
		addr := &unix.SockaddrInet4{Port: int(port)}
		copy(addr.Addr[:], ip4)
		sa = addr
	} else {
		addr := &unix.SockaddrInet6{Port: int(port)}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := configure(fd, family, typ); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if typ == unix.SOCK_STREAM {
		if err := unix.Listen(fd, ListenBacklog); err != nil {
			unix.Close(fd)
			return nil, os.NewSyscallError("listen", err)
		}
	}

	return os.NewFile(uintptr(fd), SocketAddr(ip, port)), nil
}

func configure(fd, family, typ int) error {
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return os.NewSyscallError("setsockopt IPV6_V6ONLY", err)
		}
	}

	if typ == unix.SOCK_STREAM {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}

	return nil
}
