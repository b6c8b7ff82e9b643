//go:build linux

package sockets

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
	"golang.org/x/sys/unix"
)

const (
	afInet      = unix.AF_INET
	afInet6     = unix.AF_INET6
	afBluetooth = unix.AF_BLUETOOTH

	sizeofSockaddrRFCOMM = 10
	sizeofSockaddrL2     = 14
)

// ipParams returns the socket type and protocol for an IP connection type.
func ipParams(t device.ConnectionType) (int, int) {
	if t == device.UDP {
		return unix.SOCK_DGRAM, unix.IPPROTO_UDP
	}
	return unix.SOCK_STREAM, unix.IPPROTO_TCP
}

// btParams returns the socket type and protocol for a Bluetooth connection type.
func btParams(t device.ConnectionType) (int, int, error) {
	switch t {
	case device.RFCOMM:
		return unix.SOCK_STREAM, unix.BTPROTO_RFCOMM, nil
	case device.L2CAPSeqPacket:
		return unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP, nil
	case device.L2CAPStream:
		return unix.SOCK_STREAM, unix.BTPROTO_L2CAP, nil
	case device.L2CAPDgram:
		return unix.SOCK_DGRAM, unix.BTPROTO_L2CAP, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", device.ErrUnknownType, t)
	}
}

// openSocket creates a non-blocking, close-on-exec socket.
func openSocket(family, sotype, proto int) (uintptr, error) {
	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return 0, syserr.New("socket", err)
	}
	return uintptr(fd), nil
}

func sockaddrCall(trap, fd uintptr, sa []byte) error {
	if len(sa) == 0 {
		return unix.EINVAL
	}
	_, _, errno := unix.Syscall(trap, fd, uintptr(unsafe.Pointer(&sa[0])), uintptr(len(sa)))
	if errno != 0 {
		return errno
	}
	return nil
}

func bindSocket(fd uintptr, sa []byte) error {
	return syserr.New("bind", sockaddrCall(unix.SYS_BIND, fd, sa))
}

func listenSocket(fd uintptr) error {
	return syserr.New("listen", unix.Listen(int(fd), unix.SOMAXCONN))
}

// connectSync connects a datagram socket, which completes immediately.
func connectSync(fd uintptr, sa []byte) error {
	return syserr.New("connect", sockaddrCall(unix.SYS_CONNECT, fd, sa))
}

// localName returns the native address the socket is bound to.
func localName(fd uintptr) ([]byte, error) {
	var buf [unix.SizeofSockaddrAny]byte
	n := uint32(len(buf))
	_, _, errno := unix.Syscall(unix.SYS_GETSOCKNAME, fd,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&n)))
	if errno != 0 {
		return nil, syserr.New("getsockname", errno)
	}
	return append([]byte(nil), buf[:n]...), nil
}

func shutdownSocket(fd uintptr) error {
	return unix.Shutdown(int(fd), unix.SHUT_RDWR)
}

func closeSocket(fd uintptr) error {
	return unix.Close(int(fd))
}

// prepareConnect is a no-op; Linux connects unbound sockets.
func prepareConnect(fd uintptr, family int) error {
	return nil
}

// finishConnect checks the pending socket error left by the connect.
func finishConnect(fd uintptr) error {
	soErr, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return syserr.New("getsockopt", err)
	}
	if soErr != 0 {
		return syserr.New("connect", unix.Errno(soErr))
	}
	return nil
}

// prepareAccept returns 0; the kernel creates the accepted descriptor.
func prepareAccept(listenFD uintptr, family, sotype, proto int) (uintptr, error) {
	return 0, nil
}

func finishAccept(listenFD, fd uintptr) error {
	return nil
}

// encodeBT builds a sockaddr_rc or sockaddr_l2. Bluetooth addresses are
// stored least significant byte first.
func encodeBT(t device.ConnectionType, addr device.BDAddr, port uint16) ([]byte, error) {
	rev := addr.Reversed()
	switch {
	case t == device.RFCOMM:
		if port > 0xff {
			return nil, fmt.Errorf("%w: RFCOMM channel %d out of range", ErrBadSockaddr, port)
		}
		raw := make([]byte, sizeofSockaddrRFCOMM)
		binary.NativeEndian.PutUint16(raw[0:], afBluetooth)
		copy(raw[2:8], rev[:])
		raw[8] = uint8(port)
		return raw, nil
	case t.IsL2CAP():
		raw := make([]byte, sizeofSockaddrL2)
		binary.NativeEndian.PutUint16(raw[0:], afBluetooth)
		binary.LittleEndian.PutUint16(raw[2:], port)
		copy(raw[4:10], rev[:])
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownType, t)
	}
}

// decodeBT parses a sockaddr_rc or sockaddr_l2.
func decodeBT(t device.ConnectionType, raw []byte) (device.BDAddr, uint16, error) {
	if sockaddrFamily(raw) != afBluetooth {
		return device.BDAddr{}, 0, fmt.Errorf("%w: family %d", ErrBadSockaddr, sockaddrFamily(raw))
	}
	switch {
	case t == device.RFCOMM && len(raw) >= 9:
		return device.FromReversed([6]byte(raw[2:8])), uint16(raw[8]), nil
	case t.IsL2CAP() && len(raw) >= 10:
		return device.FromReversed([6]byte(raw[4:10])), binary.LittleEndian.Uint16(raw[2:]), nil
	}
	return device.BDAddr{}, 0, fmt.Errorf("%w: %s address of length %d", ErrBadSockaddr, t, len(raw))
}
