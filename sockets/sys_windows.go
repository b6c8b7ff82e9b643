//go:build windows

package sockets

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
	"golang.org/x/sys/windows"
)

const (
	afInet      = windows.AF_INET
	afInet6     = windows.AF_INET6
	afBluetooth = 32 // AF_BTH

	bthprotoRFCOMM  = 3
	btPortAny       = 0xffffffff
	wsaeInval       = 10022
	wsaePFNoSupport = 10046
	wsaeAFNoSupport = 10047

	soUpdateAcceptContext  = 0x700b
	soUpdateConnectContext = 0x7010

	// SOCKADDR_BTH is byte packed: family, BTH_ADDR, service GUID, port.
	sizeofSockaddrBth = 30
)

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procBind        = modws2_32.NewProc("bind")
	procConnect     = modws2_32.NewProc("connect")
	procGetsockname = modws2_32.NewProc("getsockname")
)

func ipParams(t device.ConnectionType) (int, int) {
	if t == device.UDP {
		return windows.SOCK_DGRAM, windows.IPPROTO_UDP
	}
	return windows.SOCK_STREAM, windows.IPPROTO_TCP
}

// btParams reports the socket parameters for a Bluetooth type. The Windows
// Bluetooth stack only provides RFCOMM.
func btParams(t device.ConnectionType) (int, int, error) {
	if t == device.RFCOMM {
		return windows.SOCK_STREAM, bthprotoRFCOMM, nil
	}
	if t.IsBluetooth() {
		return 0, 0, syserr.FromCode("socket", wsaePFNoSupport)
	}
	return 0, 0, fmt.Errorf("%w: %s", device.ErrUnknownType, t)
}

// openSocket creates an overlapped, non-inheritable socket.
func openSocket(family, sotype, proto int) (uintptr, error) {
	h, err := windows.WSASocket(int32(family), int32(sotype), int32(proto), nil, 0,
		windows.WSA_FLAG_OVERLAPPED|windows.WSA_FLAG_NO_HANDLE_INHERIT)
	if err != nil {
		return 0, syserr.New("socket", err)
	}
	return uintptr(h), nil
}

func sockaddrCall(proc *windows.LazyProc, fd uintptr, sa []byte) error {
	if len(sa) == 0 {
		return windows.Errno(wsaeInval)
	}
	r, _, err := proc.Call(fd, uintptr(unsafe.Pointer(&sa[0])), uintptr(len(sa)))
	if int32(r) != 0 {
		return err
	}
	return nil
}

func bindSocket(fd uintptr, sa []byte) error {
	return syserr.New("bind", sockaddrCall(procBind, fd, sa))
}

func listenSocket(fd uintptr) error {
	return syserr.New("listen", windows.Listen(windows.Handle(fd), windows.SOMAXCONN))
}

// connectSync connects a datagram socket; ConnectEx only handles streams.
func connectSync(fd uintptr, sa []byte) error {
	return syserr.New("connect", sockaddrCall(procConnect, fd, sa))
}

func localName(fd uintptr) ([]byte, error) {
	var buf windows.RawSockaddrAny
	n := int32(unsafe.Sizeof(buf))
	r, _, err := procGetsockname.Call(fd, uintptr(unsafe.Pointer(&buf)), uintptr(unsafe.Pointer(&n)))
	if int32(r) != 0 {
		return nil, syserr.New("getsockname", err)
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&buf)), n)
	return append([]byte(nil), raw...), nil
}

func shutdownSocket(fd uintptr) error {
	return windows.Shutdown(windows.Handle(fd), windows.SHUT_RDWR)
}

func closeSocket(fd uintptr) error {
	return windows.Closesocket(windows.Handle(fd))
}

// prepareConnect binds the socket to the wildcard address of its family,
// which ConnectEx requires.
func prepareConnect(fd uintptr, family int) error {
	var size int
	switch family {
	case afInet:
		size = sizeofSockaddrInet4
	case afInet6:
		size = sizeofSockaddrInet6
	case afBluetooth:
		size = sizeofSockaddrBth
	default:
		return syserr.FromCode("bind", wsaeAFNoSupport)
	}
	sa := make([]byte, size)
	binary.LittleEndian.PutUint16(sa, uint16(family))
	return bindSocket(fd, sa)
}

// finishConnect makes a ConnectEx socket behave like one connected with connect.
func finishConnect(fd uintptr) error {
	err := windows.Setsockopt(windows.Handle(fd), windows.SOL_SOCKET, soUpdateConnectContext, nil, 0)
	return syserr.New("setsockopt", err)
}

// prepareAccept creates the socket AcceptEx will hand the connection to.
func prepareAccept(listenFD uintptr, family, sotype, proto int) (uintptr, error) {
	return openSocket(family, sotype, proto)
}

// finishAccept inherits the listening socket's properties into fd.
func finishAccept(listenFD, fd uintptr) error {
	l := windows.Handle(listenFD)
	err := windows.Setsockopt(windows.Handle(fd), windows.SOL_SOCKET, soUpdateAcceptContext,
		(*byte)(unsafe.Pointer(&l)), int32(unsafe.Sizeof(l)))
	return syserr.New("setsockopt", err)
}

// encodeBT builds a SOCKADDR_BTH. Channel 0 binds to any free channel.
func encodeBT(t device.ConnectionType, addr device.BDAddr, port uint16) ([]byte, error) {
	if _, _, err := btParams(t); err != nil {
		return nil, err
	}
	raw := make([]byte, sizeofSockaddrBth)
	binary.LittleEndian.PutUint16(raw[0:], afBluetooth)
	binary.LittleEndian.PutUint64(raw[2:], addr.Uint64())
	p := uint32(port)
	if port == 0 {
		p = btPortAny
	}
	binary.LittleEndian.PutUint32(raw[26:], p)
	return raw, nil
}

// decodeBT parses a SOCKADDR_BTH.
func decodeBT(t device.ConnectionType, raw []byte) (device.BDAddr, uint16, error) {
	if sockaddrFamily(raw) != afBluetooth || len(raw) < sizeofSockaddrBth {
		return device.BDAddr{}, 0, fmt.Errorf("%w: family %d, length %d", ErrBadSockaddr, sockaddrFamily(raw), len(raw))
	}
	addr := device.FromUint64(binary.LittleEndian.Uint64(raw[2:]))
	return addr, uint16(binary.LittleEndian.Uint32(raw[26:])), nil
}

// remoteName is not available through Winsock.
func remoteName(addr device.BDAddr) (string, error) {
	return "", syserr.ErrNotSupported
}
