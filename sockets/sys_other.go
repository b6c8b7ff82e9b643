//go:build !linux && !windows

package sockets

import (
	"syscall"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
)

const (
	afInet      = syscall.AF_INET
	afInet6     = syscall.AF_INET6
	afBluetooth = -1
)

func ipParams(t device.ConnectionType) (int, int) {
	if t == device.UDP {
		return syscall.SOCK_DGRAM, syscall.IPPROTO_UDP
	}
	return syscall.SOCK_STREAM, syscall.IPPROTO_TCP
}

func btParams(t device.ConnectionType) (int, int, error) {
	return 0, 0, syserr.ErrNotSupported
}

func openSocket(family, sotype, proto int) (uintptr, error) {
	return 0, syserr.ErrNotSupported
}

func bindSocket(fd uintptr, sa []byte) error      { return syserr.ErrNotSupported }
func listenSocket(fd uintptr) error               { return syserr.ErrNotSupported }
func connectSync(fd uintptr, sa []byte) error     { return syserr.ErrNotSupported }
func localName(fd uintptr) ([]byte, error)        { return nil, syserr.ErrNotSupported }
func shutdownSocket(fd uintptr) error             { return nil }
func closeSocket(fd uintptr) error                { return syscall.Close(int(fd)) }
func prepareConnect(fd uintptr, family int) error { return nil }
func finishConnect(fd uintptr) error              { return nil }
func finishAccept(listenFD, fd uintptr) error     { return nil }
func remoteName(device.BDAddr) (string, error)    { return "", syserr.ErrNotSupported }

func prepareAccept(listenFD uintptr, family, sotype, proto int) (uintptr, error) {
	return 0, nil
}

func encodeBT(device.ConnectionType, device.BDAddr, uint16) ([]byte, error) {
	return nil, syserr.ErrNotSupported
}

func decodeBT(device.ConnectionType, []byte) (device.BDAddr, uint16, error) {
	return device.BDAddr{}, 0, syserr.ErrNotSupported
}
