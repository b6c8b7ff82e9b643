package sockets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/opd-ai/whaleconnect/device"
)

// Native sockaddr sizes. The IP layouts are shared by every supported OS.
const (
	sizeofSockaddrInet4 = 16
	sizeofSockaddrInet6 = 28
)

// ErrBadSockaddr indicates a native address that could not be decoded.
var ErrBadSockaddr = errors.New("malformed socket address")

// sockaddrFamily reads the address family field of a native sockaddr.
func sockaddrFamily(raw []byte) int {
	if len(raw) < 2 {
		return -1
	}
	return int(binary.NativeEndian.Uint16(raw))
}

// encodeInet builds a native sockaddr_in or sockaddr_in6 for ap.
func encodeInet(ap netip.AddrPort) []byte {
	addr := ap.Addr()
	if addr.Is4() {
		raw := make([]byte, sizeofSockaddrInet4)
		binary.NativeEndian.PutUint16(raw[0:], uint16(afInet))
		binary.BigEndian.PutUint16(raw[2:], ap.Port())
		a4 := addr.As4()
		copy(raw[4:8], a4[:])
		return raw
	}

	raw := make([]byte, sizeofSockaddrInet6)
	binary.NativeEndian.PutUint16(raw[0:], uint16(afInet6))
	binary.BigEndian.PutUint16(raw[2:], ap.Port())
	a16 := addr.As16()
	copy(raw[8:24], a16[:])
	binary.NativeEndian.PutUint32(raw[24:], zoneIndex(addr.Zone()))
	return raw
}

// encodeInetFor encodes ap for a socket of the given family, mapping IPv4
// addresses into IPv6 (and back) when the socket family requires it.
func encodeInetFor(family int, ap netip.AddrPort) []byte {
	addr := ap.Addr()
	switch {
	case family == afInet6 && addr.Is4():
		addr = netip.AddrFrom16(addr.As16())
	case family == afInet && addr.Is4In6():
		addr = addr.Unmap()
	}
	return encodeInet(netip.AddrPortFrom(addr, ap.Port()))
}

// decodeInet parses a native sockaddr_in or sockaddr_in6. IPv4-mapped IPv6
// addresses are returned as plain IPv4.
func decodeInet(raw []byte) (netip.AddrPort, error) {
	switch sockaddrFamily(raw) {
	case afInet:
		if len(raw) < 8 {
			break
		}
		port := binary.BigEndian.Uint16(raw[2:])
		addr := netip.AddrFrom4([4]byte(raw[4:8]))
		return netip.AddrPortFrom(addr, port), nil
	case afInet6:
		if len(raw) < 24 {
			break
		}
		port := binary.BigEndian.Uint16(raw[2:])
		addr := netip.AddrFrom16([16]byte(raw[8:24]))
		if addr.Is4In6() {
			return netip.AddrPortFrom(addr.Unmap(), port), nil
		}
		if len(raw) >= sizeofSockaddrInet6 {
			if zone := zoneName(binary.NativeEndian.Uint32(raw[24:])); zone != "" {
				addr = addr.WithZone(zone)
			}
		}
		return netip.AddrPortFrom(addr, port), nil
	}
	return netip.AddrPort{}, fmt.Errorf("%w: family %d, length %d", ErrBadSockaddr, sockaddrFamily(raw), len(raw))
}

func zoneIndex(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	return 0
}

func zoneName(index uint32) string {
	if index == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(index)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(index), 10)
}

// deviceFromSockaddr converts a native peer address into a Device of type t.
func deviceFromSockaddr(t device.ConnectionType, raw []byte) (device.Device, error) {
	if t.IsBluetooth() {
		addr, port, err := decodeBT(t, raw)
		if err != nil {
			return device.Device{}, err
		}
		return device.Device{Type: t, Address: addr.String(), Port: port}, nil
	}

	ap, err := decodeInet(raw)
	if err != nil {
		return device.Device{}, err
	}
	return device.Device{Type: t, Address: ap.Addr().String(), Port: ap.Port()}, nil
}

// familyOf returns the native address family for an IP address.
func familyOf(addr netip.Addr) int {
	if addr.Is4() {
		return afInet
	}
	return afInet6
}
