package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBDAddr indicates a Bluetooth address string is malformed.
var ErrInvalidBDAddr = errors.New("invalid Bluetooth address")

// BDAddr is a Bluetooth device address in display order: BDAddr[0] is the
// first octet of "01:02:03:04:05:06".
type BDAddr [6]byte

// BDAddrAny is the wildcard address used to bind servers.
var BDAddrAny = BDAddr{}

// ParseBDAddr parses a colon-separated Bluetooth MAC address.
func ParseBDAddr(s string) (BDAddr, error) {
	var addr BDAddr
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(addr) {
		return addr, fmt.Errorf("%w: %q", ErrInvalidBDAddr, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return addr, fmt.Errorf("%w: %q", ErrInvalidBDAddr, s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: %q", ErrInvalidBDAddr, s)
		}
		addr[i] = byte(b)
	}
	return addr, nil
}

// String formats the address as upper-case colon-separated hex.
func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Reversed returns the address in little-endian wire order, as Linux bdaddr_t stores it.
func (a BDAddr) Reversed() [6]byte {
	return [6]byte{a[5], a[4], a[3], a[2], a[1], a[0]}
}

// FromReversed builds an address from little-endian wire order.
func FromReversed(b [6]byte) BDAddr {
	return BDAddr{b[5], b[4], b[3], b[2], b[1], b[0]}
}

// Uint64 returns the address as a 48-bit integer, the Windows BTH_ADDR form.
func (a BDAddr) Uint64() uint64 {
	var v uint64
	for _, b := range a {
		v = v<<8 | uint64(b)
	}
	return v
}

// FromUint64 builds an address from its 48-bit integer form.
func FromUint64(v uint64) BDAddr {
	var a BDAddr
	for i := len(a) - 1; i >= 0; i-- {
		a[i] = byte(v)
		v >>= 8
	}
	return a
}
