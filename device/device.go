// Package device describes the peers and bind targets the socket engine
// talks to: a transport type plus an address, a port or channel, and an
// optional display name.
package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType indicates a connection type name could not be parsed.
var ErrUnknownType = errors.New("unknown connection type")

// ConnectionType identifies the transport a Device is reached over.
type ConnectionType uint8

const (
	// None is the zero value and identifies no transport.
	None ConnectionType = iota
	// TCP is an IP stream connection.
	TCP
	// UDP is an IP datagram connection.
	UDP
	// L2CAPSeqPacket is a Bluetooth L2CAP sequential-packet connection.
	L2CAPSeqPacket
	// L2CAPStream is a Bluetooth L2CAP stream connection.
	L2CAPStream
	// L2CAPDgram is a Bluetooth L2CAP datagram connection.
	L2CAPDgram
	// RFCOMM is a Bluetooth RFCOMM stream connection.
	RFCOMM
)

var typeNames = map[ConnectionType]string{
	None:           "None",
	TCP:            "TCP",
	UDP:            "UDP",
	L2CAPSeqPacket: "L2CAPSeqPacket",
	L2CAPStream:    "L2CAPStream",
	L2CAPDgram:     "L2CAPDgram",
	RFCOMM:         "RFCOMM",
}

// String returns the name of the connection type.
func (t ConnectionType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ConnectionType(%d)", uint8(t))
}

// IsIP reports whether the type runs over the Internet Protocol.
func (t ConnectionType) IsIP() bool {
	return t == TCP || t == UDP
}

// IsBluetooth reports whether the type runs over Bluetooth.
func (t ConnectionType) IsBluetooth() bool {
	return t == L2CAPSeqPacket || t == L2CAPStream || t == L2CAPDgram || t == RFCOMM
}

// IsL2CAP reports whether the type is one of the L2CAP variants.
func (t ConnectionType) IsL2CAP() bool {
	return t == L2CAPSeqPacket || t == L2CAPStream || t == L2CAPDgram
}

// IsConnectionOriented reports whether servers of this type listen and accept.
func (t ConnectionType) IsConnectionOriented() bool {
	return t == TCP || t == RFCOMM || t == L2CAPStream || t == L2CAPSeqPacket
}

// ParseConnectionType parses a type name case-insensitively.
// "L2CAP" is accepted as an alias of L2CAPSeqPacket.
func ParseConnectionType(s string) (ConnectionType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "l2cap" {
		return L2CAPSeqPacket, nil
	}
	for t, n := range typeNames {
		if t != None && strings.ToLower(n) == name {
			return t, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// IPType is the address family of an IP socket.
type IPType uint8

const (
	// IPNone means no IP family applies (Bluetooth sockets).
	IPNone IPType = iota
	// IPv4 is the IPv4 family.
	IPv4
	// IPv6 is the IPv6 family.
	IPv6
)

// String returns the family name.
func (t IPType) String() string {
	switch t {
	case IPNone:
		return "None"
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("IPType(%d)", uint8(t))
	}
}

// Device is a peer or bind target.
type Device struct {
	Type    ConnectionType
	Name    string // display name, Bluetooth only
	Address string // IP address, host name or Bluetooth MAC
	Port    uint16 // IP port, RFCOMM channel or L2CAP PSM
}

// String formats the device for log output.
func (d Device) String() string {
	if d.Type.IsBluetooth() && d.Name != "" {
		return fmt.Sprintf("%s %s (%s) port %d", d.Type, d.Address, d.Name, d.Port)
	}
	return fmt.Sprintf("%s %s port %d", d.Type, d.Address, d.Port)
}

// Validate checks that the device names a transport and, for Bluetooth,
// carries a well-formed MAC address.
func (d Device) Validate() error {
	if !d.Type.IsIP() && !d.Type.IsBluetooth() {
		return fmt.Errorf("%w: %s", ErrUnknownType, d.Type)
	}
	if d.Type.IsBluetooth() {
		if _, err := ParseBDAddr(d.Address); err != nil {
			return err
		}
	}
	return nil
}
