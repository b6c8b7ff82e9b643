package engine

import "fmt"

// Op identifies the native operation a Request performs.
type Op uint8

const (
	// OpSend writes Buf to a connected socket.
	OpSend Op = iota
	// OpRecv reads into Buf from a connected socket.
	OpRecv
	// OpConnect connects the socket to Addr.
	OpConnect
	// OpAccept accepts one inbound connection on a listening socket.
	OpAccept
	// OpSendTo sends Buf as one datagram to Addr.
	OpSendTo
	// OpRecvFrom receives one datagram into Buf along with its source address.
	OpRecvFrom
)

var opNames = [...]string{
	OpSend:     "send",
	OpRecv:     "recv",
	OpConnect:  "connect",
	OpAccept:   "accept",
	OpSendTo:   "sendto",
	OpRecvFrom: "recvfrom",
}

// String returns the operation name used in error reports.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Request describes one native asynchronous operation.
type Request struct {
	Op Op
	FD uintptr
	// Buf is the data to send or the buffer to receive into. It must not be
	// touched by the caller until Run returns.
	Buf []byte
	// Addr is the destination for OpConnect and OpSendTo, encoded as the
	// platform's native sockaddr structure.
	Addr []byte
	// AcceptFD is the socket that receives the connection for OpAccept on
	// platforms that need it created up front (Windows AcceptEx).
	AcceptFD uintptr
}

// Result is the outcome of a completed Request.
type Result struct {
	// N is the number of bytes transferred.
	N int
	// FD is the accepted descriptor for OpAccept.
	FD uintptr
	// From is the peer address for OpAccept and OpRecvFrom, encoded as the
	// platform's native sockaddr structure.
	From []byte
}
