//go:build linux

package sockets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"golang.org/x/sys/unix"
)

const (
	solHCI        = 0
	hciFilterOpt  = 2
	hciChannelRaw = 0

	hciCommandPkt = 0x01
	hciEventPkt   = 0x04

	evtRemoteNameReqComplete = 0x07
	evtCmdStatus             = 0x0f

	// Remote Name Request: OGF 0x01 (link control), OCF 0x0019
	opRemoteNameReq = 0x0419

	hciNameTimeout = 10 * time.Second
)

// ErrNameLookup indicates the adapter could not report a remote device name.
var ErrNameLookup = errors.New("remote name request failed")

// remoteName asks the first local adapter for the user-friendly name of addr
// through a raw HCI socket.
func remoteName(addr device.BDAddr) (string, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return "", fmt.Errorf("hci socket: %w", err)
	}
	defer unix.Close(fd)

	// sockaddr_hci{family, dev, channel}
	sa := make([]byte, 6)
	binary.NativeEndian.PutUint16(sa[0:], unix.AF_BLUETOOTH)
	binary.NativeEndian.PutUint16(sa[2:], 0)
	binary.NativeEndian.PutUint16(sa[4:], hciChannelRaw)
	if err := sockaddrCall(unix.SYS_BIND, uintptr(fd), sa); err != nil {
		return "", fmt.Errorf("hci bind: %w", err)
	}

	// hci_filter{type_mask, event_mask[2], opcode}
	filter := make([]byte, 16)
	binary.NativeEndian.PutUint32(filter[0:], 1<<hciEventPkt)
	binary.NativeEndian.PutUint32(filter[4:], 1<<evtRemoteNameReqComplete|1<<evtCmdStatus)
	binary.NativeEndian.PutUint16(filter[12:], opRemoteNameReq)
	if err := unix.SetsockoptString(fd, solHCI, hciFilterOpt, string(filter)); err != nil {
		return "", fmt.Errorf("hci filter: %w", err)
	}

	rev := addr.Reversed()
	cmd := []byte{hciCommandPkt, opRemoteNameReq & 0xff, opRemoteNameReq >> 8, 10}
	cmd = append(cmd, rev[:]...)
	cmd = append(cmd, 0x02, 0x00, 0x00, 0x00) // page scan R2, reserved, clock offset
	if _, err := unix.Write(fd, cmd); err != nil {
		return "", fmt.Errorf("hci write: %w", err)
	}

	return readRemoteName(fd, rev, time.Now().Add(hciNameTimeout))
}

func readRemoteName(fd int, rev [6]byte, deadline time.Time) (string, error) {
	buf := make([]byte, 260)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w: timed out", ErrNameLookup)
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("hci poll: %w", err)
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(fd, buf)
		if err != nil {
			return "", fmt.Errorf("hci read: %w", err)
		}
		name, done, err := parseNameEvent(buf[:n], rev)
		if done || err != nil {
			return name, err
		}
	}
}

// parseNameEvent interprets one HCI event packet. done is set when the
// event settles the request.
func parseNameEvent(pkt []byte, rev [6]byte) (string, bool, error) {
	if len(pkt) < 3 || pkt[0] != hciEventPkt {
		return "", false, nil
	}
	params := pkt[3:]
	if int(pkt[2]) < len(params) {
		params = params[:pkt[2]]
	}

	switch pkt[1] {
	case evtCmdStatus:
		if len(params) < 4 || binary.LittleEndian.Uint16(params[2:]) != opRemoteNameReq {
			return "", false, nil
		}
		if params[0] != 0 {
			return "", true, fmt.Errorf("%w: status 0x%02x", ErrNameLookup, params[0])
		}
	case evtRemoteNameReqComplete:
		if len(params) < 7 || !bytes.Equal(params[1:7], rev[:]) {
			return "", false, nil
		}
		if params[0] != 0 {
			return "", true, fmt.Errorf("%w: status 0x%02x", ErrNameLookup, params[0])
		}
		name := params[7:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return string(name), true, nil
	}
	return "", false, nil
}
