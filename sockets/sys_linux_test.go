//go:build linux

package sockets

import (
	"testing"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBluetoothSockaddr(t *testing.T) {
	addr, err := device.ParseBDAddr("01:23:45:67:89:AB")
	require.NoError(t, err)

	t.Run("rfcomm", func(t *testing.T) {
		raw, err := encodeBT(device.RFCOMM, addr, 5)
		require.NoError(t, err)
		assert.Len(t, raw, sizeofSockaddrRFCOMM)
		// bdaddr_t is least significant byte first
		assert.Equal(t, []byte{0xAB, 0x89, 0x67, 0x45, 0x23, 0x01}, raw[2:8])
		assert.Equal(t, byte(5), raw[8])

		got, port, err := decodeBT(device.RFCOMM, raw)
		require.NoError(t, err)
		assert.Equal(t, addr, got)
		assert.Equal(t, uint16(5), port)
	})

	t.Run("rfcomm channel range", func(t *testing.T) {
		_, err := encodeBT(device.RFCOMM, addr, 300)
		assert.ErrorIs(t, err, ErrBadSockaddr)
	})

	for _, l2 := range []device.ConnectionType{device.L2CAPSeqPacket, device.L2CAPStream, device.L2CAPDgram} {
		t.Run(l2.String(), func(t *testing.T) {
			raw, err := encodeBT(l2, addr, 0x1001)
			require.NoError(t, err)
			assert.Len(t, raw, sizeofSockaddrL2)
			assert.Equal(t, []byte{0x01, 0x10}, raw[2:4], "PSM is little endian")

			got, psm, err := decodeBT(l2, raw)
			require.NoError(t, err)
			assert.Equal(t, addr, got)
			assert.Equal(t, uint16(0x1001), psm)
		})
	}

	t.Run("wrong family", func(t *testing.T) {
		_, _, err := decodeBT(device.RFCOMM, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		assert.ErrorIs(t, err, ErrBadSockaddr)
	})
}

func TestBluetoothParams(t *testing.T) {
	for _, bt := range []device.ConnectionType{device.RFCOMM, device.L2CAPSeqPacket, device.L2CAPStream, device.L2CAPDgram} {
		_, _, err := btParams(bt)
		assert.NoError(t, err, bt.String())
	}
	_, _, err := btParams(device.TCP)
	assert.ErrorIs(t, err, device.ErrUnknownType)
}

func TestParseNameEvent(t *testing.T) {
	addr, _ := device.ParseBDAddr("00:11:22:33:44:55")
	rev := addr.Reversed()

	complete := func(status byte, name string) []byte {
		params := append([]byte{status}, rev[:]...)
		params = append(params, []byte(name)...)
		params = append(params, make([]byte, 248-len(name))...)
		return append([]byte{hciEventPkt, evtRemoteNameReqComplete, byte(len(params))}, params...)
	}

	tests := []struct {
		name     string
		pkt      []byte
		wantName string
		wantDone bool
		wantErr  bool
	}{
		{"name complete", complete(0, "Headset"), "Headset", true, false},
		{"name failed", complete(0x04, ""), "", true, true},
		{"command status ok", []byte{hciEventPkt, evtCmdStatus, 4, 0, 1, 0x19, 0x04}, "", false, false},
		{"command status error", []byte{hciEventPkt, evtCmdStatus, 4, 0x0c, 1, 0x19, 0x04}, "", true, true},
		{"other opcode", []byte{hciEventPkt, evtCmdStatus, 4, 0x0c, 1, 0x01, 0x04}, "", false, false},
		{"not an event", []byte{hciCommandPkt, 0, 0}, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, done, err := parseNameEvent(tt.pkt, rev)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantDone, done)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNameLookup)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
