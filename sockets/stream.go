package sockets

import (
	"context"

	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/limits"
)

// streamIO is the bidirectional delegate shared by every plain socket type.
type streamIO struct {
	h *Handle
}

// Send issues exactly one native write and reports how much of data the
// kernel took.
func (s *streamIO) Send(ctx context.Context, data []byte) (int, error) {
	if err := limits.ValidateSendSize(data); err != nil {
		return 0, err
	}
	fd, err := s.h.fdOrErr("send")
	if err != nil {
		return 0, err
	}
	res, err := s.h.eng.Run(ctx, engine.Request{Op: engine.OpSend, FD: fd, Buf: data})
	if err != nil {
		return 0, err
	}
	return res.N, nil
}

// Recv issues one native read of up to size bytes. A zero-byte completion
// means the peer closed the connection.
func (s *streamIO) Recv(ctx context.Context, size int) (RecvResult, error) {
	if err := limits.ValidateRecvSize(size); err != nil {
		return RecvResult{}, err
	}
	fd, err := s.h.fdOrErr("recv")
	if err != nil {
		return RecvResult{}, err
	}

	buf := make([]byte, size)
	res, err := s.h.eng.Run(ctx, engine.Request{Op: engine.OpRecv, FD: fd, Buf: buf})
	if err != nil {
		return RecvResult{}, err
	}
	if res.N == 0 {
		return RecvResult{Complete: true, Closed: true}, nil
	}
	return RecvResult{Complete: true, Data: buf[:res.N]}, nil
}
