//go:build unix

package syserr

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeepsErrno(t *testing.T) {
	err := New("connect", syscall.ECONNREFUSED)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int(syscall.ECONNREFUSED), se.Code)
	assert.Equal(t, System, se.Type)
	assert.Equal(t, "connect", se.Op)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED))
	assert.True(t, IsFatal(err))
	assert.False(t, IsCanceled(err))
}

func TestInProgressIsNotFatal(t *testing.T) {
	assert.False(t, IsFatal(New("connect", syscall.EINPROGRESS)))
	assert.True(t, IsCanceled(FromCode("recv", int(syscall.ECANCELED))))
	assert.True(t, IsCanceled(syscall.ECANCELED))
}
