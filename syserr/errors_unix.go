//go:build unix

package syserr

import "syscall"

const (
	kernelTypeName = "Kernel"
	canceledCode   = int(syscall.ECANCELED)
)

func isPendingCode(code int) bool {
	return code == 0 || syscall.Errno(code) == syscall.EINPROGRESS
}

func isCanceledCode(code int) bool {
	return syscall.Errno(code) == syscall.ECANCELED
}
