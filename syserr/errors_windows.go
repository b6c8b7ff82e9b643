//go:build windows

package syserr

import "golang.org/x/sys/windows"

const (
	kernelTypeName = "IOCP"
	canceledCode   = int(windows.ERROR_OPERATION_ABORTED)
)

func isPendingCode(code int) bool {
	return code == 0 || code == int(windows.ERROR_IO_PENDING)
}

func isCanceledCode(code int) bool {
	return code == int(windows.ERROR_OPERATION_ABORTED)
}
