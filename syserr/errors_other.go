//go:build !unix && !windows

package syserr

const (
	kernelTypeName = "Kernel"
	canceledCode   = -1
)

func isPendingCode(code int) bool {
	return code == 0
}

func isCanceledCode(code int) bool {
	return code == canceledCode
}
