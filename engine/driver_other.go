//go:build !linux && !windows

package engine

// opState is empty where no driver exists.
type opState struct{}

func newDriver(opts *Options, slots *slab) (driver, error) {
	return nil, ErrNotSupported
}
