// Package resolve turns a device.Device into the ordered list of concrete
// addresses a socket should try.
//
// Each transport family has its own Resolver. IP devices resolve through the
// system resolver (or numerically when DNS is disabled) and Bluetooth devices
// parse their MAC address directly. Callers walk the result with Loop, which
// stops at the first candidate that works and otherwise reports the last
// failure.
//
//	cands, err := resolve.Resolve(ctx, dev, true)
//	if err != nil {
//		return err
//	}
//	err = resolve.Loop(cands, func(c resolve.Candidate) error {
//		return connectTo(c)
//	})
package resolve
