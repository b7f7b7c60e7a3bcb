//go:build !unix

package procrt

import "os"

func defaultSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
