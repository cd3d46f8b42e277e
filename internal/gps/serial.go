package gps

import (
	"errors"
	"fmt"
	"sort"
)

// ErrSerialUnsupported is returned where the platform has no termios.
var ErrSerialUnsupported = errors.New("gps: serial not supported on this platform")

// SupportedBauds lists the rates openSerial accepts, ascending.
func SupportedBauds() []int {
	out := make([]int, 0, len(baudRates))
	for b := range baudRates {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

func checkBaud(baud int) error {
	if _, ok := baudRates[baud]; !ok {
		return fmt.Errorf("gps: unsupported baud %d (supported: %v)", baud, SupportedBauds())
	}
	return nil
}
