//go:build !linux

package gps

import "os"

var baudRates = map[int]uint32{
	4800: 0, 9600: 0, 19200: 0, 38400: 0, 57600: 0, 115200: 0, 230400: 0,
}

func openSerial(path string, baud int) (*os.File, error) {
	if err := checkBaud(baud); err != nil {
		return nil, err
	}
	return nil, ErrSerialUnsupported
}
