//go:build linux

package gps

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// openSerial opens device in raw 8N1 mode at baud and discards whatever the
// receiver queued before we attached, so the first fix is current.
func openSerial(path string, baud int) (*os.File, error) {
	if err := checkBaud(baud); err != nil {
		return nil, err
	}
	spd := baudRates[baud]

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("%s: get termios: %w", path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | spd
	t.Ispeed = spd
	t.Ospeed = spd

	// Block for at least one byte, then up to 1s between bytes.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 10

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, fmt.Errorf("%s: set termios: %w", path, err)
	}
	// Stale sentences would feed an old course into fusion.
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		return nil, fmt.Errorf("%s: os.NewFile failed", path)
	}
	ok = true
	return f, nil
}
