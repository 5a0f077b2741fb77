// Package serial wraps the host's USB serial ports for the printer fleet:
// a line-oriented port used to stream G-code, plus enumeration and repair
// of the device paths printers are registered under.
package serial

import (
	"fmt"
	"strings"
	"time"

	bugst "go.bug.st/serial"
)

// Baud rate and read timeout every printer link is opened with.
const (
	BaudRate    = 115200
	ReadTimeout = 10 * time.Second
)

// Port is a line-oriented serial connection to one printer.
type Port struct {
	p      bugst.Port
	device string
}

// Open opens the serial device at the fleet's fixed baud rate with the
// standard read timeout.
func Open(device string) (*Port, error) {
	p, err := bugst.Open(device, &bugst.Mode{BaudRate: BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := p.SetReadTimeout(ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &Port{p: p, device: device}, nil
}

// WriteLine writes line followed by a newline as UTF-8.
func (p *Port) WriteLine(line string) error {
	if _, err := p.p.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write %s: %w", p.device, err)
	}
	return nil
}

// ReadLine reads one newline-terminated reply, trimmed of surrounding
// whitespace. A read timeout returns whatever arrived before it (an empty
// string when nothing did) with a nil error, matching firmware that goes
// quiet between replies.
func (p *Port) ReadLine() (string, error) {
	var buf []byte
	b := make([]byte, 1)
	for {
		n, err := p.p.Read(b)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", p.device, err)
		}
		if n == 0 {
			// Timeout with nothing (or a partial line) buffered.
			return strings.TrimSpace(string(buf)), nil
		}
		if b[0] == '\n' {
			return strings.TrimSpace(string(buf)), nil
		}
		buf = append(buf, b[0])
	}
}

// Close closes the underlying device.
func (p *Port) Close() error {
	return p.p.Close()
}
