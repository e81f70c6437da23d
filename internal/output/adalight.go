package output

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// AdalightStrip drives a pixel chain through a USB serial bridge speaking the
// Adalight framing: "Ada", count-1 (big endian), checksum, then RGB triplets.
type AdalightStrip struct {
	w      io.WriteCloser
	pixels []RGB
	frame  []byte
}

// OpenAdalight opens portName at baud for a chain of n pixels.
func OpenAdalight(portName string, baud, n int) (*AdalightStrip, error) {
	if n <= 0 || n > 0x10000 {
		return nil, fmt.Errorf("adalight: invalid pixel count %d", n)
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", portName, err)
	}
	return NewAdalightStrip(port, n), nil
}

// NewAdalightStrip wraps an already open writer.
func NewAdalightStrip(w io.WriteCloser, n int) *AdalightStrip {
	s := &AdalightStrip{
		w:      w,
		pixels: make([]RGB, n),
		frame:  make([]byte, 6+3*n),
	}
	count := uint16(n - 1)
	hi, lo := byte(count>>8), byte(count)
	copy(s.frame, []byte{'A', 'd', 'a', hi, lo, hi ^ lo ^ 0x55})
	return s
}

// Len implements Strip.
func (s *AdalightStrip) Len() int { return len(s.pixels) }

// SetAll implements Strip.
func (s *AdalightStrip) SetAll(c RGB) {
	for i := range s.pixels {
		s.pixels[i] = c
	}
}

// Show implements Strip.
func (s *AdalightStrip) Show() error {
	for i, p := range s.pixels {
		off := 6 + 3*i
		s.frame[off], s.frame[off+1], s.frame[off+2] = p.R, p.G, p.B
	}
	if _, err := s.w.Write(s.frame); err != nil {
		return fmt.Errorf("adalight write: %w", err)
	}
	return nil
}

// Close implements Strip.
func (s *AdalightStrip) Close() error {
	return s.w.Close()
}
