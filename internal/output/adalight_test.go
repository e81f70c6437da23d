package output

import (
	"bytes"
	"testing"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestAdalightFrame(t *testing.T) {
	w := &bufCloser{}
	s := NewAdalightStrip(w, 2)
	s.SetAll(Gray(100))
	if err := s.Show(); err != nil {
		t.Fatal(err)
	}
	// count-1 = 1: hi 0x00, lo 0x01, checksum 0x00^0x01^0x55 = 0x54.
	want := []byte{'A', 'd', 'a', 0x00, 0x01, 0x54, 100, 100, 100, 100, 100, 100}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("frame = % X, want % X", w.Bytes(), want)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if err := s.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestAdalightLargeCountHeader(t *testing.T) {
	w := &bufCloser{}
	s := NewAdalightStrip(w, 300)
	if err := s.Show(); err != nil {
		t.Fatal(err)
	}
	hdr := w.Bytes()[:6]
	// 299 = 0x012B
	if hdr[3] != 0x01 || hdr[4] != 0x2B || hdr[5] != 0x01^0x2B^0x55 {
		t.Errorf("header = % X", hdr)
	}
	if w.Len() != 6+3*300 {
		t.Errorf("frame length = %d, want %d", w.Len(), 6+3*300)
	}
}
