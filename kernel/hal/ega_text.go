package hal

import (
	"reflect"
	"unsafe"
)

// defaultAttr is light gray text (7) on a black background (0), the same
// default VGA text mode boots into.
const defaultAttr = 0x07

// egaTerminal is a minimal EGA-compatible 80x25 text-mode writer. It tracks
// only a cursor position and pokes characters straight into the mapped
// framebuffer; it understands '\n' but nothing else a real terminal
// emulator would (escape sequences, tabs, scrollback).
type egaTerminal struct {
	width, height uint32
	fb            []uint16
	x, y          uint32
}

// NewTextTerminal wraps the framebuffer already mapped at virtAddr as an
// EGA text terminal of the given dimensions, in characters. DetectHardware
// uses it for the real framebuffer; tests use it to drive a plain byte
// slice standing in for one.
func NewTextTerminal(width, height uint32, virtAddr uintptr) Terminal {
	return newEgaTerminal(width, height, virtAddr)
}

func newEgaTerminal(width, height uint32, virtAddr uintptr) *egaTerminal {
	cells := int(width * height)
	fb := *(*[]uint16)(unsafe.Pointer(&reflect.SliceHeader{
		Data: virtAddr,
		Len:  cells,
		Cap:  cells,
	}))
	return &egaTerminal{width: width, height: height, fb: fb}
}

// WriteByte writes a single character at the current cursor position and
// advances the cursor, wrapping and scrolling as needed.
func (t *egaTerminal) WriteByte(c byte) error {
	if c == '\n' {
		t.newline()
		return nil
	}

	t.fb[t.y*t.width+t.x] = uint16(defaultAttr)<<8 | uint16(c)
	t.x++
	if t.x >= t.width {
		t.newline()
	}
	return nil
}

// Write implements io.Writer in terms of repeated WriteByte calls.
func (t *egaTerminal) Write(p []byte) (int, error) {
	for _, c := range p {
		t.WriteByte(c)
	}
	return len(p), nil
}

func (t *egaTerminal) newline() {
	t.x = 0
	t.y++
	if t.y >= t.height {
		t.scroll()
		t.y = t.height - 1
	}
}

// scroll shifts every row up by one, discarding the top row and clearing
// the row that scrolled into view.
func (t *egaTerminal) scroll() {
	copy(t.fb, t.fb[t.width:])
	blank := uint16(defaultAttr)<<8 | uint16(' ')
	for i := uint32(len(t.fb)) - t.width; i < uint32(len(t.fb)); i++ {
		t.fb[i] = blank
	}
}
