package parser

import "unicode/utf8"

// Decoder reassembles UTF-8 text from a byte stream that may split
// multi-byte characters at arbitrary offsets. A trailing partial rune is
// buffered until its continuation bytes arrive; it is never an error.
type Decoder struct {
	pending []byte
}

// Write appends chunk to the stream and returns the longest prefix of
// complete characters. Bytes belonging to an unfinished rune stay buffered
// for the next call.
func (d *Decoder) Write(chunk []byte) string {
	if len(d.pending) > 0 {
		chunk = append(d.pending, chunk...)
		d.pending = nil
	}
	tail := incompleteTail(chunk)
	if tail > 0 {
		cut := len(chunk) - tail
		d.pending = append(d.pending, chunk[cut:]...)
		chunk = chunk[:cut]
	}
	return string(chunk)
}

// Flush returns any buffered bytes as-is. A dangling partial sequence at
// stream end is surfaced rather than dropped.
func (d *Decoder) Flush() string {
	s := string(d.pending)
	d.pending = nil
	return s
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.pending = nil
}

// incompleteTail returns how many trailing bytes of b form the start of a
// rune whose continuation bytes have not arrived yet. Invalid sequences
// count as complete so they pass through instead of stalling the stream.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && len(b)-i < utf8.UTFMax; i-- {
		c := b[i]
		if c&0xC0 == 0x80 {
			continue
		}
		want := leadSize(c)
		if got := len(b) - i; want > got {
			return got
		}
		return 0
	}
	return 0
}

func leadSize(c byte) int {
	switch {
	case c < 0x80:
		return 1
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		// Stray continuation or invalid byte; treat as complete.
		return 1
	}
}
