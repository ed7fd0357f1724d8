// Package wire implements the deterministic binary wire format used to
// serialize blocks, votes, and state diffs for gossip and storage.
// Every encoder writes fields in a single fixed order with no padding,
// so encode is a total, order-preserving function and
// hash-of-decode(encode(x)) == hash-of(x) for every type here.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer accumulates a deterministic binary encoding.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// Uint64 appends v as 8 little-endian bytes.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Bool appends a single byte, 1 for true.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// BytesField appends a length-prefixed byte slice (nil and empty are
// indistinguishable, both encode as a zero-length slice).
func (w *Writer) BytesField(b []byte) {
	w.Uint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// String appends a length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.BytesField([]byte(s))
}

// Raw appends b verbatim, with no length prefix. Use for fixed-size
// fields whose length both sides already know.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader walks a Writer's encoding back out in the same field order.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("wire: unexpected end of input (need %d, have %d)", n, r.Remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// Uint64 reads 8 little-endian bytes.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Bool reads a single byte.
func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// BytesField reads a length-prefixed byte slice, returning a copy so the
// result does not alias the reader's backing buffer.
func (r *Reader) BytesField() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	b, err := r.BytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Raw reads exactly n bytes with no length prefix, the counterpart of
// Writer.Raw for fixed-size fields.
func (r *Reader) Raw(n int) ([]byte, error) {
	return r.take(n)
}

// Count reads a repeated-field length prefix, rejecting counts that
// cannot possibly fit in the remaining input (each element occupies at
// least elemSize bytes). Decoders never allocate off an unchecked
// attacker-controlled number.
func (r *Reader) Count(elemSize int) (int, error) {
	n, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	if elemSize <= 0 {
		elemSize = 1
	}
	if n > uint64(r.Remaining()/elemSize) {
		return 0, fmt.Errorf("wire: count %d exceeds remaining input", n)
	}
	return int(n), nil
}

// Done reports an error if unread bytes remain -- every decoder must
// consume its entire input, catching truncated or over-long encodings.
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("wire: %d trailing bytes after decode", r.Remaining())
	}
	return nil
}

// ErrShortRead is returned by decoders fed a buffer too short to contain
// even a fixed-size prefix.
var ErrShortRead = io.ErrUnexpectedEOF
