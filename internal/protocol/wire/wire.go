package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortValue   = errors.New("wire: short value")
	ErrStringLength = errors.New("wire: invalid string length")
)

// Sizes reported to the debugger for variably sized identifiers.
const (
	FieldIDSize         = 8
	MethodIDSize        = 8
	ObjectIDSize        = 8
	ReferenceTypeIDSize = 8
	FrameIDSize         = 8
)

// Writer appends big-endian JDWP values to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) U1(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.U1(1)
	}
	return w.U1(0)
}

func (w *Writer) U2(v uint16) *Writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) U4(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) U8(v uint64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
	return w
}

// ID appends an object, reference type, method, field or frame identifier.
func (w *Writer) ID(v uint64) *Writer {
	return w.U8(v)
}

// String appends a u4 byte length followed by the UTF-8 bytes.
func (w *Writer) String(s string) *Writer {
	w.U4(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader is a read cursor over a packet payload.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortValue, what, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U1() (uint8, error) {
	b, err := r.take(1, "u1")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U1()
	return v != 0, err
}

func (r *Reader) U2() (uint16, error) {
	b, err := r.take(2, "u2")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) U4() (uint32, error) {
	b, err := r.take(4, "u4")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) U8() (uint64, error) {
	b, err := r.take(8, "u8")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ID() (uint64, error) {
	return r.U8()
}

func (r *Reader) String() (string, error) {
	n, err := r.U4()
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Remaining()) {
		return "", fmt.Errorf("%w: %d", ErrStringLength, n)
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Rest consumes and returns every remaining byte.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}
