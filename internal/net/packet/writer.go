package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a feed packet. All multi-byte writes are little-endian.
type Writer struct {
	buf []byte
	cs  *Charset
}

func NewWriter(cs *Charset) *Writer {
	if cs == nil {
		cs = UTF8
	}
	return &Writer{buf: make([]byte, 0, 32), cs: cs}
}

func NewWriterWithOpcode(opcode byte, cs *Charset) *Writer {
	w := NewWriter(cs)
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteD writes 4 bytes little-endian (signed or unsigned via cast).
func (w *Writer) WriteD(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteF writes a little-endian IEEE 754 float32.
func (w *Writer) WriteF(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteS writes a null-terminated string in the feed charset.
func (w *Writer) WriteS(s string) {
	w.buf = append(w.buf, w.cs.encode(s)...)
	w.buf = append(w.buf, 0)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the packet content.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}
