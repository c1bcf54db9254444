package ninel

import "encoding/binary"

var bo = binary.LittleEndian

// A Buffer is a fixed-capacity message buffer with independent write and
// read cursors. All multi-byte integers are little-endian on the wire.
// Operations that would cross the capacity (writes) or the filled region
// (reads) fail with ErrBufferOverflow and leave the cursors untouched.
type Buffer struct {
	data []byte
	wpos int
	rpos int
}

func NewBuffer(capacity uint32) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// BufferOf wraps an existing slice as a fully written buffer, ready for
// reading. Used to decode windows carved out of a larger message (readdir
// payloads).
func BufferOf(p []byte) *Buffer {
	return &Buffer{data: p, wpos: len(p)}
}

func (b *Buffer) Reset()     { b.wpos, b.rpos = 0, 0 }
func (b *Buffer) ResetRead() { b.rpos = 0 }

// Data exposes the full capacity, for transports receiving into the buffer.
func (b *Buffer) Data() []byte { return b.data }

// Bytes returns the written region.
func (b *Buffer) Bytes() []byte { return b.data[:b.wpos] }

func (b *Buffer) Capacity() int      { return len(b.data) }
func (b *Buffer) Size() int          { return b.wpos }
func (b *Buffer) Remaining() int     { return len(b.data) - b.wpos }
func (b *Buffer) ReadRemaining() int { return b.wpos - b.rpos }
func (b *Buffer) ReadPosition() int  { return b.rpos }

// SetSize marks the first size bytes as written, for received messages.
func (b *Buffer) SetSize(size int) error {
	if size < 0 || size > len(b.data) {
		return ErrBufferOverflow
	}
	b.wpos = size
	b.rpos = 0
	return nil
}

func (b *Buffer) WriteUint8(v uint8) error {
	if b.Remaining() < 1 {
		return ErrBufferOverflow
	}
	b.data[b.wpos] = v
	b.wpos++
	return nil
}

func (b *Buffer) WriteUint16(v uint16) error {
	if b.Remaining() < 2 {
		return ErrBufferOverflow
	}
	bo.PutUint16(b.data[b.wpos:], v)
	b.wpos += 2
	return nil
}

func (b *Buffer) WriteUint32(v uint32) error {
	if b.Remaining() < 4 {
		return ErrBufferOverflow
	}
	bo.PutUint32(b.data[b.wpos:], v)
	b.wpos += 4
	return nil
}

func (b *Buffer) WriteUint64(v uint64) error {
	if b.Remaining() < 8 {
		return ErrBufferOverflow
	}
	bo.PutUint64(b.data[b.wpos:], v)
	b.wpos += 8
	return nil
}

// WriteString writes a 9P string: u16 length prefix, raw bytes, no NUL.
func (b *Buffer) WriteString(s string) error {
	if len(s) > maxStringLen || b.Remaining() < 2+len(s) {
		return ErrBufferOverflow
	}
	bo.PutUint16(b.data[b.wpos:], uint16(len(s)))
	copy(b.data[b.wpos+2:], s)
	b.wpos += 2 + len(s)
	return nil
}

// WriteData writes a u32-length-prefixed blob.
func (b *Buffer) WriteData(p []byte) error {
	if b.Remaining() < 4+len(p) {
		return ErrBufferOverflow
	}
	bo.PutUint32(b.data[b.wpos:], uint32(len(p)))
	copy(b.data[b.wpos+4:], p)
	b.wpos += 4 + len(p)
	return nil
}

func (b *Buffer) WriteQid(q Qid) error {
	if b.Remaining() < QidSize {
		return ErrBufferOverflow
	}
	b.data[b.wpos] = byte(q.Type)
	bo.PutUint32(b.data[b.wpos+1:], q.Version)
	bo.PutUint64(b.data[b.wpos+5:], q.Path)
	b.wpos += QidSize
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	if b.ReadRemaining() < 1 {
		return 0, ErrBufferOverflow
	}
	v := b.data[b.rpos]
	b.rpos++
	return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	if b.ReadRemaining() < 2 {
		return 0, ErrBufferOverflow
	}
	v := bo.Uint16(b.data[b.rpos:])
	b.rpos += 2
	return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if b.ReadRemaining() < 4 {
		return 0, ErrBufferOverflow
	}
	v := bo.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	if b.ReadRemaining() < 8 {
		return 0, ErrBufferOverflow
	}
	v := bo.Uint64(b.data[b.rpos:])
	b.rpos += 8
	return v, nil
}

func (b *Buffer) ReadString() (string, error) {
	if b.ReadRemaining() < 2 {
		return "", ErrBufferOverflow
	}
	n := int(bo.Uint16(b.data[b.rpos:]))
	if b.ReadRemaining() < 2+n {
		return "", ErrBufferOverflow
	}
	s := string(b.data[b.rpos+2 : b.rpos+2+n])
	b.rpos += 2 + n
	return s, nil
}

// ReadBytes returns the next n bytes without copying. The returned slice
// aliases the buffer; it is valid only as long as the buffer is.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.ReadRemaining() < n {
		return nil, ErrBufferOverflow
	}
	p := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

func (b *Buffer) ReadQid() (Qid, error) {
	if b.ReadRemaining() < QidSize {
		return Qid{}, ErrBufferOverflow
	}
	q := Qid{
		Type:    QidType(b.data[b.rpos]),
		Version: bo.Uint32(b.data[b.rpos+1:]),
		Path:    bo.Uint64(b.data[b.rpos+5:]),
	}
	b.rpos += QidSize
	return q, nil
}

func (b *Buffer) Skip(n int) error {
	if n < 0 || b.ReadRemaining() < n {
		return ErrBufferOverflow
	}
	b.rpos += n
	return nil
}
