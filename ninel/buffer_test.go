package ninel

import (
	"bytes"
	"testing"
)

func TestBufferRoundTrip(t *testing.T) {
	b := NewBuffer(64)
	if err := b.WriteUint8(0xab); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}
	if err := b.WriteUint16(0x1234); err != nil {
		t.Fatalf("WriteUint16: %v", err)
	}
	if err := b.WriteUint32(0xdeadbeef); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	if err := b.WriteUint64(0x0102030405060708); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if err := b.WriteString("hi"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := b.WriteQid(Qid{Type: QTDir, Version: 7, Path: 42}); err != nil {
		t.Fatalf("WriteQid: %v", err)
	}

	if v, _ := b.ReadUint8(); v != 0xab {
		t.Fatalf("ReadUint8 = %#x", v)
	}
	if v, _ := b.ReadUint16(); v != 0x1234 {
		t.Fatalf("ReadUint16 = %#x", v)
	}
	if v, _ := b.ReadUint32(); v != 0xdeadbeef {
		t.Fatalf("ReadUint32 = %#x", v)
	}
	if v, _ := b.ReadUint64(); v != 0x0102030405060708 {
		t.Fatalf("ReadUint64 = %#x", v)
	}
	if s, _ := b.ReadString(); s != "hi" {
		t.Fatalf("ReadString = %q", s)
	}
	q, err := b.ReadQid()
	if err != nil {
		t.Fatalf("ReadQid: %v", err)
	}
	if q.Type != QTDir || q.Version != 7 || q.Path != 42 {
		t.Fatalf("ReadQid = %v", q)
	}
	if b.ReadRemaining() != 0 {
		t.Fatalf("expected drained buffer, %d left", b.ReadRemaining())
	}
}

func TestBufferLittleEndian(t *testing.T) {
	b := NewBuffer(16)
	b.WriteUint32(0x11223344)
	if !bytes.Equal(b.Bytes(), []byte{0x44, 0x33, 0x22, 0x11}) {
		t.Fatalf("not little-endian: %v", b.Bytes())
	}
}

func TestBufferOverflowLeavesCursor(t *testing.T) {
	b := NewBuffer(3)
	if err := b.WriteUint16(1); err != nil {
		t.Fatalf("WriteUint16: %v", err)
	}
	if err := b.WriteUint32(2); err != ErrBufferOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if b.Size() != 2 {
		t.Fatalf("write cursor moved on overflow: %d", b.Size())
	}
	if _, err := b.ReadUint32(); err != ErrBufferOverflow {
		t.Fatalf("expected read overflow, got %v", err)
	}
	if b.ReadPosition() != 0 {
		t.Fatalf("read cursor moved on overflow: %d", b.ReadPosition())
	}
}

func TestBufferReadNeverPassesWrite(t *testing.T) {
	b := NewBuffer(16)
	b.WriteUint32(5)
	if err := b.Skip(5); err != ErrBufferOverflow {
		t.Fatalf("skip past write position: %v", err)
	}
	if err := b.Skip(4); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if _, err := b.ReadUint8(); err != ErrBufferOverflow {
		t.Fatalf("read past write position: %v", err)
	}
}

func TestBufferSetSize(t *testing.T) {
	b := NewBuffer(8)
	if err := b.SetSize(9); err != ErrBufferOverflow {
		t.Fatalf("SetSize past capacity: %v", err)
	}
	if err := b.SetSize(8); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if b.ReadRemaining() != 8 {
		t.Fatalf("ReadRemaining = %d", b.ReadRemaining())
	}
}

func TestBufferReadBytesAliases(t *testing.T) {
	b := NewBuffer(8)
	b.WriteUint32(0x01020304)
	p, err := b.ReadBytes(4)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if &p[0] != &b.Data()[0] {
		t.Fatalf("ReadBytes copied; expected an alias of the buffer")
	}
}
