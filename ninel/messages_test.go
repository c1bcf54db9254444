package ninel

import (
	"bytes"
	"testing"
)

// Receives m's wire bytes into a fresh message, as the session does.
func received(t *testing.T, raw []byte) *Message {
	t.Helper()
	m := NewMessage(uint32(len(raw)))
	copy(m.Data(), raw)
	if err := m.SetSize(len(raw)); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	return m
}

func TestTversionWireShape(t *testing.T) {
	m := NewMessage(DefaultMsize)
	if err := m.Tversion(NoTag, 8192, Version9P2000L); err != nil {
		t.Fatalf("Tversion: %v", err)
	}
	raw := m.Bytes()
	if len(raw) != 21 {
		t.Fatalf("Tversion length = %d, want 21", len(raw))
	}
	if bo.Uint32(raw[0:4]) != 21 {
		t.Fatalf("size word = %d", bo.Uint32(raw[0:4]))
	}
	if raw[4] != 100 {
		t.Fatalf("type = %d, want 100", raw[4])
	}
	if bo.Uint16(raw[5:7]) != 0xFFFF {
		t.Fatalf("tag = %#x, want NOTAG", bo.Uint16(raw[5:7]))
	}
	if bo.Uint32(raw[7:11]) != 8192 {
		t.Fatalf("msize = %d", bo.Uint32(raw[7:11]))
	}
	if string(raw[13:]) != Version9P2000L {
		t.Fatalf("version = %q", raw[13:])
	}
}

func TestRversionParse(t *testing.T) {
	m := NewMessage(64)
	if err := m.header(msgRversion, NoTag); err != nil {
		t.Fatalf("header: %v", err)
	}
	m.buf.WriteUint32(4096)
	m.buf.WriteString(Version9P2000L)
	m.finalize()

	r := received(t, m.Bytes())
	typ, tag, size, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if typ != msgRversion || tag != NoTag || size != 21 {
		t.Fatalf("header = %s/%d/%d", typ, tag, size)
	}
	msize, version, err := r.Rversion()
	if err != nil {
		t.Fatalf("Rversion: %v", err)
	}
	if msize != 4096 || version != Version9P2000L {
		t.Fatalf("Rversion = %d, %q", msize, version)
	}
}

func TestTattachFields(t *testing.T) {
	m := NewMessage(DefaultMsize)
	if err := m.Tattach(3, 0, NoFid, "", "export", NoUname); err != nil {
		t.Fatalf("Tattach: %v", err)
	}
	raw := m.Bytes()
	b := BufferOf(raw)
	b.Skip(HeaderSize)
	if fid, _ := b.ReadUint32(); fid != 0 {
		t.Fatalf("fid = %d", fid)
	}
	if afid, _ := b.ReadUint32(); afid != uint32(NoFid) {
		t.Fatalf("afid = %#x", afid)
	}
	if uname, _ := b.ReadString(); uname != "" {
		t.Fatalf("uname = %q", uname)
	}
	if aname, _ := b.ReadString(); aname != "export" {
		t.Fatalf("aname = %q", aname)
	}
	if nuname, _ := b.ReadUint32(); nuname != NoUname {
		t.Fatalf("n_uname = %#x", nuname)
	}
	if b.ReadRemaining() != 0 {
		t.Fatalf("%d trailing bytes", b.ReadRemaining())
	}
}

func TestTwalkFields(t *testing.T) {
	m := NewMessage(DefaultMsize)
	if err := m.Twalk(9, 1, 7, []string{"usr", "share"}); err != nil {
		t.Fatalf("Twalk: %v", err)
	}
	b := BufferOf(m.Bytes())
	b.Skip(HeaderSize)
	if fid, _ := b.ReadUint32(); fid != 1 {
		t.Fatalf("fid = %d", fid)
	}
	if newfid, _ := b.ReadUint32(); newfid != 7 {
		t.Fatalf("newfid = %d", newfid)
	}
	if n, _ := b.ReadUint16(); n != 2 {
		t.Fatalf("nwname = %d", n)
	}
	if s, _ := b.ReadString(); s != "usr" {
		t.Fatalf("wname[0] = %q", s)
	}
	if s, _ := b.ReadString(); s != "share" {
		t.Fatalf("wname[1] = %q", s)
	}
}

func TestTwalkTooManyNames(t *testing.T) {
	names := make([]string, MaxWalkElements+1)
	for i := range names {
		names[i] = "x"
	}
	m := NewMessage(DefaultMsize)
	if err := m.Twalk(1, 1, 2, names); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestRwalkParse(t *testing.T) {
	m := NewMessage(128)
	m.header(msgRwalk, 9)
	m.buf.WriteUint16(2)
	m.buf.WriteQid(Qid{Type: QTDir, Version: 1, Path: 100})
	m.buf.WriteQid(Qid{Type: QTFile, Version: 2, Path: 200})
	m.finalize()

	r := received(t, m.Bytes())
	if _, _, _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	qids, err := r.Rwalk()
	if err != nil {
		t.Fatalf("Rwalk: %v", err)
	}
	if len(qids) != 2 || qids[0].Path != 100 || qids[1].Path != 200 {
		t.Fatalf("Rwalk = %v", qids)
	}
}

func TestTwritePayloadWrittenOnce(t *testing.T) {
	payload := []byte("only once")
	m := NewMessage(DefaultMsize)
	if err := m.Twrite(4, 8, 64, payload); err != nil {
		t.Fatalf("Twrite: %v", err)
	}
	raw := m.Bytes()
	want := HeaderSize + 4 + 8 + 4 + len(payload)
	if len(raw) != want {
		t.Fatalf("Twrite length = %d, want %d", len(raw), want)
	}
	if bytes.Count(raw, payload) != 1 {
		t.Fatalf("payload appears %d times", bytes.Count(raw, payload))
	}
	b := BufferOf(raw)
	b.Skip(HeaderSize)
	if fid, _ := b.ReadUint32(); fid != 8 {
		t.Fatalf("fid = %d", fid)
	}
	if off, _ := b.ReadUint64(); off != 64 {
		t.Fatalf("offset = %d", off)
	}
	if count, _ := b.ReadUint32(); count != uint32(len(payload)) {
		t.Fatalf("count = %d", count)
	}
}

func TestRreadZeroCopy(t *testing.T) {
	m := NewMessage(128)
	m.header(msgRread, 2)
	m.buf.WriteData([]byte("Hello, world!"))
	m.finalize()

	r := received(t, m.Bytes())
	if _, _, _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	data, err := r.Rread()
	if err != nil {
		t.Fatalf("Rread: %v", err)
	}
	if string(data) != "Hello, world!" {
		t.Fatalf("Rread = %q", data)
	}
	if &data[0] != &r.Data()[HeaderSize+4] {
		t.Fatalf("Rread copied; expected a view into the response buffer")
	}
}

func TestRgetattrParse(t *testing.T) {
	m := NewMessage(256)
	m.header(msgRgetattr, 5)
	m.buf.WriteUint64(GetattrBasic)
	m.buf.WriteQid(Qid{Type: QTFile, Version: 3, Path: 77})
	m.buf.WriteUint32(ModeRegular | 0644)
	m.buf.WriteUint32(1000) // uid
	m.buf.WriteUint32(100)  // gid
	vals := []uint64{1, 0, 13, 4096, 8, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
	for _, v := range vals {
		m.buf.WriteUint64(v)
	}
	m.finalize()

	r := received(t, m.Bytes())
	if _, _, _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	attr, err := r.Rgetattr()
	if err != nil {
		t.Fatalf("Rgetattr: %v", err)
	}
	if attr.Qid.Path != 77 || attr.Mode != ModeRegular|0644 || attr.UID != 1000 {
		t.Fatalf("Rgetattr = %+v", attr)
	}
	if attr.Size != 13 || attr.BlkSize != 4096 || attr.MtimeSec != 12 {
		t.Fatalf("Rgetattr fields misaligned: %+v", attr)
	}
	if attr.DataVersion != 19 {
		t.Fatalf("DataVersion = %d", attr.DataVersion)
	}
}

func TestTsetattrFields(t *testing.T) {
	sa := SetAttr{
		Valid:    SetattrSize | SetattrMtime | SetattrMtimeSet,
		Size:     4096,
		MtimeSec: 1234, MtimeNsec: 5678,
	}
	m := NewMessage(DefaultMsize)
	if err := m.Tsetattr(6, 3, sa); err != nil {
		t.Fatalf("Tsetattr: %v", err)
	}
	b := BufferOf(m.Bytes())
	b.Skip(HeaderSize)
	b.Skip(4) // fid
	if valid, _ := b.ReadUint32(); valid != sa.Valid {
		t.Fatalf("valid = %#x", valid)
	}
	b.Skip(4 + 4 + 4) // mode, uid, gid
	if size, _ := b.ReadUint64(); size != 4096 {
		t.Fatalf("size = %d", size)
	}
	b.Skip(8 + 8) // atime
	if sec, _ := b.ReadUint64(); sec != 1234 {
		t.Fatalf("mtime_sec = %d", sec)
	}
}

func TestRstatfsParse(t *testing.T) {
	m := NewMessage(128)
	m.header(msgRstatfs, 1)
	m.buf.WriteUint32(0x01021997) // V9FS_MAGIC
	m.buf.WriteUint32(4096)
	for _, v := range []uint64{1000, 400, 300, 50, 25, 9} {
		m.buf.WriteUint64(v)
	}
	m.buf.WriteUint32(255)
	m.finalize()

	r := received(t, m.Bytes())
	if _, _, _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	info, err := r.Rstatfs()
	if err != nil {
		t.Fatalf("Rstatfs: %v", err)
	}
	if info.BSize != 4096 || info.Blocks != 1000 || info.BAvail != 300 || info.NameLen != 255 {
		t.Fatalf("Rstatfs = %+v", info)
	}
}

func TestRlerrorParse(t *testing.T) {
	m := NewMessage(64)
	m.header(msgRlerror, 7)
	m.buf.WriteUint32(uint32(ENOENT))
	m.finalize()

	r := received(t, m.Bytes())
	typ, _, _, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if typ != msgRlerror {
		t.Fatalf("type = %s", typ)
	}
	ecode, err := r.Rlerror()
	if err != nil {
		t.Fatalf("Rlerror: %v", err)
	}
	if ecode.Status() != ErrEntryNotFound {
		t.Fatalf("status = %v", ecode.Status())
	}
}

func TestReadHeaderRejectsTruncated(t *testing.T) {
	m := NewMessage(64)
	m.header(msgRclunk, 1)
	m.finalize()
	raw := m.Bytes()
	bo.PutUint32(raw[0:4], 64) // size word claims more than was received

	r := received(t, raw)
	if _, _, _, err := r.ReadHeader(); err != ErrBufferOverflow {
		t.Fatalf("expected overflow on oversized header, got %v", err)
	}
}
