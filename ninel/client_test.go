package ninel

import (
	"errors"
	"sort"
	"sync"
	"testing"
)

// testFile is one node of the fake server's tree.
type testFile struct {
	qid      Qid
	mode     uint32
	content  []byte
	children map[string]*testFile
}

// testServer implements Transport by answering each request in memory,
// the way a 9P2000.L server would. It records the request types it saw.
type testServer struct {
	t     *testing.T
	msize uint32
	root  *testFile

	mu   sync.Mutex
	fids map[Fid]*testFile
	open map[Fid]bool
	log  []MsgType
	resp []byte
}

func newTestServer(t *testing.T, msize uint32) *testServer {
	root := &testFile{
		qid:      Qid{Type: QTDir, Version: 0, Path: 1},
		mode:     ModeDir | 0755,
		children: map[string]*testFile{},
	}
	return &testServer{
		t:     t,
		msize: msize,
		root:  root,
		fids:  make(map[Fid]*testFile),
		open:  make(map[Fid]bool),
	}
}

func (s *testServer) addFile(name string, path uint64, content []byte) *testFile {
	f := &testFile{
		qid:     Qid{Type: QTFile, Version: 0, Path: path},
		mode:    ModeRegular | 0644,
		content: content,
	}
	s.root.children[name] = f
	return f
}

func (s *testServer) requests(tt MsgType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.log {
		if l == tt {
			n++
		}
	}
	return n
}

func (s *testServer) Init() error            { return nil }
func (s *testServer) Uninit()                {}
func (s *testServer) MaxMessageSize() uint32 { return MaxMsize }
func (s *testServer) Name() string           { return "test" }

func (s *testServer) ReceiveMessage(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp == nil {
		return 0, ErrIOError
	}
	n := copy(p, s.resp)
	s.resp = nil
	return n, nil
}

func (s *testServer) SendMessage(p []byte) error {
	req := NewMessage(uint32(len(p)))
	copy(req.Data(), p)
	req.SetSize(len(p))
	typ, tag, _, err := req.ReadHeader()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.log = append(s.log, typ)
	s.mu.Unlock()
	resp := s.handle(typ, tag, req.buf)
	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()
	return nil
}

func (s *testServer) reply(tt MsgType, tag Tag, body func(b *Buffer)) []byte {
	m := NewMessage(s.msize)
	if err := m.header(tt, tag); err != nil {
		s.t.Fatalf("building %s reply: %v", tt, err)
	}
	if body != nil {
		body(m.buf)
	}
	m.finalize()
	return append([]byte(nil), m.Bytes()...)
}

func (s *testServer) rlerror(tag Tag, e Errno) []byte {
	return s.reply(msgRlerror, tag, func(b *Buffer) { b.WriteUint32(uint32(e)) })
}

func writeAttr(b *Buffer, f *testFile) {
	b.WriteUint64(GetattrBasic)
	b.WriteQid(f.qid)
	b.WriteUint32(f.mode)
	b.WriteUint32(0) // uid
	b.WriteUint32(0) // gid
	b.WriteUint64(1) // nlink
	b.WriteUint64(0) // rdev
	b.WriteUint64(uint64(len(f.content)))
	b.WriteUint64(4096) // blksize
	b.WriteUint64(uint64(len(f.content)+511) / 512)
	for i := 0; i < 8; i++ {
		b.WriteUint64(0) // times
	}
	b.WriteUint64(0) // gen
	b.WriteUint64(0) // data_version
}

func (s *testServer) handle(typ MsgType, tag Tag, body *Buffer) []byte {
	switch typ {
	case msgTversion:
		body.ReadUint32()
		version, _ := body.ReadString()
		return s.reply(msgRversion, tag, func(b *Buffer) {
			b.WriteUint32(s.msize)
			b.WriteString(version)
		})
	case msgTattach:
		fid, _ := body.ReadUint32()
		s.mu.Lock()
		s.fids[Fid(fid)] = s.root
		s.mu.Unlock()
		return s.reply(msgRattach, tag, func(b *Buffer) { b.WriteQid(s.root.qid) })
	case msgTwalk:
		fid, _ := body.ReadUint32()
		newfid, _ := body.ReadUint32()
		n, _ := body.ReadUint16()
		s.mu.Lock()
		cur, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		var qids []Qid
		for i := 0; i < int(n); i++ {
			name, _ := body.ReadString()
			next, ok := cur.children[name]
			if !ok {
				break
			}
			cur = next
			qids = append(qids, next.qid)
		}
		if len(qids) == int(n) {
			s.mu.Lock()
			s.fids[Fid(newfid)] = cur
			s.mu.Unlock()
		} else if len(qids) == 0 {
			return s.rlerror(tag, ENOENT)
		}
		return s.reply(msgRwalk, tag, func(b *Buffer) {
			b.WriteUint16(uint16(len(qids)))
			for _, q := range qids {
				b.WriteQid(q)
			}
		})
	case msgTlopen:
		fid, _ := body.ReadUint32()
		s.mu.Lock()
		f, ok := s.fids[Fid(fid)]
		if ok {
			s.open[Fid(fid)] = true
		}
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		return s.reply(msgRlopen, tag, func(b *Buffer) {
			b.WriteQid(f.qid)
			b.WriteUint32(0)
		})
	case msgTread:
		fid, _ := body.ReadUint32()
		offset, _ := body.ReadUint64()
		count, _ := body.ReadUint32()
		s.mu.Lock()
		f, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		data := []byte{}
		if offset < uint64(len(f.content)) {
			data = f.content[offset:]
			if uint64(len(data)) > uint64(count) {
				data = data[:count]
			}
		}
		return s.reply(msgRread, tag, func(b *Buffer) { b.WriteData(data) })
	case msgTwrite:
		fid, _ := body.ReadUint32()
		offset, _ := body.ReadUint64()
		count, _ := body.ReadUint32()
		data, _ := body.ReadBytes(int(count))
		s.mu.Lock()
		f, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		end := offset + uint64(len(data))
		if end > uint64(len(f.content)) {
			grown := make([]byte, end)
			copy(grown, f.content)
			f.content = grown
		}
		copy(f.content[offset:], data)
		return s.reply(msgRwrite, tag, func(b *Buffer) { b.WriteUint32(count) })
	case msgTclunk:
		fid, _ := body.ReadUint32()
		s.mu.Lock()
		delete(s.fids, Fid(fid))
		delete(s.open, Fid(fid))
		s.mu.Unlock()
		return s.reply(msgRclunk, tag, nil)
	case msgTgetattr:
		fid, _ := body.ReadUint32()
		s.mu.Lock()
		f, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		return s.reply(msgRgetattr, tag, func(b *Buffer) { writeAttr(b, f) })
	case msgTsetattr:
		return s.reply(msgRsetattr, tag, nil)
	case msgTreaddir:
		fid, _ := body.ReadUint32()
		offset, _ := body.ReadUint64()
		s.mu.Lock()
		f, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		names := make([]string, 0, len(f.children))
		for name := range f.children {
			names = append(names, name)
		}
		sort.Strings(names)
		return s.reply(msgRreaddir, tag, func(b *Buffer) {
			ents := NewBuffer(s.msize)
			for i, name := range names {
				cookie := uint64(i + 1)
				if cookie <= offset {
					continue
				}
				child := f.children[name]
				typ := uint8(8)
				if child.qid.Type.IsDir() {
					typ = 4
				}
				ents.WriteQid(child.qid)
				ents.WriteUint64(cookie)
				ents.WriteUint8(typ)
				ents.WriteString(name)
			}
			b.WriteData(ents.Bytes())
		})
	case msgTmkdir:
		dfid, _ := body.ReadUint32()
		name, _ := body.ReadString()
		s.mu.Lock()
		f, ok := s.fids[Fid(dfid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		child := &testFile{
			qid:      Qid{Type: QTDir, Path: 1000 + uint64(len(f.children))},
			mode:     ModeDir | 0755,
			children: map[string]*testFile{},
		}
		f.children[name] = child
		return s.reply(msgRmkdir, tag, func(b *Buffer) { b.WriteQid(child.qid) })
	case msgTlcreate:
		fid, _ := body.ReadUint32()
		name, _ := body.ReadString()
		s.mu.Lock()
		dir, ok := s.fids[Fid(fid)]
		s.mu.Unlock()
		if !ok || dir.children == nil {
			return s.rlerror(tag, EINVAL)
		}
		child := &testFile{
			qid:  Qid{Type: QTFile, Path: 2000 + uint64(len(dir.children))},
			mode: ModeRegular | 0644,
		}
		dir.children[name] = child
		s.mu.Lock()
		s.fids[Fid(fid)] = child
		s.open[Fid(fid)] = true
		s.mu.Unlock()
		return s.reply(msgRlcreate, tag, func(b *Buffer) {
			b.WriteQid(child.qid)
			b.WriteUint32(0)
		})
	case msgTunlinkat:
		dfid, _ := body.ReadUint32()
		name, _ := body.ReadString()
		s.mu.Lock()
		dir, ok := s.fids[Fid(dfid)]
		s.mu.Unlock()
		if !ok {
			return s.rlerror(tag, EINVAL)
		}
		if _, ok := dir.children[name]; !ok {
			return s.rlerror(tag, ENOENT)
		}
		delete(dir.children, name)
		return s.reply(msgRunlinkat, tag, nil)
	case msgTrenameat:
		olddfid, _ := body.ReadUint32()
		oldname, _ := body.ReadString()
		newdfid, _ := body.ReadUint32()
		newname, _ := body.ReadString()
		s.mu.Lock()
		from, ok1 := s.fids[Fid(olddfid)]
		to, ok2 := s.fids[Fid(newdfid)]
		s.mu.Unlock()
		if !ok1 || !ok2 {
			return s.rlerror(tag, EINVAL)
		}
		child, ok := from.children[oldname]
		if !ok {
			return s.rlerror(tag, ENOENT)
		}
		delete(from.children, oldname)
		to.children[newname] = child
		return s.reply(msgRrenameat, tag, nil)
	case msgTfsync:
		return s.reply(msgRfsync, tag, nil)
	case msgTstatfs:
		return s.reply(msgRstatfs, tag, func(b *Buffer) {
			b.WriteUint32(0x01021997)
			b.WriteUint32(4096)
			for _, v := range []uint64{1000, 500, 400, 64, 32, 7} {
				b.WriteUint64(v)
			}
			b.WriteUint32(255)
		})
	default:
		return s.rlerror(tag, EOPNOTSUPP)
	}
}

func connect(t *testing.T, s *testServer) *Client {
	t.Helper()
	c := NewClient(s, DefaultMsize)
	if err := c.Connect(""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestConnectNegotiatesVersion(t *testing.T) {
	s := newTestServer(t, 4096)
	c := connect(t, s)

	if c.MaxSize() != 4096 {
		t.Fatalf("negotiated msize = %d, want 4096", c.MaxSize())
	}
	if c.IOUnit() != 4085 {
		t.Fatalf("iounit = %d, want 4085", c.IOUnit())
	}
	if !c.Connected() {
		t.Fatalf("expected connected session")
	}
	if !c.FidInUse(c.RootFid()) {
		t.Fatalf("root fid %d not held in the allocator", c.RootFid())
	}
}

func TestConnectRejectsWrongVersion(t *testing.T) {
	s := newTestServer(t, 4096)
	c := NewClient(transportFunc{
		send: func(p []byte) error {
			req := NewMessage(uint32(len(p)))
			copy(req.Data(), p)
			req.SetSize(len(p))
			_, tag, _, _ := req.ReadHeader()
			s.mu.Lock()
			s.resp = s.reply(msgRversion, tag, func(b *Buffer) {
				b.WriteUint32(4096)
				b.WriteString("9P2000")
			})
			s.mu.Unlock()
			return nil
		},
		recv: s.ReceiveMessage,
	}, DefaultMsize)
	if err := c.Connect(""); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported for 9P2000 server, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("session should not be connected")
	}
}

// transportFunc adapts closures to Transport for handshake tests.
type transportFunc struct {
	send func(p []byte) error
	recv func(p []byte) (int, error)
}

func (f transportFunc) Init() error                     { return nil }
func (f transportFunc) Uninit()                         {}
func (f transportFunc) SendMessage(p []byte) error      { return f.send(p) }
func (f transportFunc) ReceiveMessage(p []byte) (int, error) { return f.recv(p) }
func (f transportFunc) MaxMessageSize() uint32          { return MaxMsize }
func (f transportFunc) Name() string                    { return "func" }

func TestWalkMissingEntryReleasesNothingServerSide(t *testing.T) {
	s := newTestServer(t, DefaultMsize)
	c := connect(t, s)

	newfid := c.AllocFid()
	_, err := c.Walk(c.RootFid(), newfid, "nope")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	s.mu.Lock()
	_, bound := s.fids[newfid]
	s.mu.Unlock()
	if bound {
		t.Fatalf("server bound fid %d on a failed walk", newfid)
	}
	c.ReleaseFid(newfid)
	if c.FidInUse(newfid) {
		t.Fatalf("fid %d still allocated after failed walk", newfid)
	}
}

func TestWalkPartialResolutionIsNotFound(t *testing.T) {
	s := newTestServer(t, DefaultMsize)
	sub := &testFile{
		qid:      Qid{Type: QTDir, Path: 5},
		mode:     ModeDir | 0755,
		children: map[string]*testFile{},
	}
	s.root.children["sub"] = sub
	c := connect(t, s)

	newfid := c.AllocFid()
	defer c.ReleaseFid(newfid)
	_, err := c.Walk(c.RootFid(), newfid, "/sub/missing")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound on partial walk, got %v", err)
	}
}

func TestWalkCollapsesEmptyComponents(t *testing.T) {
	s := newTestServer(t, DefaultMsize)
	s.addFile("hello.txt", 9, []byte("hi"))
	c := connect(t, s)

	newfid := c.AllocFid()
	defer c.ReleaseFid(newfid)
	qid, err := c.Walk(c.RootFid(), newfid, "//hello.txt/")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if qid.Path != 9 {
		t.Fatalf("walked to %v", qid)
	}
}

func TestZeroNameWalkClones(t *testing.T) {
	s := newTestServer(t, DefaultMsize)
	c := connect(t, s)

	newfid := c.AllocFid()
	defer c.ReleaseFid(newfid)
	if _, err := c.Walk(c.RootFid(), newfid, ""); err != nil {
		t.Fatalf("clone walk: %v", err)
	}
	s.mu.Lock()
	same := s.fids[newfid] == s.root
	s.mu.Unlock()
	if !same {
		t.Fatalf("clone does not reference the same file")
	}
}

func TestOpenReadSingleRequest(t *testing.T) {
	s := newTestServer(t, 4096)
	s.addFile("hello.txt", 11, []byte("Hello, world!"))
	c := connect(t, s)

	fid := c.AllocFid()
	if _, err := c.Walk(c.RootFid(), fid, "hello.txt"); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if _, _, err := c.Open(fid, OpenRead); err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := make([]byte, 13)
	n, err := c.Read(fid, 0, p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 13 || string(p[:n]) != "Hello, world!" {
		t.Fatalf("Read = %d %q", n, p[:n])
	}
	if got := s.requests(msgTread); got != 1 {
		t.Fatalf("issued %d read requests, want 1", got)
	}
}

func TestErrnoTranslation(t *testing.T) {
	cases := []struct {
		errno Errno
		want  error
	}{
		{EPERM, ErrPermissionDenied},
		{EACCES, ErrPermissionDenied},
		{ENOENT, ErrEntryNotFound},
		{ENODATA, ErrEntryNotFound},
		{EIO, ErrIOError},
		{ENXIO, ErrDeviceNotReady},
		{ENODEV, ErrDeviceNotReady},
		{EEXIST, ErrFileExists},
		{EXDEV, ErrCrossDeviceLink},
		{ENOTDIR, ErrNotADirectory},
		{EISDIR, ErrIsADirectory},
		{EINVAL, ErrBadValue},
		{ESPIPE, ErrBadValue},
		{ENFILE, ErrNoMoreFDs},
		{EMFILE, ErrNoMoreFDs},
		{ENOSPC, ErrDeviceFull},
		{EROFS, ErrReadOnlyDevice},
		{ENAMETOOLONG, ErrNameTooLong},
		{ENOTEMPTY, ErrDirectoryNotEmpty},
		{EOVERFLOW, ErrBufferOverflow},
		{EOPNOTSUPP, ErrNotSupported},
	}
	for _, tc := range cases {
		if got := tc.errno.Status(); got != tc.want {
			t.Errorf("errno %d -> %v, want %v", tc.errno, got, tc.want)
		}
	}
	if Errno(0).Status() != nil {
		t.Errorf("errno 0 should be success")
	}
	if !errors.Is(Errno(999).Status(), ErrGeneric) {
		t.Errorf("unknown errno should map to the generic failure")
	}
}
