package ninel

import (
	"strings"
	"sync"
)

// A Client runs one 9P2000.L session over a Transport. Requests are
// serialised on a session-wide mutex: one request is on the wire at a
// time, yet every request still carries a unique tag so a move to
// pipelined requests stays a local change.
type Client struct {
	transport Transport
	msize     uint32
	iounit    uint32
	rootFid   Fid
	connected bool

	reqMu sync.Mutex

	fids *FidPool
	tags *TagPool

	Loggable
}

// NewClient prepares a session over the given transport. msize is the
// proposed maximum message size; the transport and the server may both
// lower it. Connect must be called before any operation.
func NewClient(t Transport, msize uint32) *Client {
	if msize == 0 || msize > MaxMsize {
		msize = DefaultMsize
	}
	if tm := t.MaxMessageSize(); tm != 0 && msize > tm {
		msize = tm
	}
	return &Client{
		transport: t,
		msize:     msize,
		rootFid:   NoFid,
		fids:      NewFidPool(DefaultMaxFids),
		tags:      NewTagPool(DefaultMaxTags),
	}
}

func (c *Client) Connected() bool { return c.connected }
func (c *Client) MaxSize() uint32 { return c.msize }
func (c *Client) IOUnit() uint32  { return c.iounit }
func (c *Client) RootFid() Fid    { return c.rootFid }

func (c *Client) AllocFid() Fid      { return c.fids.Allocate() }
func (c *Client) ReleaseFid(f Fid)   { c.fids.Release(f) }
func (c *Client) FidInUse(f Fid) bool { return c.fids.InUse(f) }

// Connect negotiates the protocol version and attaches to the tree named
// by aname. Any failure rolls back every reservation made along the way.
func (c *Client) Connect(aname string) error {
	if c.connected {
		return nil
	}

	// Version exchange, on the reserved handshake tag.
	req := NewMessage(c.msize)
	if err := req.Tversion(NoTag, c.msize, Version9P2000L); err != nil {
		return err
	}
	c.Tracef("Tversion(%d, %s)", c.msize, Version9P2000L)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	t, _, _, err := resp.ReadHeader()
	if err != nil {
		return err
	}
	if t != msgRversion {
		c.Errorf("version: expected Rversion, got %s", t)
		return ErrIOError
	}
	serverMsize, version, err := resp.Rversion()
	if err != nil {
		return err
	}
	if serverMsize < c.msize {
		c.msize = serverMsize
	}
	if version != Version9P2000L {
		c.Errorf("server does not speak %s (got %q)", Version9P2000L, version)
		return ErrNotSupported
	}

	// Attach. The root fid is the first allocation after init.
	rootFid := c.fids.Allocate()
	if rootFid == NoFid {
		return ErrNoMoreFDs
	}
	tag := c.tags.Allocate()
	if tag == NoTag {
		c.fids.Release(rootFid)
		return ErrNoMoreFDs
	}
	req = NewMessage(c.msize)
	if err := req.Tattach(tag, rootFid, NoFid, "", aname, NoUname); err != nil {
		c.tags.Release(tag)
		c.fids.Release(rootFid)
		return err
	}
	c.Tracef("Tattach(%d, aname=%q)", rootFid, aname)
	resp, err = c.do(req)
	c.tags.Release(tag)
	if err != nil {
		c.fids.Release(rootFid)
		return err
	}
	if err := c.expect(resp, msgRattach); err != nil {
		c.fids.Release(rootFid)
		return err
	}
	qid, err := resp.Rattach()
	if err != nil {
		c.fids.Release(rootFid)
		return err
	}
	c.Tracef("Rattach: %s", qid)

	c.rootFid = rootFid
	c.iounit = c.msize - HeaderSize - 4
	c.connected = true
	return nil
}

// Disconnect clunks the root fid and marks the session down. A fresh
// Connect is required afterwards.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.Clunk(c.rootFid)
	c.fids.Release(c.rootFid)
	c.rootFid = NoFid
	c.connected = false
}

// do sends one request and receives its response into a fresh buffer
// sized to msize. The request mutex is held across the full exchange.
func (c *Client) do(req *Message) (*Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.transport.SendMessage(req.Bytes()); err != nil {
		return nil, err
	}
	resp := NewMessage(c.msize)
	n, err := c.transport.ReceiveMessage(resp.Data())
	if err != nil {
		return nil, err
	}
	if err := resp.SetSize(n); err != nil {
		return nil, err
	}
	return resp, nil
}

// expect consumes the response header, translating Rlerror and rejecting
// any type other than want.
func (c *Client) expect(resp *Message, want MsgType) error {
	t, _, _, err := resp.ReadHeader()
	if err != nil {
		return err
	}
	if t == msgRlerror {
		ecode, err := resp.Rlerror()
		if err != nil {
			return err
		}
		return ecode.Status()
	}
	if t != want {
		c.Errorf("expected %s, got %s", want, t)
		return ErrIOError
	}
	return nil
}

// Walk resolves a POSIX-style path from fid onto newfid. An empty path
// (or one that collapses to zero components) is a pure clone. A walk that
// resolves fewer components than requested reports ErrEntryNotFound; the
// server does not bind newfid on failure, so the caller releases newfid
// unconditionally on error.
func (c *Client) Walk(fid, newfid Fid, path string) (Qid, error) {
	var names []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			names = append(names, part)
		}
	}
	qids, err := c.WalkNames(fid, newfid, names)
	if err != nil {
		return Qid{}, err
	}
	if len(qids) < len(names) {
		return Qid{}, ErrEntryNotFound
	}
	if len(qids) == 0 {
		// Pure clone; newfid references the same file as fid.
		return Qid{}, nil
	}
	return qids[len(qids)-1], nil
}

// WalkNames issues a single Twalk. Returns the qids the server resolved,
// which may be fewer than requested.
func (c *Client) WalkNames(fid, newfid Fid, names []string) ([]Qid, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return nil, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Twalk(tag, fid, newfid, names); err != nil {
		return nil, err
	}
	c.Tracef("Twalk(%d -> %d, %v)", fid, newfid, names)
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := c.expect(resp, msgRwalk); err != nil {
		return nil, err
	}
	return resp.Rwalk()
}

// Open opens fid with 9P2000.L flags. A zero iounit from the server falls
// back to the session iounit.
func (c *Client) Open(fid Fid, flags uint32) (Qid, uint32, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return Qid{}, 0, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tlopen(tag, fid, flags); err != nil {
		return Qid{}, 0, err
	}
	c.Tracef("Tlopen(%d, %#x)", fid, flags)
	resp, err := c.do(req)
	if err != nil {
		return Qid{}, 0, err
	}
	if err := c.expect(resp, msgRlopen); err != nil {
		return Qid{}, 0, err
	}
	qid, iounit, err := resp.Rlopen()
	if err != nil {
		return Qid{}, 0, err
	}
	if iounit == 0 {
		iounit = c.iounit
	}
	return qid, iounit, nil
}

// Create creates and opens name under the directory fid; fid becomes the
// fid of the new file.
func (c *Client) Create(fid Fid, name string, flags, mode, gid uint32) (Qid, uint32, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return Qid{}, 0, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tlcreate(tag, fid, name, flags, mode, gid); err != nil {
		return Qid{}, 0, err
	}
	c.Tracef("Tlcreate(%d, %q, %#x)", fid, name, flags)
	resp, err := c.do(req)
	if err != nil {
		return Qid{}, 0, err
	}
	if err := c.expect(resp, msgRlcreate); err != nil {
		return Qid{}, 0, err
	}
	qid, iounit, err := resp.Rlcreate()
	if err != nil {
		return Qid{}, 0, err
	}
	if iounit == 0 {
		iounit = c.iounit
	}
	return qid, iounit, nil
}

// Read issues one Tread, clamped to the session iounit, and copies the
// payload into p. A zero-byte result means end of file.
func (c *Client) Read(fid Fid, offset uint64, p []byte) (int, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return 0, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	count := uint32(len(p))
	if count > c.iounit {
		count = c.iounit
	}
	req := NewMessage(c.msize)
	if err := req.Tread(tag, fid, offset, count); err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if err := c.expect(resp, msgRread); err != nil {
		return 0, err
	}
	data, err := resp.Rread()
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Write issues one Twrite and returns the count the server accepted. The
// payload is clamped to the session iounit, and further to what fits in one
// msize message after the Twrite fields (fid, offset, count).
func (c *Client) Write(fid Fid, offset uint64, p []byte) (int, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return 0, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	limit := c.iounit
	if room := c.msize - (HeaderSize + 4 + 8 + 4); room < limit {
		limit = room
	}
	if uint32(len(p)) > limit {
		p = p[:limit]
	}
	req := NewMessage(c.msize)
	if err := req.Twrite(tag, fid, offset, p); err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if err := c.expect(resp, msgRwrite); err != nil {
		return 0, err
	}
	n, err := resp.Rwrite()
	return int(n), err
}

// Clunk releases fid's binding on the server.
func (c *Client) Clunk(fid Fid) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tclunk(tag, fid); err != nil {
		return err
	}
	c.Tracef("Tclunk(%d)", fid)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRclunk)
}

// Remove removes the file fid names and clunks it.
func (c *Client) Remove(fid Fid) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tremove(tag, fid); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRremove)
}

func (c *Client) GetAttr(fid Fid, mask uint64) (Attr, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return Attr{}, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tgetattr(tag, fid, mask); err != nil {
		return Attr{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Attr{}, err
	}
	if err := c.expect(resp, msgRgetattr); err != nil {
		return Attr{}, err
	}
	return resp.Rgetattr()
}

func (c *Client) SetAttr(fid Fid, sa SetAttr) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tsetattr(tag, fid, sa); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRsetattr)
}

// ReadDir issues one Treaddir at the given cookie offset and copies the
// raw entry stream into p. Decode with DirEntryParser.
func (c *Client) ReadDir(fid Fid, offset uint64, p []byte) (int, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return 0, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	count := uint32(len(p))
	if count > c.iounit {
		count = c.iounit
	}
	req := NewMessage(c.msize)
	if err := req.Treaddir(tag, fid, offset, count); err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if err := c.expect(resp, msgRreaddir); err != nil {
		return 0, err
	}
	data, err := resp.Rreaddir()
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (c *Client) Mkdir(dfid Fid, name string, mode, gid uint32) (Qid, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return Qid{}, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tmkdir(tag, dfid, name, mode, gid); err != nil {
		return Qid{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Qid{}, err
	}
	if err := c.expect(resp, msgRmkdir); err != nil {
		return Qid{}, err
	}
	return resp.Rmkdir()
}

// Unlink removes name from the directory dfid. Pass AtRemoveDir in flags
// to remove a directory.
func (c *Client) Unlink(dfid Fid, name string, flags uint32) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tunlinkat(tag, dfid, name, flags); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRunlinkat)
}

func (c *Client) Rename(olddfid Fid, oldname string, newdfid Fid, newname string) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Trenameat(tag, olddfid, oldname, newdfid, newname); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRrenameat)
}

func (c *Client) StatFS(fid Fid) (FSInfo, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return FSInfo{}, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tstatfs(tag, fid); err != nil {
		return FSInfo{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return FSInfo{}, err
	}
	if err := c.expect(resp, msgRstatfs); err != nil {
		return FSInfo{}, err
	}
	return resp.Rstatfs()
}

func (c *Client) Fsync(fid Fid, dataOnly bool) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	datasync := uint32(0)
	if dataOnly {
		datasync = 1
	}
	req := NewMessage(c.msize)
	if err := req.Tfsync(tag, fid, datasync); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRfsync)
}

func (c *Client) ReadLink(fid Fid) (string, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return "", ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Treadlink(tag, fid); err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if err := c.expect(resp, msgRreadlink); err != nil {
		return "", err
	}
	return resp.Rreadlink()
}

func (c *Client) Symlink(dfid Fid, name, target string, gid uint32) (Qid, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return Qid{}, ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tsymlink(tag, dfid, name, target, gid); err != nil {
		return Qid{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Qid{}, err
	}
	if err := c.expect(resp, msgRsymlink); err != nil {
		return Qid{}, err
	}
	return resp.Rsymlink()
}

// Link creates a hard link to fid named name in the directory dfid.
func (c *Client) Link(dfid, fid Fid, name string) error {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return ErrNoMoreFDs
	}
	defer c.tags.Release(tag)

	req := NewMessage(c.msize)
	if err := req.Tlink(tag, dfid, fid, name); err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.expect(resp, msgRlink)
}
