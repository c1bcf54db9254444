package ninel

import (
	"io"
	"sync"
)

// Directory handles refill from the server in windows of this many bytes.
const dirBufferSize = 4096

// A Volume is a mounted 9P2000.L tree: one connected Client plus the
// canonical inode table. The table guarantees that every qid path has at
// most one Inode object at a time, however many fids reference the file.
type Volume struct {
	c        *Client
	readOnly bool

	mu     sync.Mutex
	inodes map[uint64]*Inode
	root   *Inode

	Loggable
}

// NewVolume builds the object layer over a connected client: it getattrs
// the root fid and publishes the root inode.
func NewVolume(c *Client, readOnly bool) (*Volume, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	v := &Volume{
		c:        c,
		readOnly: readOnly,
		inodes:   make(map[uint64]*Inode),
		Loggable: c.Loggable,
	}
	attr, err := c.GetAttr(c.RootFid(), GetattrBasic)
	if err != nil {
		return nil, err
	}
	root := newInode(v, c.RootFid(), attr.Qid)
	root.setAttr(attr)
	root.refs = 1
	v.inodes[root.id] = root
	v.root = root
	return v, nil
}

func (v *Volume) Client() *Client { return v.c }
func (v *Volume) Root() *Inode    { return v.root }
func (v *Volume) ReadOnly() bool  { return v.readOnly }

// StatFS reports filesystem statistics from the root fid.
func (v *Volume) StatFS() (FSInfo, error) {
	return v.c.StatFS(v.c.RootFid())
}

// Unmount tears down the session. Outstanding handles are invalid
// afterwards.
func (v *Volume) Unmount() {
	v.c.Disconnect()
	v.c.transport.Uninit()
}

// getInode canonicalises a freshly walked fid to an inode. If an inode
// for the qid already exists the walked fid is clunked and released and
// the existing inode gains a reference; otherwise a new inode owning fid
// is published. On error the fid has been cleaned up.
func (v *Volume) getInode(fid Fid, qid Qid) (*Inode, error) {
	id := qid.Path

	v.mu.Lock()
	if ino, ok := v.inodes[id]; ok {
		ino.refs++
		v.mu.Unlock()
		v.c.Clunk(fid)
		v.c.ReleaseFid(fid)
		return ino, nil
	}
	v.mu.Unlock()

	ino := newInode(v, fid, qid)
	if err := ino.updateStat(); err != nil {
		v.c.Clunk(fid)
		v.c.ReleaseFid(fid)
		return nil, err
	}

	v.mu.Lock()
	if existing, ok := v.inodes[id]; ok {
		// Lost the publish race; keep the established inode.
		existing.refs++
		v.mu.Unlock()
		v.c.Clunk(fid)
		v.c.ReleaseFid(fid)
		return existing, nil
	}
	ino.refs = 1
	v.inodes[id] = ino
	v.mu.Unlock()
	return ino, nil
}

func (v *Volume) retain(ino *Inode) {
	v.mu.Lock()
	ino.refs++
	v.mu.Unlock()
}

// forget drops one reference. At zero the inode leaves the table and its
// fid is clunked. The root attachment stays resident for the lifetime of
// the volume.
func (v *Volume) forget(ino *Inode) {
	v.mu.Lock()
	if ino == v.root {
		v.mu.Unlock()
		return
	}
	ino.refs--
	if ino.refs > 0 {
		v.mu.Unlock()
		return
	}
	delete(v.inodes, ino.id)
	v.mu.Unlock()

	if ino.fid != v.c.RootFid() && ino.fid != NoFid {
		v.c.Clunk(ino.fid)
		v.c.ReleaseFid(ino.fid)
	}
}

// An Inode is the client-side object for one file, keyed by the qid path.
// It holds the fid that names the file on the server and a one-slot stat
// cache invalidated by every mutating operation.
type Inode struct {
	vol *Volume
	id  uint64
	fid Fid
	qid Qid

	mu        sync.Mutex
	mode      uint32
	size      uint64
	statValid bool

	refs int // guarded by vol.mu
}

func newInode(v *Volume, fid Fid, qid Qid) *Inode {
	ino := &Inode{vol: v, id: qid.Path, fid: fid, qid: qid}
	// Initial mode from the qid type, refined by the first getattr.
	switch {
	case qid.Type.IsDir():
		ino.mode = ModeDir | 0755
	case qid.Type.IsSymlink():
		ino.mode = ModeSymlink | 0777
	default:
		ino.mode = ModeRegular | 0644
	}
	return ino
}

func (ino *Inode) ID() uint64      { return ino.id }
func (ino *Inode) Fid() Fid        { return ino.fid }
func (ino *Inode) Qid() Qid        { return ino.qid }
func (ino *Inode) Volume() *Volume { return ino.vol }

func (ino *Inode) Mode() uint32 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.mode
}

func (ino *Inode) IsDir() bool     { return ino.Mode()&ModeTypeMask == ModeDir }
func (ino *Inode) IsSymlink() bool { return ino.Mode()&ModeTypeMask == ModeSymlink }
func (ino *Inode) IsRegular() bool { return ino.Mode()&ModeTypeMask == ModeRegular }

// Release drops the host layer's reference; the vnode-eviction analog.
func (ino *Inode) Release() { ino.vol.forget(ino) }

func (ino *Inode) setAttr(attr Attr) {
	ino.mode = attr.Mode
	ino.size = attr.Size
	ino.statValid = true
}

func (ino *Inode) invalidateStat() {
	ino.mu.Lock()
	ino.statValid = false
	ino.mu.Unlock()
}

func (ino *Inode) updateStat() error {
	attr, err := ino.vol.c.GetAttr(ino.fid, GetattrBasic)
	if err != nil {
		return err
	}
	ino.mu.Lock()
	ino.setAttr(attr)
	ino.mu.Unlock()
	return nil
}

// clone walks zero names from the inode's fid onto a fresh fid, leaving
// the inode's own fid in the unopened state. On error nothing is left
// allocated.
func (ino *Inode) clone() (Fid, error) {
	c := ino.vol.c
	newfid := c.AllocFid()
	if newfid == NoFid {
		return NoFid, ErrNoMoreFDs
	}
	if _, err := c.Walk(ino.fid, newfid, ""); err != nil {
		c.ReleaseFid(newfid)
		return NoFid, err
	}
	return newfid, nil
}

// Open clones the inode's fid and opens the clone, so multiple opens of
// one inode coexist. Failure unwinds in reverse order.
func (ino *Inode) Open(flags uint32) (*FileHandle, error) {
	if ino.vol.readOnly && flags&OpenAccMode != OpenRead {
		return nil, ErrReadOnlyDevice
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	c := ino.vol.c
	newfid, err := ino.clone()
	if err != nil {
		return nil, err
	}
	_, _, err = c.Open(newfid, flags)
	if err != nil {
		c.Clunk(newfid)
		c.ReleaseFid(newfid)
		return nil, err
	}
	return &FileHandle{ino: ino, fid: newfid, flags: flags, ownsFid: true}, nil
}

// Lookup walks one component from this directory to a child inode,
// canonicalising by qid: an already known file returns its existing inode
// and the fresh fid is clunked.
func (ino *Inode) Lookup(name string) (*Inode, error) {
	if !ino.IsDir() {
		return nil, ErrNotADirectory
	}
	if name == "." {
		ino.vol.retain(ino)
		return ino, nil
	}

	c := ino.vol.c
	childFid := c.AllocFid()
	if childFid == NoFid {
		return nil, ErrNoMoreFDs
	}
	qid, err := c.Walk(ino.fid, childFid, name)
	if err != nil {
		// The server does not bind newfid on a failed walk.
		c.ReleaseFid(childFid)
		return nil, err
	}
	return ino.vol.getInode(childFid, qid)
}

// Create creates and opens name in this directory. The lcreate fid names
// the new file and backs both the returned inode and handle.
func (ino *Inode) Create(name string, flags, perm, gid uint32) (*Inode, *FileHandle, error) {
	if !ino.IsDir() {
		return nil, nil, ErrNotADirectory
	}
	if ino.vol.readOnly {
		return nil, nil, ErrReadOnlyDevice
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	c := ino.vol.c
	newfid, err := ino.clone()
	if err != nil {
		return nil, nil, err
	}
	qid, _, err := c.Create(newfid, name, flags, ModeRegular|perm&ModePerm, gid)
	if err != nil {
		c.Clunk(newfid)
		c.ReleaseFid(newfid)
		return nil, nil, err
	}

	v := ino.vol
	v.mu.Lock()
	child, known := v.inodes[qid.Path]
	if known {
		child.refs++
	}
	v.mu.Unlock()

	h := &FileHandle{fid: newfid, flags: flags}
	if known {
		// A recycled path; the handle owns the lcreate fid outright.
		child.invalidateStat()
		h.ino = child
		h.ownsFid = true
		return child, h, nil
	}

	child = newInode(v, newfid, qid)
	v.mu.Lock()
	child.refs = 1
	v.inodes[qid.Path] = child
	v.mu.Unlock()
	// The inode owns the fid; the handle shares it and must not clunk.
	h.ino = child
	h.ownsFid = false
	return child, h, nil
}

// Remove unlinks a non-directory child by name. The child's own fid, if
// any inode holds one, is untouched.
func (ino *Inode) Remove(name string) error {
	if !ino.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.vol.c.Unlink(ino.fid, name, 0)
}

// RemoveDir unlinks a child directory by name.
func (ino *Inode) RemoveDir(name string) error {
	if !ino.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.vol.c.Unlink(ino.fid, name, AtRemoveDir)
}

// Rename moves oldname from this directory to newname under toDir.
func (ino *Inode) Rename(oldname string, toDir *Inode, newname string) error {
	if !ino.IsDir() || !toDir.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	err := ino.vol.c.Rename(ino.fid, oldname, toDir.fid, newname)
	if err == nil {
		ino.invalidateStat()
		toDir.invalidateStat()
	}
	return err
}

// ReadStat fetches the full attribute set and refreshes the cache.
func (ino *Inode) ReadStat() (Attr, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	attr, err := ino.vol.c.GetAttr(ino.fid, GetattrAll)
	if err != nil {
		return Attr{}, err
	}
	ino.setAttr(attr)
	return attr, nil
}

// WriteStat applies a setattr and invalidates the cache.
func (ino *Inode) WriteStat(sa SetAttr) error {
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	ino.mu.Lock()
	defer ino.mu.Unlock()
	err := ino.vol.c.SetAttr(ino.fid, sa)
	if err == nil {
		ino.statValid = false
	}
	return err
}

// OpenDir clones the fid and opens it read-only for iteration.
func (ino *Inode) OpenDir() (*DirHandle, error) {
	if !ino.IsDir() {
		return nil, ErrNotADirectory
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	c := ino.vol.c
	newfid, err := ino.clone()
	if err != nil {
		return nil, err
	}
	if _, _, err := c.Open(newfid, OpenRead); err != nil {
		c.Clunk(newfid)
		c.ReleaseFid(newfid)
		return nil, err
	}
	return &DirHandle{
		ino: ino,
		fid: newfid,
		buf: make([]byte, dirBufferSize),
	}, nil
}

// ReadLink resolves the symlink target.
func (ino *Inode) ReadLink() (string, error) {
	if !ino.IsSymlink() {
		return "", ErrBadValue
	}
	return ino.vol.c.ReadLink(ino.fid)
}

// CreateSymlink creates name → target in this directory.
func (ino *Inode) CreateSymlink(name, target string) error {
	if !ino.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	_, err := ino.vol.c.Symlink(ino.fid, name, target, 0)
	return err
}

// CreateDir creates a child directory.
func (ino *Inode) CreateDir(name string, perm uint32) error {
	if !ino.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	_, err := ino.vol.c.Mkdir(ino.fid, name, ModeDir|perm&ModePerm, 0)
	return err
}

// CreateLink hard-links target into this directory as name.
func (ino *Inode) CreateLink(name string, target *Inode) error {
	if !ino.IsDir() {
		return ErrNotADirectory
	}
	if ino.vol.readOnly {
		return ErrReadOnlyDevice
	}
	return ino.vol.c.Link(ino.fid, target.fid, name)
}

// Sync flushes the file on the server. A no-op on read-only volumes.
func (ino *Inode) Sync() error {
	if ino.vol.readOnly {
		return nil
	}
	return ino.vol.c.Fsync(ino.fid, false)
}

// A FileHandle is one open file description: a cloned fid plus the open
// mode and a position for the io.Reader/io.Writer forms.
type FileHandle struct {
	ino   *Inode
	fid   Fid
	flags uint32

	// Handles from Open own their fid; the handle returned by Create may
	// share the inode's fid, which the inode then clunks on release.
	ownsFid bool

	mu  sync.Mutex
	pos int64
}

func (h *FileHandle) Fid() Fid { return h.fid }

// ReadAt reads len(p) bytes at off, chunked so no single request exceeds
// the session iounit. Bytes transferred before a failure are reported
// along with the error; a short read without failure is io.EOF.
func (h *FileHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrBadValue
	}
	c := h.ino.vol.c
	total := 0
	for total < len(p) {
		n, err := c.Read(h.fid, uint64(off)+uint64(total), p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// WriteAt writes len(p) bytes at off in requests no larger than the
// session iounit (each clamped by Client.Write to fit one message). Every
// write invalidates the inode's cached stat.
func (h *FileHandle) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrBadValue
	}
	if h.ino.vol.readOnly {
		return 0, ErrReadOnlyDevice
	}
	c := h.ino.vol.c
	total := 0
	for total < len(p) {
		n, err := c.Write(h.fid, uint64(off)+uint64(total), p[total:])
		total += n
		if err != nil {
			h.ino.invalidateStat()
			return total, err
		}
		if n == 0 {
			break
		}
	}
	h.ino.invalidateStat()
	if total < len(p) {
		return total, io.ErrShortWrite
	}
	return total, nil
}

// Read advances the handle position.
func (h *FileHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.ReadAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Write advances the handle position.
func (h *FileHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.WriteAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *FileHandle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch whence {
	case io.SeekStart:
		h.pos = offset
	case io.SeekCurrent:
		h.pos += offset
	case io.SeekEnd:
		attr, err := h.ino.ReadStat()
		if err != nil {
			return h.pos, err
		}
		h.pos = int64(attr.Size) + offset
	default:
		return h.pos, ErrBadValue
	}
	if h.pos < 0 {
		h.pos = 0
		return 0, ErrBadValue
	}
	return h.pos, nil
}

func (h *FileHandle) Sync() error {
	return h.ino.vol.c.Fsync(h.fid, false)
}

// Close clunks the handle's fid unless the inode shares it.
func (h *FileHandle) Close() error {
	if !h.ownsFid {
		return nil
	}
	c := h.ino.vol.c
	err := c.Clunk(h.fid)
	c.ReleaseFid(h.fid)
	return err
}

// A DirHandle iterates a directory on its own cloned fid. The offset is
// the cookie the server returned with the last delivered entry, never a
// client-computed byte count.
type DirHandle struct {
	ino    *Inode
	fid    Fid
	offset uint64
	buf    []byte
	size   int
	pos    int
	eof    bool
}

// ReadDir returns up to max entries (all remaining if max < 0), refilling
// from the server at the current cookie as the local window drains.
func (d *DirHandle) ReadDir(max int) ([]DirEnt, error) {
	var entries []DirEnt
	for max < 0 || len(entries) < max {
		if d.pos >= d.size && !d.eof {
			n, err := d.ino.vol.c.ReadDir(d.fid, d.offset, d.buf)
			if err != nil {
				return entries, err
			}
			d.size = n
			d.pos = 0
			if n == 0 {
				d.eof = true
			}
		}
		if d.eof && d.pos >= d.size {
			break
		}

		parser := NewDirEntryParser(d.buf[d.pos:d.size])
		for parser.HasNext() && (max < 0 || len(entries) < max) {
			ent, err := parser.Next()
			if err != nil {
				return entries, err
			}
			entries = append(entries, ent)
			d.offset = ent.Offset
		}
		// Entries left unparsed are refetched from the server cookie.
		d.pos = d.size
	}
	return entries, nil
}

// Rewind restarts iteration from the beginning of the directory.
func (d *DirHandle) Rewind() {
	d.offset = 0
	d.size = 0
	d.pos = 0
	d.eof = false
}

func (d *DirHandle) Close() error {
	c := d.ino.vol.c
	err := c.Clunk(d.fid)
	c.ReleaseFid(d.fid)
	return err
}
