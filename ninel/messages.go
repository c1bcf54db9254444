package ninel

import (
	"fmt"
	"math"
)

type Tag uint16
type Fid uint32

const (
	NoTag   Tag    = ^Tag(0)
	NoFid   Fid    = ^Fid(0)
	NoUname uint32 = ^uint32(0)

	Version9P2000L = "9P2000.L"

	// Total header length: size[4] type[1] tag[2].
	HeaderSize = 7

	DefaultMsize uint32 = 8192
	MaxMsize     uint32 = 65536

	maxStringLen = math.MaxUint16

	// A single Twalk carries at most sixteen name elements (MAXWELEM).
	MaxWalkElements = 16

	// AT_REMOVEDIR for Tunlinkat.
	AtRemoveDir uint32 = 0x200
)

type MsgType uint8

// 9P2000.L message types. The 9P2000-era stat/wstat family is absent from
// the dialect; attribute traffic goes through getattr/setattr.
const (
	msgRlerror   MsgType = 7
	msgTstatfs   MsgType = 8
	msgRstatfs   MsgType = 9
	msgTlopen    MsgType = 12
	msgRlopen    MsgType = 13
	msgTlcreate  MsgType = 14
	msgRlcreate  MsgType = 15
	msgTsymlink  MsgType = 16
	msgRsymlink  MsgType = 17
	msgTreadlink MsgType = 22
	msgRreadlink MsgType = 23
	msgTgetattr  MsgType = 24
	msgRgetattr  MsgType = 25
	msgTsetattr  MsgType = 26
	msgRsetattr  MsgType = 27
	msgTreaddir  MsgType = 40
	msgRreaddir  MsgType = 41
	msgTfsync    MsgType = 50
	msgRfsync    MsgType = 51
	msgTlink     MsgType = 70
	msgRlink     MsgType = 71
	msgTmkdir    MsgType = 72
	msgRmkdir    MsgType = 73
	msgTrenameat MsgType = 74
	msgRrenameat MsgType = 75
	msgTunlinkat MsgType = 76
	msgRunlinkat MsgType = 77
	msgTversion  MsgType = 100
	msgRversion  MsgType = 101
	msgTattach   MsgType = 104
	msgRattach   MsgType = 105
	msgTwalk     MsgType = 110
	msgRwalk     MsgType = 111
	msgTread     MsgType = 116
	msgRread     MsgType = 117
	msgTwrite    MsgType = 118
	msgRwrite    MsgType = 119
	msgTclunk    MsgType = 120
	msgRclunk    MsgType = 121
	msgTremove   MsgType = 122
	msgRremove   MsgType = 123
)

func (t MsgType) String() string {
	switch t {
	case msgRlerror:
		return "Rlerror"
	case msgTstatfs:
		return "Tstatfs"
	case msgRstatfs:
		return "Rstatfs"
	case msgTlopen:
		return "Tlopen"
	case msgRlopen:
		return "Rlopen"
	case msgTlcreate:
		return "Tlcreate"
	case msgRlcreate:
		return "Rlcreate"
	case msgTsymlink:
		return "Tsymlink"
	case msgRsymlink:
		return "Rsymlink"
	case msgTreadlink:
		return "Treadlink"
	case msgRreadlink:
		return "Rreadlink"
	case msgTgetattr:
		return "Tgetattr"
	case msgRgetattr:
		return "Rgetattr"
	case msgTsetattr:
		return "Tsetattr"
	case msgRsetattr:
		return "Rsetattr"
	case msgTreaddir:
		return "Treaddir"
	case msgRreaddir:
		return "Rreaddir"
	case msgTfsync:
		return "Tfsync"
	case msgRfsync:
		return "Rfsync"
	case msgTlink:
		return "Tlink"
	case msgRlink:
		return "Rlink"
	case msgTmkdir:
		return "Tmkdir"
	case msgRmkdir:
		return "Rmkdir"
	case msgTrenameat:
		return "Trenameat"
	case msgRrenameat:
		return "Rrenameat"
	case msgTunlinkat:
		return "Tunlinkat"
	case msgRunlinkat:
		return "Runlinkat"
	case msgTversion:
		return "Tversion"
	case msgRversion:
		return "Rversion"
	case msgTattach:
		return "Tattach"
	case msgRattach:
		return "Rattach"
	case msgTwalk:
		return "Twalk"
	case msgRwalk:
		return "Rwalk"
	case msgTread:
		return "Tread"
	case msgRread:
		return "Rread"
	case msgTwrite:
		return "Twrite"
	case msgRwrite:
		return "Rwrite"
	case msgTclunk:
		return "Tclunk"
	case msgRclunk:
		return "Rclunk"
	case msgTremove:
		return "Tremove"
	case msgRremove:
		return "Rremove"
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// A Message holds one 9P message in a Buffer sized to the negotiated msize.
// Builders write the 7-byte header with a zero size word, append the body,
// then back-fill size with the final write position.
type Message struct {
	buf *Buffer
}

func NewMessage(msize uint32) *Message {
	return &Message{buf: NewBuffer(msize)}
}

func (m *Message) Reset()              { m.buf.Reset() }
func (m *Message) Bytes() []byte       { return m.buf.Bytes() }
func (m *Message) Data() []byte        { return m.buf.Data() }
func (m *Message) Size() uint32        { return uint32(m.buf.Size()) }
func (m *Message) SetSize(n int) error { return m.buf.SetSize(n) }
func (m *Message) MaxSize() uint32     { return uint32(m.buf.Capacity()) }

// Type peeks the message type without disturbing the read cursor.
func (m *Message) Type() MsgType {
	if m.buf.Size() < HeaderSize {
		return 0
	}
	return MsgType(m.buf.data[4])
}

// Tag peeks the transaction tag without disturbing the read cursor.
func (m *Message) Tag() Tag {
	if m.buf.Size() < HeaderSize {
		return NoTag
	}
	return Tag(bo.Uint16(m.buf.data[5:7]))
}

// ReadHeader consumes the header of a received message and validates the
// size word against the filled region.
func (m *Message) ReadHeader() (MsgType, Tag, uint32, error) {
	m.buf.ResetRead()
	size, err := m.buf.ReadUint32()
	if err != nil {
		return 0, NoTag, 0, err
	}
	t, err := m.buf.ReadUint8()
	if err != nil {
		return 0, NoTag, 0, err
	}
	tag, err := m.buf.ReadUint16()
	if err != nil {
		return 0, NoTag, 0, err
	}
	if size < HeaderSize || int(size) > m.buf.Size() {
		return 0, NoTag, 0, ErrBufferOverflow
	}
	return MsgType(t), Tag(tag), size, nil
}

func (m *Message) header(t MsgType, tag Tag) error {
	m.buf.Reset()
	if err := m.buf.WriteUint32(0); err != nil {
		return err
	}
	if err := m.buf.WriteUint8(uint8(t)); err != nil {
		return err
	}
	return m.buf.WriteUint16(uint16(tag))
}

func (m *Message) finalize() error {
	bo.PutUint32(m.buf.data[:4], uint32(m.buf.Size()))
	return nil
}

// === Request builders ===

// size[4] Tversion tag[2] msize[4] version[s]
func (m *Message) Tversion(tag Tag, msize uint32, version string) error {
	if err := m.header(msgTversion, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(msize); err != nil {
		return err
	}
	if err := m.buf.WriteString(version); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tattach tag[2] fid[4] afid[4] uname[s] aname[s] n_uname[4]
func (m *Message) Tattach(tag Tag, fid, afid Fid, uname, aname string, nUname uint32) error {
	if err := m.header(msgTattach, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(afid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(uname); err != nil {
		return err
	}
	if err := m.buf.WriteString(aname); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(nUname); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Twalk tag[2] fid[4] newfid[4] nwname[2] nwname*(wname[s])
func (m *Message) Twalk(tag Tag, fid, newfid Fid, names []string) error {
	if len(names) > MaxWalkElements {
		return ErrNameTooLong
	}
	if err := m.header(msgTwalk, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(newfid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint16(uint16(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := m.buf.WriteString(name); err != nil {
			return err
		}
	}
	return m.finalize()
}

// size[4] Tlopen tag[2] fid[4] flags[4]
func (m *Message) Tlopen(tag Tag, fid Fid, flags uint32) error {
	if err := m.header(msgTlopen, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(flags); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tlcreate tag[2] fid[4] name[s] flags[4] mode[4] gid[4]
func (m *Message) Tlcreate(tag Tag, fid Fid, name string, flags, mode, gid uint32) error {
	if err := m.header(msgTlcreate, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(name); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(flags); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(mode); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(gid); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tread tag[2] fid[4] offset[8] count[4]
func (m *Message) Tread(tag Tag, fid Fid, offset uint64, count uint32) error {
	if err := m.header(msgTread, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(offset); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(count); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Twrite tag[2] fid[4] offset[8] count[4] data[count]
func (m *Message) Twrite(tag Tag, fid Fid, offset uint64, data []byte) error {
	if err := m.header(msgTwrite, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(offset); err != nil {
		return err
	}
	if err := m.buf.WriteData(data); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tclunk tag[2] fid[4]
func (m *Message) Tclunk(tag Tag, fid Fid) error {
	if err := m.header(msgTclunk, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tremove tag[2] fid[4]
func (m *Message) Tremove(tag Tag, fid Fid) error {
	if err := m.header(msgTremove, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tgetattr tag[2] fid[4] request_mask[8]
func (m *Message) Tgetattr(tag Tag, fid Fid, mask uint64) error {
	if err := m.header(msgTgetattr, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(mask); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tsetattr tag[2] fid[4] valid[4] mode[4] uid[4] gid[4] size[8]
// atime_sec[8] atime_nsec[8] mtime_sec[8] mtime_nsec[8]
func (m *Message) Tsetattr(tag Tag, fid Fid, sa SetAttr) error {
	if err := m.header(msgTsetattr, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(sa.Valid); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(sa.Mode); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(sa.UID); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(sa.GID); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(sa.Size); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(sa.AtimeSec); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(sa.AtimeNsec); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(sa.MtimeSec); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(sa.MtimeNsec); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Treaddir tag[2] fid[4] offset[8] count[4]
func (m *Message) Treaddir(tag Tag, fid Fid, offset uint64, count uint32) error {
	if err := m.header(msgTreaddir, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint64(offset); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(count); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tmkdir tag[2] dfid[4] name[s] mode[4] gid[4]
func (m *Message) Tmkdir(tag Tag, dfid Fid, name string, mode, gid uint32) error {
	if err := m.header(msgTmkdir, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(dfid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(name); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(mode); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(gid); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tunlinkat tag[2] dfid[4] name[s] flags[4]
func (m *Message) Tunlinkat(tag Tag, dfid Fid, name string, flags uint32) error {
	if err := m.header(msgTunlinkat, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(dfid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(name); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(flags); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Trenameat tag[2] olddirfid[4] oldname[s] newdirfid[4] newname[s]
func (m *Message) Trenameat(tag Tag, olddirfid Fid, oldname string, newdirfid Fid, newname string) error {
	if err := m.header(msgTrenameat, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(olddirfid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(oldname); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(newdirfid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(newname); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tstatfs tag[2] fid[4]
func (m *Message) Tstatfs(tag Tag, fid Fid) error {
	if err := m.header(msgTstatfs, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tfsync tag[2] fid[4] datasync[4]
func (m *Message) Tfsync(tag Tag, fid Fid, datasync uint32) error {
	if err := m.header(msgTfsync, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(datasync); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Treadlink tag[2] fid[4]
func (m *Message) Treadlink(tag Tag, fid Fid) error {
	if err := m.header(msgTreadlink, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tsymlink tag[2] dfid[4] name[s] symtgt[s] gid[4]
func (m *Message) Tsymlink(tag Tag, dfid Fid, name, target string, gid uint32) error {
	if err := m.header(msgTsymlink, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(dfid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(name); err != nil {
		return err
	}
	if err := m.buf.WriteString(target); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(gid); err != nil {
		return err
	}
	return m.finalize()
}

// size[4] Tlink tag[2] dfid[4] fid[4] name[s]
func (m *Message) Tlink(tag Tag, dfid, fid Fid, name string) error {
	if err := m.header(msgTlink, tag); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(dfid)); err != nil {
		return err
	}
	if err := m.buf.WriteUint32(uint32(fid)); err != nil {
		return err
	}
	if err := m.buf.WriteString(name); err != nil {
		return err
	}
	return m.finalize()
}

// === Response parsers ===
//
// Parsers expect ReadHeader to have consumed the header already.

// ecode[4]
func (m *Message) Rlerror() (Errno, error) {
	e, err := m.buf.ReadUint32()
	return Errno(e), err
}

// msize[4] version[s]
func (m *Message) Rversion() (uint32, string, error) {
	msize, err := m.buf.ReadUint32()
	if err != nil {
		return 0, "", err
	}
	version, err := m.buf.ReadString()
	if err != nil {
		return 0, "", err
	}
	return msize, version, nil
}

// qid[13]
func (m *Message) Rattach() (Qid, error) {
	return m.buf.ReadQid()
}

// nwqid[2] nwqid*(wqid[13])
func (m *Message) Rwalk() ([]Qid, error) {
	n, err := m.buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	qids := make([]Qid, n)
	for i := range qids {
		if qids[i], err = m.buf.ReadQid(); err != nil {
			return nil, err
		}
	}
	return qids, nil
}

// qid[13] iounit[4]
func (m *Message) Rlopen() (Qid, uint32, error) {
	qid, err := m.buf.ReadQid()
	if err != nil {
		return Qid{}, 0, err
	}
	iounit, err := m.buf.ReadUint32()
	return qid, iounit, err
}

// qid[13] iounit[4]
func (m *Message) Rlcreate() (Qid, uint32, error) {
	return m.Rlopen()
}

// count[4] data[count]; the returned slice aliases the message buffer.
func (m *Message) Rread() ([]byte, error) {
	count, err := m.buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	return m.buf.ReadBytes(int(count))
}

// count[4]
func (m *Message) Rwrite() (uint32, error) {
	return m.buf.ReadUint32()
}

// valid[8] qid[13] mode[4] uid[4] gid[4] nlink[8] rdev[8] size[8]
// blksize[8] blocks[8] atime[16] mtime[16] ctime[16] btime[16] gen[8]
// data_version[8]
func (m *Message) Rgetattr() (Attr, error) {
	var a Attr
	var err error
	if a.Valid, err = m.buf.ReadUint64(); err != nil {
		return a, err
	}
	if a.Qid, err = m.buf.ReadQid(); err != nil {
		return a, err
	}
	if a.Mode, err = m.buf.ReadUint32(); err != nil {
		return a, err
	}
	if a.UID, err = m.buf.ReadUint32(); err != nil {
		return a, err
	}
	if a.GID, err = m.buf.ReadUint32(); err != nil {
		return a, err
	}
	for _, p := range []*uint64{
		&a.Nlink, &a.Rdev, &a.Size, &a.BlkSize, &a.Blocks,
		&a.AtimeSec, &a.AtimeNsec, &a.MtimeSec, &a.MtimeNsec,
		&a.CtimeSec, &a.CtimeNsec, &a.BtimeSec, &a.BtimeNsec,
		&a.Gen, &a.DataVersion,
	} {
		if *p, err = m.buf.ReadUint64(); err != nil {
			return a, err
		}
	}
	return a, nil
}

// count[4] data[count]; the returned slice aliases the message buffer.
func (m *Message) Rreaddir() ([]byte, error) {
	count, err := m.buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	return m.buf.ReadBytes(int(count))
}

// type[4] bsize[4] blocks[8] bfree[8] bavail[8] files[8] ffree[8] fsid[8]
// namelen[4]
func (m *Message) Rstatfs() (FSInfo, error) {
	var info FSInfo
	var err error
	if info.Type, err = m.buf.ReadUint32(); err != nil {
		return info, err
	}
	if info.BSize, err = m.buf.ReadUint32(); err != nil {
		return info, err
	}
	for _, p := range []*uint64{
		&info.Blocks, &info.BFree, &info.BAvail,
		&info.Files, &info.FFree, &info.FSID,
	} {
		if *p, err = m.buf.ReadUint64(); err != nil {
			return info, err
		}
	}
	info.NameLen, err = m.buf.ReadUint32()
	return info, err
}

// qid[13]
func (m *Message) Rmkdir() (Qid, error) {
	return m.buf.ReadQid()
}

// qid[13]
func (m *Message) Rsymlink() (Qid, error) {
	return m.buf.ReadQid()
}

// target[s]
func (m *Message) Rreadlink() (string, error) {
	return m.buf.ReadString()
}
