package ninel

import (
	"os"
	"time"
)

// Rgetattr valid mask.
const (
	GetattrMode        uint64 = 0x00000001
	GetattrNlink       uint64 = 0x00000002
	GetattrUID         uint64 = 0x00000004
	GetattrGID         uint64 = 0x00000008
	GetattrRdev        uint64 = 0x00000010
	GetattrAtime       uint64 = 0x00000020
	GetattrMtime       uint64 = 0x00000040
	GetattrCtime       uint64 = 0x00000080
	GetattrIno         uint64 = 0x00000100
	GetattrSize        uint64 = 0x00000200
	GetattrBlocks      uint64 = 0x00000400
	GetattrBtime       uint64 = 0x00000800
	GetattrGen         uint64 = 0x00001000
	GetattrDataVersion uint64 = 0x00002000
	GetattrBasic       uint64 = 0x000007ff
	GetattrAll         uint64 = 0x00003fff
)

// Tsetattr valid mask.
const (
	SetattrMode     uint32 = 0x00000001
	SetattrUID      uint32 = 0x00000002
	SetattrGID      uint32 = 0x00000004
	SetattrSize     uint32 = 0x00000008
	SetattrAtime    uint32 = 0x00000010
	SetattrMtime    uint32 = 0x00000020
	SetattrCtime    uint32 = 0x00000040
	SetattrAtimeSet uint32 = 0x00000080
	SetattrMtimeSet uint32 = 0x00000100
)

// Attr is a decoded Rgetattr body.
type Attr struct {
	Valid       uint64
	Qid         Qid
	Mode        uint32
	UID         uint32
	GID         uint32
	Nlink       uint64
	Rdev        uint64
	Size        uint64
	BlkSize     uint64
	Blocks      uint64
	AtimeSec    uint64
	AtimeNsec   uint64
	MtimeSec    uint64
	MtimeNsec   uint64
	CtimeSec    uint64
	CtimeNsec   uint64
	BtimeSec    uint64
	BtimeNsec   uint64
	Gen         uint64
	DataVersion uint64
}

// SetAttr is a Tsetattr body. Only fields whose bit is set in Valid are
// interpreted by the server.
type SetAttr struct {
	Valid     uint32
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      uint64
	AtimeSec  uint64
	AtimeNsec uint64
	MtimeSec  uint64
	MtimeNsec uint64
}

// FSInfo is a decoded Rstatfs body.
type FSInfo struct {
	Type    uint32
	BSize   uint32
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	FSID    uint64
	NameLen uint32
}

// AttrFileInfo adapts an Attr (plus a name, which the protocol carries
// separately) to os.FileInfo.
type AttrFileInfo struct {
	FileName string
	Attr     Attr
}

var _ os.FileInfo = AttrFileInfo{}

func (fi AttrFileInfo) Name() string       { return fi.FileName }
func (fi AttrFileInfo) Size() int64        { return int64(fi.Attr.Size) }
func (fi AttrFileInfo) Mode() os.FileMode  { return ModeToOS(fi.Attr.Mode) }
func (fi AttrFileInfo) ModTime() time.Time { return time.Unix(int64(fi.Attr.MtimeSec), int64(fi.Attr.MtimeNsec)) }
func (fi AttrFileInfo) IsDir() bool        { return fi.Attr.Mode&ModeTypeMask == ModeDir }
func (fi AttrFileInfo) Sys() interface{}   { return fi.Attr }
