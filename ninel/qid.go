package ninel

import (
	"fmt"
	"os"
	"strings"
)

const QidSize = 13

type QidType uint8

const (
	QTFile    QidType = 0x00
	QTLink    QidType = 0x01
	QTSymlink QidType = 0x02
	QTTmp     QidType = 0x04
	QTAuth    QidType = 0x08
	QTMount   QidType = 0x10
	QTExcl    QidType = 0x20
	QTAppend  QidType = 0x40
	QTDir     QidType = 0x80
)

func (qt QidType) IsDir() bool     { return qt&QTDir != 0 }
func (qt QidType) IsSymlink() bool { return qt&QTSymlink != 0 }
func (qt QidType) IsAppend() bool  { return qt&QTAppend != 0 }

func (qt QidType) String() string {
	if qt == QTFile {
		return "QTFile"
	}
	parts := []string{}
	if qt&QTLink != 0 {
		parts = append(parts, "QTLink")
	}
	if qt&QTSymlink != 0 {
		parts = append(parts, "QTSymlink")
	}
	if qt&QTTmp != 0 {
		parts = append(parts, "QTTmp")
	}
	if qt&QTAuth != 0 {
		parts = append(parts, "QTAuth")
	}
	if qt&QTMount != 0 {
		parts = append(parts, "QTMount")
	}
	if qt&QTExcl != 0 {
		parts = append(parts, "QTExcl")
	}
	if qt&QTAppend != 0 {
		parts = append(parts, "QTAppend")
	}
	if qt&QTDir != 0 {
		parts = append(parts, "QTDir")
	}
	return strings.Join(parts, "|")
}

// A Qid is the server's unique identification of a file: (path, version)
// identifies a file's content at a point in time.
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}

func (q Qid) String() string {
	return fmt.Sprintf("Qid{type: %s, version: %d, path: %d}", q.Type, q.Version, q.Path)
}

// 9P2000.L open flags. These are Linux open(2) flag values, which is what
// the dialect puts on the wire.
const (
	OpenRead      uint32 = 0x00000000
	OpenWrite     uint32 = 0x00000001
	OpenRdwr      uint32 = 0x00000002
	OpenAccMode   uint32 = 0x00000003
	OpenCreate    uint32 = 0x00000040
	OpenExcl      uint32 = 0x00000080
	OpenTrunc     uint32 = 0x00000200
	OpenAppend    uint32 = 0x00000400
	OpenDirectory uint32 = 0x00010000
)

// OpenFlagsFromOS translates os.O_* flags to 9P2000.L open flags.
func OpenFlagsFromOS(flag int) uint32 {
	var flags uint32
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		flags = OpenRead
	case os.O_WRONLY:
		flags = OpenWrite
	case os.O_RDWR:
		flags = OpenRdwr
	}
	if flag&os.O_CREATE != 0 {
		flags |= OpenCreate
	}
	if flag&os.O_EXCL != 0 {
		flags |= OpenExcl
	}
	if flag&os.O_TRUNC != 0 {
		flags |= OpenTrunc
	}
	if flag&os.O_APPEND != 0 {
		flags |= OpenAppend
	}
	return flags
}

// POSIX file-type bits of the 9P2000.L mode word. Both sides use the same
// layout, so the mode passes through the wire unchanged.
const (
	ModeTypeMask uint32 = 0xF000
	ModeSymlink  uint32 = 0xA000
	ModeRegular  uint32 = 0x8000
	ModeDir      uint32 = 0x4000
	ModePerm     uint32 = 0x0FFF
)

// ModeFromOS converts an os.FileMode to the wire mode word.
func ModeFromOS(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		m |= ModeDir
	case mode&os.ModeSymlink != 0:
		m |= ModeSymlink
	default:
		m |= ModeRegular
	}
	return m
}

// ModeToOS converts a wire mode word to an os.FileMode.
func ModeToOS(mode uint32) os.FileMode {
	m := os.FileMode(mode & ModePerm & 0777)
	switch mode & ModeTypeMask {
	case ModeDir:
		m |= os.ModeDir
	case ModeSymlink:
		m |= os.ModeSymlink
	}
	return m
}
