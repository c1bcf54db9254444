// Package fuse exposes a mounted 9P2000.L volume as a local user-space
// filesystem. It plays the host-VFS role: it owns node lifetime and drives
// the volume's inode operations.
package fuse

import (
	"context"
	"errors"
	"io"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ninelfs/l9fs/ninel"
)

type config struct {
	vol *ninel.Volume
	ninel.Loggable
}

// Node bridges one volume inode into the kernel's tree.
type Node struct {
	gofs.Inode
	ino *ninel.Inode
	cfg *config
}

var _ gofs.NodeGetattrer = (*Node)(nil)
var _ gofs.NodeSetattrer = (*Node)(nil)
var _ gofs.NodeLookuper = (*Node)(nil)
var _ gofs.NodeReaddirer = (*Node)(nil)
var _ gofs.NodeMkdirer = (*Node)(nil)
var _ gofs.NodeCreater = (*Node)(nil)
var _ gofs.NodeOpener = (*Node)(nil)
var _ gofs.NodeUnlinker = (*Node)(nil)
var _ gofs.NodeRmdirer = (*Node)(nil)
var _ gofs.NodeRenamer = (*Node)(nil)
var _ gofs.NodeSymlinker = (*Node)(nil)
var _ gofs.NodeReadlinker = (*Node)(nil)
var _ gofs.NodeLinker = (*Node)(nil)
var _ gofs.NodeFsyncer = (*Node)(nil)
var _ gofs.NodeStatfser = (*Node)(nil)
var _ gofs.NodeOnForgetter = (*Node)(nil)

func (n *Node) newChild(ctx context.Context, child *ninel.Inode) *gofs.Inode {
	stable := gofs.StableAttr{
		Mode: uint32(ninel.ModeToOS(child.Mode())),
		Ino:  child.ID(),
	}
	return n.NewInode(ctx, &Node{ino: child, cfg: n.cfg}, stable)
}

// OnForget drops the host reference; the volume clunks the fid once the
// last reference is gone.
func (n *Node) OnForget() {
	n.ino.Release()
}

func fillAttr(out *gofuse.Attr, id uint64, attr ninel.Attr) {
	out.Ino = id
	out.Mode = attr.Mode
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Blksize = uint32(attr.BlkSize)
	out.Nlink = uint32(attr.Nlink)
	out.Uid = attr.UID
	out.Gid = attr.GID
	out.Atime = attr.AtimeSec
	out.Atimensec = uint32(attr.AtimeNsec)
	out.Mtime = attr.MtimeSec
	out.Mtimensec = uint32(attr.MtimeNsec)
	out.Ctime = attr.CtimeSec
	out.Ctimensec = uint32(attr.CtimeNsec)
}

func (n *Node) Getattr(ctx context.Context, fh gofs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	attr, err := n.ino.ReadStat()
	if err != nil {
		n.cfg.Errorf("getattr %d: %s", n.ino.ID(), err)
		return mapErr(err)
	}
	fillAttr(&out.Attr, n.ino.ID(), attr)
	return 0
}

func (n *Node) Setattr(ctx context.Context, fh gofs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	var sa ninel.SetAttr
	if mode, ok := in.GetMode(); ok {
		sa.Valid |= ninel.SetattrMode
		sa.Mode = mode
	}
	if uid, ok := in.GetUID(); ok {
		sa.Valid |= ninel.SetattrUID
		sa.UID = uid
	}
	if gid, ok := in.GetGID(); ok {
		sa.Valid |= ninel.SetattrGID
		sa.GID = gid
	}
	if size, ok := in.GetSize(); ok {
		sa.Valid |= ninel.SetattrSize
		sa.Size = size
	}
	if atime, ok := in.GetATime(); ok {
		sa.Valid |= ninel.SetattrAtime | ninel.SetattrAtimeSet
		sa.AtimeSec = uint64(atime.Unix())
		sa.AtimeNsec = uint64(atime.Nanosecond())
	}
	if mtime, ok := in.GetMTime(); ok {
		sa.Valid |= ninel.SetattrMtime | ninel.SetattrMtimeSet
		sa.MtimeSec = uint64(mtime.Unix())
		sa.MtimeNsec = uint64(mtime.Nanosecond())
	}
	if err := n.ino.WriteStat(sa); err != nil {
		return mapErr(err)
	}
	return n.Getattr(ctx, fh, out)
}

func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	child, err := n.ino.Lookup(name)
	if err != nil {
		return nil, mapErr(err)
	}
	attr, err := child.ReadStat()
	if err != nil {
		child.Release()
		return nil, mapErr(err)
	}
	fillAttr(&out.Attr, child.ID(), attr)
	return n.newChild(ctx, child), 0
}

func (n *Node) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	dh, err := n.ino.OpenDir()
	if err != nil {
		return nil, mapErr(err)
	}
	defer dh.Close()

	ents, err := dh.ReadDir(-1)
	if err != nil {
		return nil, mapErr(err)
	}
	entries := make([]gofuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		entries = append(entries, gofuse.DirEntry{
			Ino:  e.Qid.Path,
			Mode: uint32(e.Type) << 12,
			Name: e.Name,
		})
	}
	return gofs.NewListDirStream(entries), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if err := n.ino.CreateDir(name, mode); err != nil {
		return nil, mapErr(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	child, h, err := n.ino.Create(name, ninel.OpenFlagsFromOS(int(flags)), mode, 0)
	if err != nil {
		return nil, nil, 0, mapErr(err)
	}
	attr, err := child.ReadStat()
	if err != nil {
		h.Close()
		child.Release()
		return nil, nil, 0, mapErr(err)
	}
	fillAttr(&out.Attr, child.ID(), attr)
	return n.newChild(ctx, child), &fileHandle{h}, 0, 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	h, err := n.ino.Open(ninel.OpenFlagsFromOS(int(flags)))
	if err != nil {
		return nil, 0, mapErr(err)
	}
	return &fileHandle{h}, 0, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return mapErr(n.ino.Remove(name))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return mapErr(n.ino.RemoveDir(name))
}

func (n *Node) Rename(ctx context.Context, name string, newParent gofs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	nd, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	return mapErr(n.ino.Rename(name, nd.ino, newName))
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if err := n.ino.CreateSymlink(name, target); err != nil {
		return nil, mapErr(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ino.ReadLink()
	if err != nil {
		return nil, mapErr(err)
	}
	return []byte(target), 0
}

func (n *Node) Link(ctx context.Context, target gofs.InodeEmbedder, name string, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	tn, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	if err := n.ino.CreateLink(name, tn.ino); err != nil {
		return nil, mapErr(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Fsync(ctx context.Context, fh gofs.FileHandle, flags uint32) syscall.Errno {
	return mapErr(n.ino.Sync())
}

func (n *Node) Statfs(ctx context.Context, out *gofuse.StatfsOut) syscall.Errno {
	info, err := n.cfg.vol.StatFS()
	if err != nil {
		return mapErr(err)
	}
	out.Blocks = info.Blocks
	out.Bfree = info.BFree
	out.Bavail = info.BAvail
	out.Files = info.Files
	out.Ffree = info.FFree
	out.Bsize = info.BSize
	out.NameLen = info.NameLen
	out.Frsize = info.BSize
	return 0
}

type fileHandle struct {
	h *ninel.FileHandle
}

var _ gofs.FileReader = (*fileHandle)(nil)
var _ gofs.FileWriter = (*fileHandle)(nil)
var _ gofs.FileFlusher = (*fileHandle)(nil)
var _ gofs.FileReleaser = (*fileHandle)(nil)
var _ gofs.FileFsyncer = (*fileHandle)(nil)

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	n, err := f.h.ReadAt(dest, off)
	if err == io.EOF {
		err = nil
	}
	return gofuse.ReadResultData(dest[:n]), mapErr(err)
}

func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.h.WriteAt(data, off)
	return uint32(n), mapErr(err)
}

func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return mapErr(f.h.Sync())
}

func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	return mapErr(f.h.Close())
}

func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return mapErr(f.h.Sync())
}

func mapErr(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ninel.ErrEntryNotFound):
		return syscall.ENOENT
	case errors.Is(err, ninel.ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, ninel.ErrFileExists):
		return syscall.EEXIST
	case errors.Is(err, ninel.ErrCrossDeviceLink):
		return syscall.EXDEV
	case errors.Is(err, ninel.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ninel.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, ninel.ErrBadValue):
		return syscall.EINVAL
	case errors.Is(err, ninel.ErrNoMoreFDs):
		return syscall.ENFILE
	case errors.Is(err, ninel.ErrDeviceFull):
		return syscall.ENOSPC
	case errors.Is(err, ninel.ErrReadOnlyDevice):
		return syscall.EROFS
	case errors.Is(err, ninel.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, ninel.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ninel.ErrBufferOverflow):
		return syscall.EOVERFLOW
	case errors.Is(err, ninel.ErrNotSupported):
		return syscall.EOPNOTSUPP
	case errors.Is(err, ninel.ErrDeviceNotReady):
		return syscall.ENXIO
	default:
		return syscall.EIO
	}
}
