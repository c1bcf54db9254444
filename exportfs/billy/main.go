// Package billy adapts a mounted 9P2000.L volume to the go-billy
// filesystem interface, so tooling built on billy can operate on a remote
// export.
package billy

import (
	"os"
	"path"
	"strings"

	bill "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ninelfs/l9fs/ninel"
)

// Directory inodes resolved by path are kept in a bounded cache; eviction
// releases the volume reference. This is the billy-side analog of the
// kernel's dentry cache in the FUSE surface.
const dirCacheSize = 128

// ToBillyFS wraps the volume. The returned filesystem does not implement
// TempFile.
func ToBillyFS(vol *ninel.Volume) (bill.Filesystem, error) {
	dirs, err := lru.NewWithEvict(dirCacheSize, func(_ string, ino *ninel.Inode) {
		ino.Release()
	})
	if err != nil {
		return nil, err
	}
	return chroot.New(&bfs{vol: vol, dirs: dirs}, "/"), nil
}

type bfs struct {
	vol  *ninel.Volume
	dirs *lru.Cache[string, *ninel.Inode]
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(path.Clean("/"+p), "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

// resolveDir walks to the directory at p, caching the result. The cache
// keeps the reference; callers must not release the returned inode.
func (fs *bfs) resolveDir(p string) (*ninel.Inode, error) {
	key := path.Clean("/" + p)
	if key == "/" {
		return fs.vol.Root(), nil
	}
	if ino, ok := fs.dirs.Get(key); ok {
		return ino, nil
	}
	cur := fs.vol.Root()
	owned := false
	for _, part := range splitPath(p) {
		next, err := cur.Lookup(part)
		if owned {
			cur.Release()
		}
		if err != nil {
			return nil, err
		}
		cur = next
		owned = true
	}
	if !owned {
		return fs.vol.Root(), nil
	}
	if !cur.IsDir() {
		cur.Release()
		return nil, ninel.ErrNotADirectory
	}
	fs.dirs.Add(key, cur)
	return cur, nil
}

// resolve walks to the file at p. The caller releases the returned inode.
func (fs *bfs) resolve(p string) (*ninel.Inode, error) {
	dir, base := path.Split(path.Clean("/" + p))
	if base == "" {
		return fs.vol.Root().Lookup(".")
	}
	d, err := fs.resolveDir(dir)
	if err != nil {
		return nil, err
	}
	return d.Lookup(base)
}

func (fs *bfs) Create(filename string) (bill.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *bfs) Open(filename string) (bill.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *bfs) OpenFile(filename string, flag int, perm os.FileMode) (bill.File, error) {
	flags := ninel.OpenFlagsFromOS(flag)
	if flag&os.O_CREATE != 0 {
		dir, base := path.Split(path.Clean("/" + filename))
		d, err := fs.resolveDir(dir)
		if err != nil {
			return nil, err
		}
		if ino, err := d.Lookup(base); err == nil {
			// Already present; fall through to a plain open.
			h, err := ino.Open(flags &^ (ninel.OpenCreate | ninel.OpenExcl))
			if err != nil {
				ino.Release()
				return nil, err
			}
			return &bfile{name: filename, ino: ino, h: h}, nil
		}
		ino, h, err := d.Create(base, flags, uint32(perm.Perm()), 0)
		if err != nil {
			return nil, err
		}
		return &bfile{name: filename, ino: ino, h: h}, nil
	}

	ino, err := fs.resolve(filename)
	if err != nil {
		return nil, err
	}
	h, err := ino.Open(flags)
	if err != nil {
		ino.Release()
		return nil, err
	}
	f := &bfile{name: filename, ino: ino, h: h}
	if flag&os.O_APPEND != 0 {
		attr, err := ino.ReadStat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := h.Seek(int64(attr.Size), 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (fs *bfs) Stat(filename string) (os.FileInfo, error) {
	ino, err := fs.resolve(filename)
	if err != nil {
		return nil, err
	}
	defer ino.Release()
	attr, err := ino.ReadStat()
	if err != nil {
		return nil, err
	}
	return ninel.AttrFileInfo{FileName: path.Base(path.Clean("/" + filename)), Attr: attr}, nil
}

func (fs *bfs) Lstat(filename string) (os.FileInfo, error) {
	return fs.Stat(filename)
}

func (fs *bfs) Rename(oldpath, newpath string) error {
	oldDir, oldBase := path.Split(path.Clean("/" + oldpath))
	newDir, newBase := path.Split(path.Clean("/" + newpath))
	from, err := fs.resolveDir(oldDir)
	if err != nil {
		return err
	}
	to, err := fs.resolveDir(newDir)
	if err != nil {
		return err
	}
	return from.Rename(oldBase, to, newBase)
}

func (fs *bfs) Remove(filename string) error {
	dir, base := path.Split(path.Clean("/" + filename))
	d, err := fs.resolveDir(dir)
	if err != nil {
		return err
	}
	ino, err := d.Lookup(base)
	if err != nil {
		return err
	}
	isDir := ino.IsDir()
	ino.Release()
	if isDir {
		fs.dirs.Remove(path.Clean("/" + filename))
		return d.RemoveDir(base)
	}
	return d.Remove(base)
}

func (fs *bfs) Join(elem ...string) string {
	return path.Clean(path.Join(elem...))
}

func (fs *bfs) TempFile(dir, prefix string) (bill.File, error) {
	return nil, bill.ErrNotSupported
}

func (fs *bfs) ReadDir(p string) ([]os.FileInfo, error) {
	d, err := fs.resolveDir(p)
	if err != nil {
		return nil, err
	}
	dh, err := d.OpenDir()
	if err != nil {
		return nil, err
	}
	defer dh.Close()
	ents, err := dh.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(ents))
	for _, e := range ents {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := d.Lookup(e.Name)
		if err != nil {
			continue
		}
		attr, err := child.ReadStat()
		child.Release()
		if err != nil {
			continue
		}
		infos = append(infos, ninel.AttrFileInfo{FileName: e.Name, Attr: attr})
	}
	return infos, nil
}

func (fs *bfs) MkdirAll(p string, perm os.FileMode) error {
	cur := fs.vol.Root()
	owned := false
	for _, part := range splitPath(p) {
		next, err := cur.Lookup(part)
		if err != nil {
			if mkErr := cur.CreateDir(part, uint32(perm.Perm())); mkErr != nil {
				if owned {
					cur.Release()
				}
				return mkErr
			}
			next, err = cur.Lookup(part)
		}
		if owned {
			cur.Release()
		}
		if err != nil {
			return err
		}
		cur = next
		owned = true
	}
	if owned {
		cur.Release()
	}
	return nil
}

func (fs *bfs) Symlink(target, link string) error {
	dir, base := path.Split(path.Clean("/" + link))
	d, err := fs.resolveDir(dir)
	if err != nil {
		return err
	}
	return d.CreateSymlink(base, target)
}

func (fs *bfs) Readlink(link string) (string, error) {
	ino, err := fs.resolve(link)
	if err != nil {
		return "", err
	}
	defer ino.Release()
	return ino.ReadLink()
}

// bfile adapts a FileHandle to billy.File.
type bfile struct {
	name string
	ino  *ninel.Inode
	h    *ninel.FileHandle
}

var _ bill.File = (*bfile)(nil)

func (f *bfile) Name() string { return f.name }

func (f *bfile) Read(p []byte) (int, error)                 { return f.h.Read(p) }
func (f *bfile) ReadAt(p []byte, off int64) (int, error)    { return f.h.ReadAt(p, off) }
func (f *bfile) Write(p []byte) (int, error)                { return f.h.Write(p) }
func (f *bfile) Seek(offset int64, whence int) (int64, error) { return f.h.Seek(offset, whence) }

func (f *bfile) Close() error {
	err := f.h.Close()
	f.ino.Release()
	return err
}

func (f *bfile) Truncate(size int64) error {
	return f.ino.WriteStat(ninel.SetAttr{Valid: ninel.SetattrSize, Size: uint64(size)})
}

// Advisory locks are not part of the surface this client exposes.
func (f *bfile) Lock() error   { return nil }
func (f *bfile) Unlock() error { return nil }
