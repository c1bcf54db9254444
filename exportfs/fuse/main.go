package fuse

import (
	gofs "github.com/hanwen/go-fuse/v2/fs"

	"github.com/ninelfs/l9fs/ninel"
)

// MountAndServe mounts the volume at mountpoint and serves until the
// mount is unmounted or the server fails.
func MountAndServe(vol *ninel.Volume, mountpoint string, opts *gofs.Options, log ninel.Loggable) error {
	cfg := &config{vol: vol, Loggable: log}
	root := &Node{ino: vol.Root(), cfg: cfg}

	if opts == nil {
		opts = &gofs.Options{}
	}
	if opts.MountOptions.FsName == "" {
		opts.MountOptions.FsName = "l9fs"
	}
	if opts.MountOptions.Name == "" {
		opts.MountOptions.Name = "l9fs"
	}

	srv, err := gofs.Mount(mountpoint, root, opts)
	if err != nil {
		return err
	}
	srv.Wait()
	return nil
}
