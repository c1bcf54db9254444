package ninel

import (
	"fmt"

	"github.com/ninelfs/l9fs/ninel/kvp"
)

// Mount option keys, as found in the comma-separated mount-args string.
const (
	MountOptTag   = "tag"
	MountOptAname = "aname"
	MountOptMsize = "msize"
)

type MountOptions struct {
	// Tag names the registered transport to mount through. Required.
	Tag string

	// Aname is the attach name presented to the server. Default empty.
	Aname string

	// Msize is the proposed maximum message size, clamped to
	// [DefaultMsize, MaxMsize].
	Msize uint32
}

// ParseMountOptions parses "key=value[,key=value]*". Unrecognised keys
// are ignored.
func ParseMountOptions(args string) (MountOptions, error) {
	opts := MountOptions{Msize: DefaultMsize}
	kv := kvp.Parse(args)
	opts.Tag = kv.GetOne(MountOptTag)
	if opts.Tag == "" {
		return opts, fmt.Errorf("%w: missing mount option %q", ErrBadValue, MountOptTag)
	}
	opts.Aname = kv.GetOne(MountOptAname)
	if msize, ok := kv.GetOneUint32(MountOptMsize); ok {
		if msize < DefaultMsize {
			msize = DefaultMsize
		}
		if msize > MaxMsize {
			msize = MaxMsize
		}
		opts.Msize = msize
	}
	return opts, nil
}

// Mount looks the transport up by tag, connects a session through it, and
// builds the filesystem object layer.
func Mount(args string, readOnly bool, log Loggable) (*Volume, error) {
	opts, err := ParseMountOptions(args)
	if err != nil {
		return nil, err
	}
	t, ok := FindTransport(opts.Tag)
	if !ok {
		return nil, fmt.Errorf("%w: no transport registered for tag %q", ErrDeviceNotReady, opts.Tag)
	}
	if err := t.Init(); err != nil {
		return nil, err
	}
	c := NewClient(t, opts.Msize)
	c.Loggable = log
	if err := c.Connect(opts.Aname); err != nil {
		t.Uninit()
		return nil, err
	}
	v, err := NewVolume(c, readOnly)
	if err != nil {
		c.Disconnect()
		t.Uninit()
		return nil, err
	}
	return v, nil
}
