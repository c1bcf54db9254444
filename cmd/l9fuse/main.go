package main

import (
	"flag"
	"fmt"
	"os"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	_ "go.uber.org/automaxprocs"

	"github.com/ninelfs/l9fs/cli"
	"github.com/ninelfs/l9fs/exportfs/fuse"
)

func main() {
	var cfg cli.ClientConfig
	var debug bool
	cfg.SetFlags(nil)
	flag.BoolVar(&debug, "debug", false, "print fuse protocol debugging")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(w, "Usage: %s [OPTIONS] ADDR MOUNTPOINT\n\n", os.Args[0])
		_, _ = fmt.Fprintf(w, "Mounts a 9P2000.L export as a local file system\n\n")
		_, _ = fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	cli.SupportsColor(cfg.NoColor)

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	addr, mountpoint := flag.Arg(0), flag.Arg(1)

	vol, err := cfg.DialVolume(addr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	defer vol.Unmount()

	opts := &gofs.Options{}
	opts.MountOptions.Debug = debug
	if err := fuse.MountAndServe(vol, mountpoint, opts, cfg.Loggable()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "mount failed: %s\n", err)
		vol.Unmount()
		os.Exit(1)
	}
}
