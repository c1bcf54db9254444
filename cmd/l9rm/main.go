package main

import (
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/ninelfs/l9fs/cli"
	"github.com/ninelfs/l9fs/ninel"
)

func main() {
	var dir bool

	flag.BoolVar(&dir, "d", false, "remove a directory instead of a file")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(w, "Usage: %s [OPTIONS] ADDR/PATH\n\n", os.Args[0])
		_, _ = fmt.Fprintf(w, "rm for a 9P2000.L export\n\n")
		_, _ = fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.MainClient(func(cfg *cli.ClientConfig, vol *ninel.Volume, p string) error {
		parentPath, base := path.Split(path.Clean("/" + p))
		if base == "" {
			return ninel.ErrBadValue
		}
		parent, err := cli.WalkTo(vol, parentPath)
		if err != nil {
			return err
		}
		defer parent.Release()
		if dir {
			return parent.RemoveDir(base)
		}
		return parent.Remove(base)
	})
}
