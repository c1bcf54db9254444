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
	var perm int

	flag.IntVar(&perm, "m", 0755, "permission bits of the new directory")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(w, "Usage: %s [OPTIONS] ADDR/PATH\n\n", os.Args[0])
		_, _ = fmt.Fprintf(w, "mkdir for a 9P2000.L export\n\n")
		_, _ = fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.MainClient(func(cfg *cli.ClientConfig, vol *ninel.Volume, p string) error {
		dir, base := path.Split(path.Clean("/" + p))
		if base == "" {
			return ninel.ErrBadValue
		}
		parent, err := cli.WalkTo(vol, dir)
		if err != nil {
			return err
		}
		defer parent.Release()
		return parent.CreateDir(base, uint32(perm))
	})
}
