package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ninelfs/l9fs/cli"
	"github.com/ninelfs/l9fs/ninel"
)

func main() {
	var long bool
	var showAll bool

	flag.BoolVar(&long, "l", false, "long listing: mode, size, name")
	flag.BoolVar(&showAll, "a", false, "include . and ..")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(w, "Usage: %s [OPTIONS] ADDR/PATH\n\n", os.Args[0])
		_, _ = fmt.Fprintf(w, "ls for a 9P2000.L export\n\n")
		_, _ = fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.MainClient(func(cfg *cli.ClientConfig, vol *ninel.Volume, path string) error {
		ino, err := cli.WalkTo(vol, path)
		if err != nil {
			return err
		}
		defer ino.Release()

		dh, err := ino.OpenDir()
		if err != nil {
			return err
		}
		defer func() { _ = dh.Close() }()

		ents, err := dh.ReadDir(-1)
		if err != nil {
			return err
		}
		for _, e := range ents {
			if !showAll && (e.Name == "." || e.Name == "..") {
				continue
			}
			if long {
				child, err := ino.Lookup(e.Name)
				if err != nil {
					_, _ = cli.ErrColor.Fprintf(os.Stderr, "%s: %s\n", e.Name, err)
					continue
				}
				attr, err := child.ReadStat()
				child.Release()
				if err != nil {
					_, _ = cli.ErrColor.Fprintf(os.Stderr, "%s: %s\n", e.Name, err)
					continue
				}
				fmt.Printf("%s %10d ", ninel.ModeToOS(attr.Mode), attr.Size)
			}
			switch {
			case e.Qid.Type.IsDir():
				_, _ = cli.DirColor.Println(e.Name)
			case e.Qid.Type.IsSymlink():
				_, _ = cli.SymlinkColor.Println(e.Name)
			default:
				fmt.Println(e.Name)
			}
		}
		return nil
	})
}
