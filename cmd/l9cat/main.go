package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ninelfs/l9fs/cli"
	"github.com/ninelfs/l9fs/ninel"
)

func main() {
	var writeFromStdin bool
	var newline bool

	flag.BoolVar(&writeFromStdin, "stdin", false, "writes data read from stdin before reading from the 9p file")
	flag.BoolVar(&newline, "newline", false, "print a newline at the end")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(w, "Usage: %s [OPTIONS] ADDR/PATH\n\n", os.Args[0])
		_, _ = fmt.Fprintf(w, "cat for a 9P2000.L export\n\n")
		_, _ = fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.MainClient(func(cfg *cli.ClientConfig, vol *ninel.Volume, path string) error {
		ino, err := cli.WalkTo(vol, path)
		if err != nil {
			return err
		}
		defer ino.Release()

		flags := ninel.OpenRead
		if writeFromStdin {
			flags = ninel.OpenRdwr
		}
		h, err := ino.Open(flags)
		if err != nil {
			return err
		}
		defer func() { _ = h.Close() }()

		if writeFromStdin {
			n, err := io.Copy(h, os.Stdin)
			_, _ = fmt.Fprintf(os.Stderr, "# wrote %d bytes\n", n)
			if err != nil {
				return err
			}
			if _, err := h.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}

		if _, err := io.Copy(os.Stdout, h); err != nil && err != io.EOF {
			return err
		}
		if newline {
			fmt.Println()
		}
		return nil
	})
}
