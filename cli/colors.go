package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func SupportsColor(noColorHint bool) {
	fd := os.Stdout.Fd()
	color.NoColor = noColorHint || (!isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd))
}

var (
	DirColor     = color.New(color.FgBlue, color.Bold)
	SymlinkColor = color.New(color.FgCyan)
	ErrColor     = color.New(color.FgRed)
)
