package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ninelfs/l9fs/ninel"
)

// ClientConfig carries the flags shared by every client command.
type ClientConfig struct {
	Network string
	Aname   string
	Msize   int
	NoColor bool

	PrintTraceMessages bool
	PrintErrorMessages bool
	PrintPrefix        string

	TimeoutInSeconds int
	ReadOnly         bool
}

func (c *ClientConfig) SetFlags(f Flags) {
	if f == nil {
		f = &StdFlags{}
	}
	f.StringVar(&c.Network, "net", "tcp", "Network of the server address: tcp or unix")
	f.StringVar(&c.Aname, "aname", "", "Attach name presented to the server, defaults to empty")
	f.IntVar(&c.Msize, "msize", int(ninel.DefaultMsize), "Proposed maximum 9p message size in bytes")
	f.IntVar(&c.TimeoutInSeconds, "timeout", 5, "Timeout in seconds for client requests")
	f.BoolVar(&c.ReadOnly, "ro", false, "Reject mutating operations locally")
	f.BoolVar(&c.NoColor, "no-color", false, "Disable colored output")
	f.BoolVar(&c.PrintTraceMessages, "trace", false, "Print trace of 9p client to stdout")
	f.BoolVar(&c.PrintErrorMessages, "err", false, "Print errors of 9p client to stderr")
}

func (c *ClientConfig) Loggable() ninel.Loggable {
	var l ninel.Loggable
	if c.PrintTraceMessages {
		l.TraceLog = log.New(os.Stdout, c.PrintPrefix, log.LstdFlags)
	}
	if c.PrintErrorMessages {
		l.ErrorLog = log.New(os.Stderr, c.PrintPrefix, log.LstdFlags)
	}
	return l
}

// DialVolume connects to addr and mounts its attach tree.
func (c *ClientConfig) DialVolume(addr string) (*ninel.Volume, error) {
	var dialer ninel.Dialer = &ninel.TCPDialer{KeepAlivePeriod: 30 * time.Second}
	if c.Network == "unix" {
		dialer = &ninel.UnixDialer{}
	}
	t := &ninel.NetTransport{
		Dialer:  dialer,
		Network: c.Network,
		Addr:    addr,
		Timeout: time.Duration(c.TimeoutInSeconds) * time.Second,
	}
	if err := t.Init(); err != nil {
		return nil, fmt.Errorf("failed to reach 9p server: %w", err)
	}
	clt := ninel.NewClient(t, uint32(c.Msize))
	clt.Loggable = c.Loggable()
	if err := clt.Connect(c.Aname); err != nil {
		t.Uninit()
		return nil, fmt.Errorf("failed to connect to 9p server: %w", err)
	}
	vol, err := ninel.NewVolume(clt, c.ReadOnly)
	if err != nil {
		clt.Disconnect()
		t.Uninit()
		return nil, fmt.Errorf("failed to attach to 9p server: %w", err)
	}
	return vol, nil
}

// MainClient parses flags, connects to the ADDR[/PATH] named by the first
// argument, and runs f against the mounted volume. It exits the process.
func MainClient(f func(cfg *ClientConfig, vol *ninel.Volume, path string) error) {
	var cfg ClientConfig
	cfg.SetFlags(nil)
	flag.Parse()
	SupportsColor(cfg.NoColor)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	addr, subpath := splitAddrPath(flag.Arg(0))

	vol, err := cfg.DialVolume(addr)
	if err != nil {
		_, _ = ErrColor.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	defer vol.Unmount()

	if err := f(&cfg, vol, subpath); err != nil {
		_, _ = ErrColor.Fprintf(os.Stderr, "%s\n", err)
		vol.Unmount()
		os.Exit(1)
	}
}

// splitAddrPath splits "host:port/sub/path" into its address and path
// halves.
func splitAddrPath(arg string) (string, string) {
	if i := strings.Index(arg, "/"); i >= 0 {
		return arg[:i], strings.TrimPrefix(arg[i:], "/")
	}
	return arg, ""
}

// WalkTo resolves a /-separated path from the volume root, returning a
// referenced inode. An empty path returns the root itself.
func WalkTo(vol *ninel.Volume, p string) (*ninel.Inode, error) {
	cur := vol.Root()
	owned := false
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
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
		return cur.Lookup(".")
	}
	return cur, nil
}
