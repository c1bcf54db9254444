package ninel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
)

// A Transport carries complete 9P messages between client and server. A
// transport instance serves at most one session; the registry's tag keys
// enforce the pairing.
type Transport interface {
	Init() error
	Uninit()

	// SendMessage transmits exactly one complete 9P message. The
	// message's leading size word is its own framing.
	SendMessage(p []byte) error

	// ReceiveMessage delivers exactly one complete response message into
	// p and returns its length.
	ReceiveMessage(p []byte) (int, error)

	MaxMessageSize() uint32
	Name() string
}

// Transport registry, keyed by mount tag. Fixed-capacity slots; transport
// drivers register at setup time and mounts look their transport up by
// tag.
const transportSlots = 8

var (
	ErrTransportRegistered = errors.New("transport tag already registered")
	ErrTransportSlotsFull  = errors.New("transport registry full")

	transportMu  sync.Mutex
	transportTab [transportSlots]struct {
		tag string
		t   Transport
	}
)

func RegisterTransport(tag string, t Transport) error {
	transportMu.Lock()
	defer transportMu.Unlock()
	free := -1
	for i := range transportTab {
		if transportTab[i].t == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if transportTab[i].tag == tag {
			return ErrTransportRegistered
		}
	}
	if free < 0 {
		return ErrTransportSlotsFull
	}
	transportTab[free].tag = tag
	transportTab[free].t = t
	return nil
}

func UnregisterTransport(tag string) {
	transportMu.Lock()
	defer transportMu.Unlock()
	for i := range transportTab {
		if transportTab[i].t != nil && transportTab[i].tag == tag {
			transportTab[i].tag = ""
			transportTab[i].t = nil
			return
		}
	}
}

func FindTransport(tag string) (Transport, bool) {
	transportMu.Lock()
	defer transportMu.Unlock()
	for i := range transportTab {
		if transportTab[i].t != nil && transportTab[i].tag == tag {
			return transportTab[i].t, true
		}
	}
	return nil, false
}

// NetTransport frames 9P messages over a stream connection using the
// message's own size word.
type NetTransport struct {
	Dialer  Dialer
	Network string
	Addr    string

	// Timeout bounds each send or receive; zero means no deadline. A
	// deadline expiry surfaces as an error on the in-flight request.
	Timeout time.Duration

	// MsgSize caps the message size this transport will carry. Zero
	// means MaxMsize.
	MsgSize uint32

	mu   sync.Mutex
	conn net.Conn
}

var _ Transport = (*NetTransport)(nil)

func (t *NetTransport) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	d := t.Dialer
	if d == nil {
		d = &TCPDialer{}
	}
	network := t.Network
	if network == "" {
		network = "tcp"
	}
	conn, err := d.Dial(network, t.Addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *NetTransport) Uninit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *NetTransport) MaxMessageSize() uint32 {
	if t.MsgSize != 0 {
		return t.MsgSize
	}
	return MaxMsize
}

func (t *NetTransport) Name() string {
	network := t.Network
	if network == "" {
		network = "tcp"
	}
	return fmt.Sprintf("%s!%s", network, t.Addr)
}

func (t *NetTransport) SendMessage(p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if t.Timeout != 0 {
		conn.SetWriteDeadline(time.Now().Add(t.Timeout))
	}
	for len(p) > 0 {
		n, err := conn.Write(p)
		p = p[n:]
		if isTemporaryErr(err) {
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (t *NetTransport) ReceiveMessage(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	if t.Timeout != 0 {
		conn.SetReadDeadline(time.Now().Add(t.Timeout))
	}
	if len(p) < 4 {
		return 0, ErrBufferOverflow
	}
	if _, err := readUpTo(conn, p[:4]); err != nil {
		return 0, err
	}
	size := bo.Uint32(p[:4])
	if size < HeaderSize || int(size) > len(p) {
		return 0, fmt.Errorf("%w: message size %d exceeds buffer %d", ErrBufferOverflow, size, len(p))
	}
	if _, err := readUpTo(conn, p[4:size]); err != nil {
		return 0, err
	}
	return int(size), nil
}

func isClosedSocket(err error) bool {
	return err != nil &&
		(strings.Contains(err.Error(), "use of closed network connection") ||
			errors.Is(err, io.EOF) ||
			errors.Is(err, syscall.EPIPE))
}

func isTimeoutErr(err error) bool {
	if err, ok := err.(net.Error); ok && err.Timeout() {
		return true
	}
	return false
}

func isTemporaryErr(err error) bool {
	type t interface {
		error
		Temporary() bool
	}
	if err, ok := err.(t); ok {
		return err.Temporary() && !isTimeoutErr(err)
	}
	return false
}

func readUpTo(r io.Reader, p []byte) (int, error) {
	var err error
	n := 0
	for n < len(p) && err == nil {
		m, e := r.Read(p[n:])
		n += m
		if isTimeoutErr(e) {
			return n, e
		} else if isTemporaryErr(e) {
			continue
		}
		err = e
	}
	if n == len(p) && err == io.EOF {
		err = nil
	}
	return n, err
}
