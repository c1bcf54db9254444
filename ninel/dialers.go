package ninel

import (
	"crypto/tls"
	"net"
	"time"
)

type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

type TCPDialer struct {
	KeepAlivePeriod time.Duration
}

func (d *TCPDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := net.Dial(network, addr)
	if err == nil {
		if tcp, ok := conn.(*net.TCPConn); ok && d.KeepAlivePeriod != 0 {
			if err = tcp.SetKeepAlive(true); err != nil {
				return nil, err
			}
			if err = tcp.SetKeepAlivePeriod(d.KeepAlivePeriod); err != nil {
				return nil, err
			}
		}
	}
	return conn, err
}

type TLSDialer struct {
	Config tls.Config
}

func (d *TLSDialer) Dial(network, addr string) (net.Conn, error) {
	return tls.Dial(network, addr, &d.Config)
}

// UnixDialer connects to a server listening on a unix socket; addr is the
// socket path.
type UnixDialer struct{}

func (d *UnixDialer) Dial(network, addr string) (net.Conn, error) {
	return net.Dial("unix", addr)
}
