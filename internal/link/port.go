package link

import (
	"errors"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// port is the byte stream a framedConn runs over. Read returns 0, nil once the
// read timeout elapses without data, like go.bug.st/serial does.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// netPort adapts a net.Conn to the serial port contract.
type netPort struct {
	conn     net.Conn
	listener net.Listener
	timeout  time.Duration
}

func (p *netPort) Read(b []byte) (int, error) {
	var deadline time.Time
	if p.timeout > 0 {
		deadline = time.Now().Add(p.timeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := p.conn.Read(b)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (p *netPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *netPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *netPort) ResetInputBuffer() error {
	return nil
}

func (p *netPort) Close() error {
	if p.listener != nil {
		if err := p.listener.Close(); err != nil {
			log.WithError(err).Error("Could not close TCP Listener")
		}
	}
	return p.conn.Close()
}
