package link

import (
	"fmt"
	"io"
	"sync"
)

const loopbackQueue = 64

type loopbackConn struct {
	in         chan []byte
	out        chan []byte
	closed     chan struct{}
	peerClosed chan struct{}
	closeOnce  *sync.Once
}

// NewLoopback returns two connected in-memory ends. Packets sent on one end are
// received on the other, in order and without loss.
func NewLoopback() (Conn, Conn) {
	aToB := make(chan []byte, loopbackQueue)
	bToA := make(chan []byte, loopbackQueue)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &loopbackConn{in: bToA, out: aToB, closed: aClosed, peerClosed: bClosed, closeOnce: &sync.Once{}}
	b := &loopbackConn{in: aToB, out: bToA, closed: bClosed, peerClosed: aClosed, closeOnce: &sync.Once{}}
	return a, b
}

func (l *loopbackConn) Send(p []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.peerClosed:
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	default:
	}

	pck := make([]byte, len(p))
	copy(pck, p)

	select {
	case l.out <- pck:
		return nil
	case <-l.closed:
		return ErrClosed
	case <-l.peerClosed:
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
}

func (l *loopbackConn) Receive(buf []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, ErrClosed
	default:
	}

	select {
	case pck := <-l.in:
		return deliver(buf, pck)
	case <-l.closed:
		return 0, ErrClosed
	case <-l.peerClosed:
		// Packets sent before the peer closed are still delivered.
		select {
		case pck := <-l.in:
			return deliver(buf, pck)
		default:
			return 0, fmt.Errorf("%w: %w", ErrReceiveFailed, ErrClosed)
		}
	}
}

func deliver(buf []byte, pck []byte) (int, error) {
	if len(pck) > len(buf) {
		return 0, fmt.Errorf("%w: %w", ErrReceiveFailed, io.ErrShortBuffer)
	}
	return copy(buf, pck), nil
}

func (l *loopbackConn) Close(abrupt bool) error {
	err := ErrClosed
	l.closeOnce.Do(func() {
		close(l.closed)
		err = nil
	})
	return err
}
