package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	frameFlag byte = 0x7e

	frameData byte = 1
	frameAck  byte = 2

	// flag + type + seq + length
	frameHeaderSize  int = 1 + 1 + 1 + 2
	frameTrailerSize int = 4

	MaxFrameSize = 4096
)

const pollInterval = 100 * time.Millisecond

var errCorruptFrame = errors.New("corrupt frame")

type frame struct {
	kind    byte
	seq     byte
	payload []byte
}

func (f *frame) ToBytes() []byte {
	arr := make([]byte, frameHeaderSize+len(f.payload)+frameTrailerSize)
	arr[0] = frameFlag
	arr[1] = f.kind
	arr[2] = f.seq
	binary.BigEndian.PutUint16(arr[3:5], uint16(len(f.payload)))
	copy(arr[frameHeaderSize:], f.payload)

	sum := crc32.ChecksumIEEE(arr[1 : frameHeaderSize+len(f.payload)])
	binary.BigEndian.PutUint32(arr[frameHeaderSize+len(f.payload):], sum)
	return arr
}

type Stats struct {
	Sent          int
	Retransmitted int
	Received      int
	Duplicates    int
	Corrupt       int
}

// framedConn is a stop-and-wait link: every data frame is acknowledged before the
// next one is sent, and an alternating sequence bit filters retransmitted duplicates.
type framedConn struct {
	port            port
	name            string
	retransmissions int
	timeout         time.Duration

	sendSeq byte
	recvSeq byte
	stats   Stats

	closeOnce sync.Once
	closed    bool
}

func newFramedConn(p port, params Params) (*framedConn, error) {
	if err := p.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &framedConn{
		port:            p,
		name:            params.Port,
		retransmissions: params.Retransmissions,
		timeout:         timeout,
	}, nil
}

func (c *framedConn) Send(p []byte) error {
	if c.closed {
		return ErrClosed
	}
	if len(p) > MaxFrameSize {
		return fmt.Errorf("%w: %w: %v bytes", ErrSendFailed, ErrFrameTooBig, len(p))
	}

	seq := c.sendSeq
	arr := (&frame{kind: frameData, seq: seq, payload: p}).ToBytes()

	for attempt := 0; attempt <= c.retransmissions; attempt++ {
		if attempt > 0 {
			c.stats.Retransmitted++
			log.WithFields(log.Fields{
				"Port":    c.name,
				"Attempt": attempt,
			}).Warn("Retransmitting frame")
		}

		if _, err := c.port.Write(arr); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}

		acked, err := c.awaitAck(seq, time.Now().Add(c.timeout))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		if acked {
			c.stats.Sent++
			c.sendSeq ^= 1
			return nil
		}
	}

	return fmt.Errorf("%w: %w: no acknowledge after %v attempts", ErrSendFailed, ErrTimeout, c.retransmissions+1)
}

// awaitAck reports false once the deadline passes without a matching acknowledge.
func (c *framedConn) awaitAck(seq byte, deadline time.Time) (bool, error) {
	for {
		f, err := c.readFrame(deadline)
		if errors.Is(err, ErrTimeout) {
			return false, nil
		}
		if errors.Is(err, errCorruptFrame) {
			continue
		}
		if err != nil {
			return false, err
		}

		if f.kind == frameAck && f.seq == seq {
			return true, nil
		}
	}
}

func (c *framedConn) Receive(buf []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	for {
		f, err := c.readFrame(time.Time{})
		if errors.Is(err, errCorruptFrame) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrReceiveFailed, err)
		}
		if f.kind != frameData {
			continue
		}

		ack := (&frame{kind: frameAck, seq: f.seq}).ToBytes()
		if _, err := c.port.Write(ack); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrReceiveFailed, err)
		}

		if f.seq != c.recvSeq {
			c.stats.Duplicates++
			log.WithField("Port", c.name).Debug("Dropped duplicate frame")
			continue
		}
		c.recvSeq ^= 1
		c.stats.Received++

		if len(f.payload) > len(buf) {
			return 0, fmt.Errorf("%w: %w", ErrReceiveFailed, io.ErrShortBuffer)
		}
		return copy(buf, f.payload), nil
	}
}

// readFrame blocks until a complete frame arrives. A zero deadline never expires.
func (c *framedConn) readFrame(deadline time.Time) (*frame, error) {
	b := make([]byte, 1)
	for {
		if err := c.readFull(b, deadline); err != nil {
			return nil, err
		}
		if b[0] == frameFlag {
			break
		}
	}

	header := make([]byte, frameHeaderSize-1)
	if err := c.readFull(header, deadline); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length > MaxFrameSize {
		c.discard()
		return nil, fmt.Errorf("%w: length %v", errCorruptFrame, length)
	}

	rest := make([]byte, length+frameTrailerSize)
	if err := c.readFull(rest, deadline); err != nil {
		return nil, err
	}

	sum := crc32.NewIEEE()
	sum.Write(header)
	sum.Write(rest[:length])
	if sum.Sum32() != binary.BigEndian.Uint32(rest[length:]) {
		c.discard()
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptFrame)
	}

	return &frame{
		kind:    header[0],
		seq:     header[1],
		payload: rest[:length],
	}, nil
}

func (c *framedConn) discard() {
	c.stats.Corrupt++
	if err := c.port.ResetInputBuffer(); err != nil {
		log.WithError(err).WithField("Port", c.name).Warn("Could not reset input buffer")
	}
}

func (c *framedConn) readFull(buf []byte, deadline time.Time) error {
	for read := 0; read < len(buf); {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrTimeout
		}
		n, err := c.port.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

// Close releases the port. Unless abrupt, the link statistics are logged first.
func (c *framedConn) Close(abrupt bool) error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		c.closed = true
		if !abrupt {
			log.WithFields(log.Fields{
				"Port":          c.name,
				"Sent":          c.stats.Sent,
				"Retransmitted": c.stats.Retransmitted,
				"Received":      c.stats.Received,
				"Duplicates":    c.stats.Duplicates,
				"Corrupt":       c.stats.Corrupt,
			}).Info("Closing link")
		}
		err = c.port.Close()
	})
	return err
}
