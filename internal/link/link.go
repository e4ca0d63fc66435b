// Package link provides the framed, reliable packet connection the transfer
// protocol runs on: a serial port or TCP socket carrying stop-and-wait frames,
// and an in-memory loopback pair for local use.
package link

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	ErrClosed        = errors.New("link closed")
	ErrTimeout       = errors.New("link timeout")
	ErrSendFailed    = errors.New("link send failed")
	ErrReceiveFailed = errors.New("link receive failed")
	ErrFrameTooBig   = errors.New("frame too big")
)

// Conn carries whole packets. Every Send is delivered as exactly one Receive on
// the other end, in order.
type Conn interface {
	Send(p []byte) error
	// Receive blocks until one packet is available and copies it into buf.
	Receive(buf []byte) (int, error)
	// Close releases the connection. It must be called exactly once.
	Close(abrupt bool) error
}

type Role uint8

const (
	Receiver Role = iota
	Transmitter
)

func (role Role) String() string {
	if role == Transmitter {
		return "tx"
	}
	return "rx"
}

type Params struct {
	Port            string
	BaudRate        int
	Retransmissions int
	Timeout         time.Duration
	Role            Role
}

const tcpScheme = "tcp://"

// Open connects to the peer described by params. A Port of the form
// tcp://host:port uses a TCP socket (the receiver listens, the transmitter dials),
// anything else is treated as a serial device.
func Open(params Params) (Conn, error) {
	if addr, ok := strings.CutPrefix(params.Port, tcpScheme); ok {
		return openTCP(addr, params)
	}
	return openSerial(params)
}

func openSerial(params Params) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: params.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	ser, err := serial.Open(params.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %v: %w", params.Port, err)
	}

	conn, err := newFramedConn(ser, params)
	if err != nil {
		if cerr := ser.Close(); cerr != nil {
			log.WithError(cerr).Error("Could not close serial port")
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"Port": params.Port,
		"Baud": params.BaudRate,
	}).Info("Opened serial port")
	return conn, nil
}

func openTCP(addr string, params Params) (Conn, error) {
	var c net.Conn
	var listener net.Listener

	if params.Role == Receiver {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listening on %v: %w", addr, err)
		}
		log.WithField("Address", addr).Info("Waiting for transmitter")

		c, err = l.Accept()
		if err != nil {
			if cerr := l.Close(); cerr != nil {
				log.WithError(cerr).Error("Could not close TCP Listener")
			}
			return nil, fmt.Errorf("accepting on %v: %w", addr, err)
		}
		listener = l
	} else {
		var err error
		for attempt := 0; attempt <= params.Retransmissions; attempt++ {
			c, err = net.DialTimeout("tcp", addr, params.Timeout)
			if err == nil {
				break
			}
			log.WithError(err).WithField("Attempt", attempt+1).Warn("Could not reach receiver")
			if attempt < params.Retransmissions {
				time.Sleep(params.Timeout)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("dialing %v: %w", addr, err)
		}
	}

	conn, err := newFramedConn(&netPort{conn: c, listener: listener}, params)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"Local":  c.LocalAddr().String(),
		"Remote": c.RemoteAddr().String(),
	}).Info("Opened TCP link")
	return conn, nil
}
