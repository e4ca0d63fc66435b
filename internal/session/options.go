package session

import (
	"fmt"
	"time"

	"github.com/Pablu23/Sertp/internal/link"
	"github.com/Pablu23/Sertp/internal/receiver"
)

type Options struct {
	Port            string
	BaudRate        int
	Retransmissions int
	Timeout         time.Duration
	Role            link.Role
	// Only used by the transmitter
	FilePath string
	// Only used by the receiver
	OutputDir    string
	OutputSuffix string
	OnProgress   func(receiver.Progress)
	Verbose      bool

	Dial func(link.Params) (link.Conn, error)
}

func NewDefaultOptions() *Options {
	return &Options{
		BaudRate:        9600,
		Retransmissions: 3,
		Timeout:         4 * time.Second,
		Role:            link.Receiver,
		OutputDir:       ".",
		OutputSuffix:    ".recv",
		Dial:            link.Open,
	}
}

func ParseRole(role string) (link.Role, error) {
	switch role {
	case "rx":
		return link.Receiver, nil
	case "tx":
		return link.Transmitter, nil
	}
	return link.Receiver, fmt.Errorf("invalid role %q, expected rx or tx", role)
}
