package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sertp/internal/common"
	"github.com/Pablu23/Sertp/internal/link"
	"github.com/Pablu23/Sertp/internal/receiver"
	"github.com/Pablu23/Sertp/internal/transmitter"
)

var (
	ErrLinkUnavailable = errors.New("link unavailable")
	ErrNoFile          = errors.New("transmitter needs a file")
)

// Session runs one transfer in one role: it opens the link, hands it to the
// transmitter or receiver and closes it again on every path.
type Session struct {
	id      uuid.UUID
	options *Options
	log     *log.Entry
}

func New(opts ...func(*Options)) (*Session, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.Role == link.Transmitter && options.FilePath == "" {
		return nil, ErrNoFile
	}
	if options.Dial == nil {
		options.Dial = link.Open
	}

	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})
	if options.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	id := uuid.New()
	return &Session{
		id:      id,
		options: options,
		log: log.WithFields(log.Fields{
			"SessionID": id.String(),
			"Role":      options.Role.String(),
		}),
	}, nil
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Run() (summary *common.Summary, err error) {
	params := link.Params{
		Port:            s.options.Port,
		BaudRate:        s.options.BaudRate,
		Retransmissions: s.options.Retransmissions,
		Timeout:         s.options.Timeout,
		Role:            s.options.Role,
	}

	s.log.WithField("Port", params.Port).Info("Connecting")
	conn, err := s.options.Dial(params)
	if err != nil {
		s.log.WithError(err).WithField("Port", params.Port).Error("Link not available")
		return nil, fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}
	s.log.Info("Connection established")

	defer func(conn link.Conn) {
		if cerr := conn.Close(err != nil); cerr != nil {
			s.log.WithError(cerr).Error("Could not close link")
		}
	}(conn)

	if s.options.Role == link.Transmitter {
		summary, err = transmitter.New(conn, s.log).Run(s.options.FilePath)
	} else {
		summary, err = receiver.New(conn, s.log, func(o *receiver.Options) {
			o.OutputDir = s.options.OutputDir
			o.Suffix = s.options.OutputSuffix
			o.OnProgress = s.options.OnProgress
		}).Run()
	}

	if err != nil {
		s.log.WithError(err).Error("Session aborted")
		return nil, err
	}
	s.log.Info("Session finished")
	return summary, nil
}
