package receiver

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/Pablu23/Sertp/internal/common"
	"github.com/Pablu23/Sertp/internal/link"
)

var ErrProtocolSequence = errors.New("protocol sequence error")

// Receiver rebuilds one file from the packets arriving on a link. Data is written
// in arrival order; sequence numbers are only checked for diagnostics.
type Receiver struct {
	conn    link.Conn
	log     *log.Entry
	options *Options

	file    *os.File
	path    string
	summary *common.Summary
	digest  hash.Hash
	seq     sequenceTracker
}

func New(conn link.Conn, logger *log.Entry, opts ...func(*Options)) *Receiver {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Receiver{
		conn:    conn,
		log:     logger,
		options: options,
	}
}

// Run receives packets until an End packet arrives or an error ends the session.
// The output file is closed on every path.
func (rx *Receiver) Run() (*common.Summary, error) {
	rx.file = nil
	rx.summary = nil
	rx.seq.reset()
	defer rx.closeFile()

	buf := make([]byte, common.PacketSize)
	for {
		n, err := rx.conn.Receive(buf)
		if err != nil {
			rx.log.WithError(err).Error("Invalid read")
			return nil, fmt.Errorf("receiving packet: %w", err)
		}
		pck := buf[:n]

		kind, err := common.KindFromBytes(pck)
		if err != nil {
			return nil, err
		}
		rx.log.WithField("Packet Type", kind).Debug("Processing packet")

		switch kind {
		case common.End:
			return rx.finish()
		case common.Start:
			err = rx.handleStart(pck)
		case common.Data:
			err = rx.handleData(pck)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (rx *Receiver) handleStart(pck []byte) error {
	if rx.file != nil {
		return fmt.Errorf("%w: second START packet", ErrProtocolSequence)
	}

	start, err := common.StartFromBytes(pck)
	if err != nil {
		return err
	}

	path := rx.outputPath(start.FileName)
	rx.log.WithFields(log.Fields{
		"File":      start.FileName,
		"Size":      start.FileSize,
		"File Path": path,
	}).Info("Opening output File")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening output %v: %w", path, err)
	}

	digest, err := blake2b.New256(nil)
	if err != nil {
		file.Close()
		return err
	}

	rx.file = file
	rx.path = path
	rx.digest = digest
	rx.summary = &common.Summary{
		FileName: start.FileName,
		FileSize: start.FileSize,
	}
	return nil
}

func (rx *Receiver) handleData(pck []byte) error {
	if rx.file == nil {
		return fmt.Errorf("%w: DATA packet before START", ErrProtocolSequence)
	}

	data, err := common.DataFromBytes(pck)
	if err != nil {
		return err
	}

	inOrder, duplicate := rx.seq.observe(data.Sequence)
	if duplicate {
		rx.log.WithField("Sequence", data.Sequence).Warn("Sequence number seen twice in window")
	} else if !inOrder {
		rx.log.WithField("Sequence", data.Sequence).Warn("Unexpected sequence number")
	}

	rx.log.WithFields(log.Fields{
		"Sequence":  data.Sequence,
		"Length":    len(data.Data),
		"File Path": rx.path,
	}).Debug("Writing fragment")

	written, err := rx.file.Write(data.Data)
	if err == nil && written != len(data.Data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("writing to %v: %w", rx.path, err)
	}
	rx.digest.Write(data.Data)

	rx.summary.Bytes += uint64(written)
	rx.summary.Packets++
	if written > 0 {
		rx.reportProgress()
	}
	return nil
}

func (rx *Receiver) reportProgress() {
	progress := Progress{
		Written: rx.summary.Bytes,
		Total:   rx.summary.FileSize,
	}
	if progress.Total > 0 {
		progress.Percent = float64(progress.Written) * 100.0 / float64(progress.Total)
	}

	rx.log.WithField("Progress", fmt.Sprintf("%.2f%%", progress.Percent)).Info("Written part of the File")
	if rx.options.OnProgress != nil {
		rx.options.OnProgress(progress)
	}
}

func (rx *Receiver) finish() (*common.Summary, error) {
	if rx.file == nil {
		return nil, fmt.Errorf("%w: END packet before START", ErrProtocolSequence)
	}

	summary := rx.summary
	summary.Digest = rx.digest.Sum(nil)

	if missing := rx.seq.missing(); missing > 0 {
		rx.log.WithField("Missing", missing).Warn("Sequence numbers missing from last window")
	}
	if summary.Bytes != summary.FileSize {
		rx.log.WithFields(log.Fields{
			"Expected": summary.FileSize,
			"Received": summary.Bytes,
		}).Warn("Received size differs from announced size")
	}

	rx.log.WithFields(log.Fields{
		"File Path": rx.path,
		"Bytes":     summary.Bytes,
		"Packets":   summary.Packets,
		"Digest":    summary.DigestString(),
	}).Info("Reception finished")

	return summary, nil
}

func (rx *Receiver) closeFile() {
	if rx.file == nil {
		return
	}
	if err := rx.file.Close(); err != nil {
		rx.log.WithError(err).WithField("File Path", rx.path).Error("Could not close File")
	}
	rx.file = nil
}

// outputPath keeps only the base of the announced name so a START packet cannot
// place the file outside the output directory.
func (rx *Receiver) outputPath(announced string) string {
	name := filepath.Base(announced)
	switch name {
	case ".", "..", string(filepath.Separator):
		name = "unnamed"
	}
	return filepath.Join(rx.options.OutputDir, name+rx.options.Suffix)
}
