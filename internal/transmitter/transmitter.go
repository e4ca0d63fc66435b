package transmitter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/Pablu23/Sertp/internal/common"
	"github.com/Pablu23/Sertp/internal/link"
)

// Transmitter sends a single file over a link: one Start packet, the file content
// as Data packets of at most common.MaxPayloadSize bytes, then one End packet.
type Transmitter struct {
	conn     link.Conn
	log      *log.Entry
	sequence uint8
}

func New(conn link.Conn, logger *log.Entry) *Transmitter {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Transmitter{
		conn: conn,
		log:  logger,
	}
}

// Run transmits the file at path. A failure after the Start packet went out leaves
// the receiver without an End packet.
func (tx *Transmitter) Run(path string) (*common.Summary, error) {
	tx.sequence = 0

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %v: %w", path, err)
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			tx.log.WithError(err).Error("Could not close File")
		}
	}(file)

	fi, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading size of %v: %w", path, err)
	}

	summary := &common.Summary{
		FileName: filepath.Base(path),
		FileSize: uint64(fi.Size()),
	}

	if err := tx.sendStart(summary); err != nil {
		return nil, err
	}

	digest, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, common.MaxPayloadSize)
	for {
		r, err := file.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			tx.log.WithError(err).WithField("File Path", path).Error("Unable to read File, aborting")
			return nil, fmt.Errorf("reading %v: %w", path, err)
		}
		if r == 0 {
			break
		}

		if err := tx.sendData(buf[:r]); err != nil {
			return nil, err
		}

		digest.Write(buf[:r])
		summary.Bytes += uint64(r)
		summary.Packets++
	}

	tx.log.Debug("Sending END packet")
	if err := tx.conn.Send(common.EndToBytes()); err != nil {
		tx.log.WithError(err).Error("Could not send END packet")
	}

	summary.Digest = digest.Sum(nil)
	tx.log.WithFields(log.Fields{
		"File":    summary.FileName,
		"Bytes":   summary.Bytes,
		"Packets": summary.Packets,
		"Digest":  summary.DigestString(),
	}).Info("Transmission finished")

	return summary, nil
}

func (tx *Transmitter) sendStart(summary *common.Summary) error {
	pck := common.NewStart(summary.FileSize, summary.FileName).ToBytes()
	if len(pck) > common.PacketSize {
		return fmt.Errorf("%w: start packet for %q is %v bytes, max %v",
			common.ErrPayloadTooLarge, summary.FileName, len(pck), common.PacketSize)
	}

	tx.log.WithFields(log.Fields{
		"File": summary.FileName,
		"Size": summary.FileSize,
	}).Info("Sending START packet")

	if err := tx.conn.Send(pck); err != nil {
		return fmt.Errorf("sending START packet: %w", err)
	}
	return nil
}

func (tx *Transmitter) sendData(fragment []byte) error {
	pck, err := common.NewData(tx.sequence, fragment)
	if err != nil {
		return err
	}

	tx.log.WithFields(log.Fields{
		"Sequence": pck.Sequence,
		"Length":   len(fragment),
	}).Debug("Sending DATA packet")

	if err := tx.conn.Send(pck.ToBytes()); err != nil {
		return fmt.Errorf("sending DATA packet %v: %w", pck.Sequence, err)
	}
	tx.sequence++
	return nil
}
