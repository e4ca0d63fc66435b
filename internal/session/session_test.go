package session

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/Pablu23/Sertp/internal/common"
	"github.com/Pablu23/Sertp/internal/link"
	"github.com/Pablu23/Sertp/internal/receiver"
)

// closeCounter counts Close calls on the wrapped connection.
type closeCounter struct {
	link.Conn
	closes int
}

func (c *closeCounter) Close(abrupt bool) error {
	c.closes++
	return c.Conn.Close(abrupt)
}

func dialer(conn link.Conn) func(link.Params) (link.Conn, error) {
	return func(link.Params) (link.Conn, error) {
		return conn, nil
	}
}

type result struct {
	summary *common.Summary
	err     error
}

func runPair(t *testing.T, path string, outDir string, txOpt, rxOpt func(*Options)) (result, result) {
	t.Helper()

	tx, err := New(txOpt, func(o *Options) {
		o.Role = link.Transmitter
		o.FilePath = path
	})
	if err != nil {
		t.Fatal(err)
	}
	rx, err := New(rxOpt, func(o *Options) {
		o.Role = link.Receiver
		o.OutputDir = outDir
	})
	if err != nil {
		t.Fatal(err)
	}

	rxDone := make(chan result, 1)
	go func() {
		summary, err := rx.Run()
		rxDone <- result{summary, err}
	}()

	summary, err := tx.Run()
	return result{summary, err}, <-rxDone
}

func TestRoundTripOverLoopback(t *testing.T) {
	sizes := []int{0, 1, common.MaxPayloadSize - 1, common.MaxPayloadSize, common.MaxPayloadSize + 1, 2500, 7*common.MaxPayloadSize + 13}
	rnd := rand.New(rand.NewSource(1))

	for _, size := range sizes {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			content := make([]byte, size)
			rnd.Read(content)
			path := filepath.Join(t.TempDir(), "source.bin")
			if err := os.WriteFile(path, content, 0644); err != nil {
				t.Fatal(err)
			}
			outDir := t.TempDir()

			a, b := link.NewLoopback()
			var progress []receiver.Progress
			txRes, rxRes := runPair(t, path, outDir,
				func(o *Options) { o.Dial = dialer(a) },
				func(o *Options) {
					o.Dial = dialer(b)
					o.OnProgress = func(p receiver.Progress) { progress = append(progress, p) }
				})

			if txRes.err != nil || rxRes.err != nil {
				t.Fatalf("tx: %v, rx: %v", txRes.err, rxRes.err)
			}

			got, err := os.ReadFile(filepath.Join(outDir, "source.bin.recv"))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, content) {
				t.Fatal("received file differs from source")
			}
			if !cmp.Equal(txRes.summary.Digest, rxRes.summary.Digest) {
				t.Error("digests differ")
			}
			if rxRes.summary.Bytes != uint64(size) {
				t.Errorf("receiver wrote %v bytes", rxRes.summary.Bytes)
			}
			if size > 0 && progress[len(progress)-1].Percent != 100 {
				t.Errorf("final progress %v", progress[len(progress)-1].Percent)
			}
		})
	}
}

func TestRoundTripOverTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := "tcp://" + l.Addr().String()
	l.Close()

	content := bytes.Repeat([]byte{0x7e, 0x7d, 0x00, 0xff}, 1000)
	path := filepath.Join(t.TempDir(), "frames.bin")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	linkOpt := func(o *Options) {
		o.Port = port
		o.Retransmissions = 10
		o.Timeout = 200 * time.Millisecond
	}
	txRes, rxRes := runPair(t, path, outDir, linkOpt, linkOpt)

	if txRes.err != nil || rxRes.err != nil {
		t.Fatalf("tx: %v, rx: %v", txRes.err, rxRes.err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "frames.bin.recv"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("received file differs from source")
	}
}

func TestRunClosesLinkOnFailure(t *testing.T) {
	a, _ := link.NewLoopback()
	conn := &closeCounter{Conn: a}

	s, err := New(func(o *Options) {
		o.Role = link.Transmitter
		o.FilePath = filepath.Join(t.TempDir(), "missing")
		o.Dial = dialer(conn)
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Run()

	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
	if conn.closes != 1 {
		t.Errorf("link closed %v times, want 1", conn.closes)
	}
}

func TestRunReceiverClosesLinkOnTransmitterLoss(t *testing.T) {
	a, b := link.NewLoopback()
	conn := &closeCounter{Conn: b}
	if err := a.Send(common.NewStart(10, "lost").ToBytes()); err != nil {
		t.Fatal(err)
	}
	a.Close(true)

	s, err := New(func(o *Options) {
		o.OutputDir = t.TempDir()
		o.Dial = dialer(conn)
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Run()

	if !errors.Is(err, link.ErrReceiveFailed) {
		t.Errorf("err = %v, want link.ErrReceiveFailed", err)
	}
	if conn.closes != 1 {
		t.Errorf("link closed %v times, want 1", conn.closes)
	}
}

func TestRunLinkUnavailable(t *testing.T) {
	dialErr := errors.New("no such port")
	s, err := New(func(o *Options) {
		o.Dial = func(link.Params) (link.Conn, error) { return nil, dialErr }
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Run()

	if !errors.Is(err, ErrLinkUnavailable) || !errors.Is(err, dialErr) {
		t.Errorf("err = %v, want ErrLinkUnavailable", err)
	}
}

func TestRunPassesLinkParams(t *testing.T) {
	var got link.Params
	s, err := New(func(o *Options) {
		o.Port = "/dev/ttyS10"
		o.BaudRate = 38400
		o.Retransmissions = 5
		o.Timeout = 2 * time.Second
		o.Dial = func(p link.Params) (link.Conn, error) {
			got = p
			return nil, errors.New("stop")
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Run()

	if s.ID() == uuid.Nil {
		t.Error("session has no ID")
	}
	want := link.Params{Port: "/dev/ttyS10", BaudRate: 38400, Retransmissions: 5, Timeout: 2 * time.Second, Role: link.Receiver}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRequiresFileForTransmitter(t *testing.T) {
	_, err := New(func(o *Options) { o.Role = link.Transmitter })
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("err = %v, want ErrNoFile", err)
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole("rx"); err != nil || role != link.Receiver {
		t.Errorf("rx: %v, %v", role, err)
	}
	if role, err := ParseRole("tx"); err != nil || role != link.Transmitter {
		t.Errorf("tx: %v, %v", role, err)
	}
	if _, err := ParseRole("both"); err == nil {
		t.Error("accepted invalid role")
	}
}
