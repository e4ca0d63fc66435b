package common

import "encoding/hex"

// Summary describes one finished transfer as seen by one endpoint.
type Summary struct {
	FileName string
	FileSize uint64
	Bytes    uint64
	Packets  int
	Digest   []byte
}

func (s *Summary) DigestString() string {
	return hex.EncodeToString(s.Digest)
}
