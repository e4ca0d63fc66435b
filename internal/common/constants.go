package common

// PacketSize is the largest packet the link carries in one frame.
const PacketSize = 1000

const (
	KindSize       int = 1
	DataHeaderSize int = 1 + 2 // sequence number + fragment length
)

const MaxPayloadSize = PacketSize - DataHeaderSize - KindSize

type PacketKind uint8

const (
	Data  PacketKind = 1
	Start PacketKind = 2
	End   PacketKind = 3
)

func (kind PacketKind) String() string {
	switch kind {
	case Data:
		return "DATA"
	case Start:
		return "START"
	case End:
		return "END"
	default:
		return "UNKNOWN"
	}
}

type FieldTag uint8

const (
	FileSize FieldTag = 0
	FileName FieldTag = 1
)

const (
	FieldTagSize    int = 1
	FieldLengthSize int = 8
)
