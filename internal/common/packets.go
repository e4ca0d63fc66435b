package common

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncatedField       = errors.New("truncated field")
	ErrUnknownPacketKind    = errors.New("unknown packet kind")
	ErrUnexpectedKind       = errors.New("unexpected packet kind")
	ErrMalformedStartPacket = errors.New("malformed start packet")
	ErrTruncatedDataPacket  = errors.New("truncated data packet")
	ErrPayloadTooLarge      = errors.New("payload too large")
)

// Field is one tag-length-value attribute of a Start packet.
type Field struct {
	Tag   FieldTag
	Value []byte
}

func EncodeField(tag FieldTag, value []byte) []byte {
	arr := make([]byte, FieldTagSize+FieldLengthSize+len(value))
	arr[0] = byte(tag)
	binary.LittleEndian.PutUint64(arr[1:9], uint64(len(value)))
	copy(arr[9:], value)
	return arr
}

// DecodeField reads the field starting at cursor and returns it together with the
// cursor positioned right after it. Value aliases bytes.
func DecodeField(bytes []byte, cursor int) (Field, int, error) {
	if cursor < 0 || len(bytes)-cursor < FieldTagSize+FieldLengthSize {
		return Field{}, cursor, fmt.Errorf("%w: header needs %v bytes at offset %v, have %v",
			ErrTruncatedField, FieldTagSize+FieldLengthSize, cursor, len(bytes)-cursor)
	}

	tag := FieldTag(bytes[cursor])
	length := binary.LittleEndian.Uint64(bytes[cursor+1 : cursor+9])
	cursor += FieldTagSize + FieldLengthSize

	if length > uint64(len(bytes)-cursor) {
		return Field{}, cursor, fmt.Errorf("%w: value needs %v bytes, have %v",
			ErrTruncatedField, length, len(bytes)-cursor)
	}

	end := cursor + int(length)
	return Field{Tag: tag, Value: bytes[cursor:end]}, end, nil
}

func KindFromBytes(bytes []byte) (PacketKind, error) {
	if len(bytes) < KindSize {
		return 0, fmt.Errorf("%w: empty packet", ErrUnknownPacketKind)
	}
	kind := PacketKind(bytes[0])
	switch kind {
	case Data, Start, End:
		return kind, nil
	}
	return 0, fmt.Errorf("%w: %#x", ErrUnknownPacketKind, bytes[0])
}

type StartPacket struct {
	FileSize uint64
	FileName string
}

func NewStart(fileSize uint64, fileName string) *StartPacket {
	return &StartPacket{
		FileSize: fileSize,
		FileName: fileName,
	}
}

func (pck *StartPacket) ToBytes() []byte {
	size := make([]byte, 8)
	binary.LittleEndian.PutUint64(size, pck.FileSize)

	arr := []byte{byte(Start)}
	arr = append(arr, EncodeField(FileSize, size)...)
	arr = append(arr, EncodeField(FileName, []byte(pck.FileName))...)
	return arr
}

// StartFromBytes decodes a Start packet. Fields are positional: FileSize first,
// FileName second.
func StartFromBytes(bytes []byte) (*StartPacket, error) {
	if len(bytes) < KindSize || PacketKind(bytes[0]) != Start {
		return nil, fmt.Errorf("%w: not a start packet", ErrMalformedStartPacket)
	}

	sizeField, cursor, err := DecodeField(bytes, KindSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStartPacket, err)
	}
	if sizeField.Tag != FileSize {
		return nil, fmt.Errorf("%w: expected file size tag, got %v", ErrMalformedStartPacket, sizeField.Tag)
	}
	if len(sizeField.Value) != 8 {
		return nil, fmt.Errorf("%w: file size is %v bytes wide", ErrMalformedStartPacket, len(sizeField.Value))
	}

	nameField, _, err := DecodeField(bytes, cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStartPacket, err)
	}
	if nameField.Tag != FileName {
		return nil, fmt.Errorf("%w: expected file name tag, got %v", ErrMalformedStartPacket, nameField.Tag)
	}

	return &StartPacket{
		FileSize: binary.LittleEndian.Uint64(sizeField.Value),
		FileName: string(nameField.Value),
	}, nil
}

type DataPacket struct {
	Sequence uint8
	Data     []byte
}

func NewData(sequence uint8, data []byte) (*DataPacket, error) {
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %v bytes, max %v", ErrPayloadTooLarge, len(data), MaxPayloadSize)
	}
	return &DataPacket{
		Sequence: sequence,
		Data:     data,
	}, nil
}

func (pck *DataPacket) ToBytes() []byte {
	arr := make([]byte, KindSize+DataHeaderSize+len(pck.Data))
	arr[0] = byte(Data)
	arr[1] = pck.Sequence
	binary.BigEndian.PutUint16(arr[2:4], uint16(len(pck.Data)))
	copy(arr[4:], pck.Data)
	return arr
}

// DataFromBytes decodes a Data packet. The returned Data aliases bytes, so it is only
// valid until the buffer is reused.
func DataFromBytes(bytes []byte) (*DataPacket, error) {
	if len(bytes) < KindSize+DataHeaderSize {
		return nil, fmt.Errorf("%w: header needs %v bytes, have %v",
			ErrTruncatedDataPacket, KindSize+DataHeaderSize, len(bytes))
	}
	if PacketKind(bytes[0]) != Data {
		return nil, fmt.Errorf("%w: expected %v, got %v", ErrUnexpectedKind, Data, PacketKind(bytes[0]))
	}

	sequence := bytes[1]
	length := int(binary.BigEndian.Uint16(bytes[2:4]))
	payload := bytes[KindSize+DataHeaderSize:]
	if len(payload) < length {
		return nil, fmt.Errorf("%w: fragment needs %v bytes, have %v",
			ErrTruncatedDataPacket, length, len(payload))
	}

	return &DataPacket{
		Sequence: sequence,
		Data:     payload[:length],
	}, nil
}

func EndToBytes() []byte {
	return []byte{byte(End)}
}
