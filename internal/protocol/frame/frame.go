package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HandshakeMagic is exchanged once, verbatim, before any framed packet.
const HandshakeMagic = "JDWP-Handshake"

const (
	HandshakeLen = len(HandshakeMagic)

	// HeaderLen is length(4) + id(4) + flags(1) + command set/command or error code(2).
	HeaderLen = 11

	// LengthPrefixLen is the size of the big-endian total-length field.
	LengthPrefixLen = 4

	FlagReply uint8 = 0x80
)

var (
	ErrShortHeader    = errors.New("frame: short packet header")
	ErrLengthTooSmall = errors.New("frame: length smaller than packet header")
	ErrPacketTooLarge = errors.New("frame: packet too large")
	ErrBadHandshake   = errors.New("frame: bad handshake")
)

// Header is the fixed JDWP packet header. Command packets carry CommandSet/Command,
// reply packets (FlagReply set) carry ErrorCode in the same two bytes.
type Header struct {
	Length     uint32
	ID         uint32
	Flags      uint8
	CommandSet uint8
	Command    uint8
	ErrorCode  uint16
}

func (h Header) IsReply() bool {
	return h.Flags&FlagReply != 0
}

// Packet is one complete wire packet.
type Packet struct {
	Header Header
	Data   []byte
}

// Limits constrains packet decode memory use.
type Limits struct {
	MaxPacketBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPacketBytes: 8192,
	}
}

// NewCommand builds a command packet with the length field filled in.
func NewCommand(id uint32, commandSet, command uint8, data []byte) Packet {
	return Packet{
		Header: Header{
			Length:     uint32(HeaderLen + len(data)),
			ID:         id,
			CommandSet: commandSet,
			Command:    command,
		},
		Data: data,
	}
}

// NewReply builds a reply packet for the command with the given id.
func NewReply(id uint32, errorCode uint16, data []byte) Packet {
	return Packet{
		Header: Header{
			Length:    uint32(HeaderLen + len(data)),
			ID:        id,
			Flags:     FlagReply,
			ErrorCode: errorCode,
		},
		Data: data,
	}
}

// Encode returns the packet as one contiguous buffer. The length field is
// recomputed from the data.
func (p Packet) Encode() []byte {
	h := p.Header
	h.Length = uint32(HeaderLen + len(p.Data))
	buf := make([]byte, HeaderLen, int(h.Length))
	PutHeader(buf, h)
	return append(buf, p.Data...)
}

// PutHeader writes h into the first HeaderLen bytes of dst.
func PutHeader(dst []byte, h Header) {
	binary.BigEndian.PutUint32(dst[0:4], h.Length)
	binary.BigEndian.PutUint32(dst[4:8], h.ID)
	dst[8] = h.Flags
	if h.Flags&FlagReply != 0 {
		binary.BigEndian.PutUint16(dst[9:11], h.ErrorCode)
		return
	}
	dst[9] = h.CommandSet
	dst[10] = h.Command
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	h := Header{
		Length: binary.BigEndian.Uint32(b[0:4]),
		ID:     binary.BigEndian.Uint32(b[4:8]),
		Flags:  b[8],
	}
	if h.Length < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrLengthTooSmall, h.Length)
	}
	if h.IsReply() {
		h.ErrorCode = binary.BigEndian.Uint16(b[9:11])
	} else {
		h.CommandSet = b[9]
		h.Command = b[10]
	}
	return h, nil
}

// PacketLength reads the total-length prefix. ok is false when fewer than
// LengthPrefixLen bytes are available.
func PacketLength(b []byte) (length uint32, ok bool) {
	if len(b) < LengthPrefixLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[:LengthPrefixLen]), true
}

// HaveFullPacket reports whether b holds a complete unit: the handshake magic
// while awaitingHandshake, otherwise one complete length-prefixed packet.
func HaveFullPacket(b []byte, awaitingHandshake bool) bool {
	if awaitingHandshake {
		return len(b) >= HandshakeLen
	}
	length, ok := PacketLength(b)
	if !ok {
		return false
	}
	return uint64(len(b)) >= uint64(length)
}

// CheckHandshake verifies that b starts with the handshake magic.
func CheckHandshake(b []byte) error {
	if len(b) < HandshakeLen || string(b[:HandshakeLen]) != HandshakeMagic {
		return ErrBadHandshake
	}
	return nil
}

func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Packet{}, err
	}
	if limits.MaxPacketBytes > 0 && h.Length > limits.MaxPacketBytes {
		return Packet{}, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, h.Length, limits.MaxPacketBytes)
	}

	data := make([]byte, h.Length-HeaderLen)
	if len(data) > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Packet{}, err
		}
	}
	return Packet{Header: h, Data: data}, nil
}

func WritePacket(w io.Writer, p Packet) error {
	_, err := w.Write(p.Encode())
	return err
}

// ReadHandshake reads and verifies the handshake magic from r.
func ReadHandshake(r io.Reader) error {
	var buf [HandshakeLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	return CheckHandshake(buf[:])
}

func WriteHandshake(w io.Writer) error {
	_, err := io.WriteString(w, HandshakeMagic)
	return err
}
