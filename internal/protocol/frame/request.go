package frame

import "fmt"

// Request is a parsed view over one complete command packet held in a
// receive buffer. Payload aliases the buffer and is only valid until the
// packet bytes are consumed.
type Request struct {
	Header  Header
	Payload []byte
}

// ParseRequest parses exactly one complete framed packet from the start of b.
func ParseRequest(b []byte) (Request, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Request{}, err
	}
	if uint64(len(b)) < uint64(h.Length) {
		return Request{}, fmt.Errorf("%w: have %d of %d bytes", ErrShortHeader, len(b), h.Length)
	}
	return Request{Header: h, Payload: b[HeaderLen:h.Length]}, nil
}

func (r Request) ID() uint32 {
	return r.Header.ID
}

func (r Request) CommandSet() uint8 {
	return r.Header.CommandSet
}

func (r Request) Command() uint8 {
	return r.Header.Command
}

// Length is the total packet length, including the header.
func (r Request) Length() int {
	return int(r.Header.Length)
}

func (r Request) String() string {
	return fmt.Sprintf("id=%#x cmd=%d/%d len=%d", r.Header.ID, r.Header.CommandSet, r.Header.Command, r.Header.Length)
}
