package jdwp

import (
	"fmt"

	"github.com/danmuck/jdwpd/internal/protocol/wire"
)

// Type tags.
const (
	TagClass     uint8 = 1
	TagInterface uint8 = 2
	TagArray     uint8 = 3
)

// Location is an executable position: a method in a class plus a code index.
type Location struct {
	TypeTag  uint8
	ClassID  uint64
	MethodID uint64
	Index    uint64
}

// Namer resolves ids to names; session.Facade satisfies it.
type Namer interface {
	ClassName(id uint64) string
	MethodName(id uint64) string
}

func (l Location) Equal(other Location) bool {
	return l == other
}

func (l Location) String() string {
	return fmt.Sprintf("%#x.%#x@%#x %s", l.ClassID, l.MethodID, l.Index, tagName(l.TypeTag))
}

// Format renders the location with class and method names.
func (l Location) Format(n Namer) string {
	if n == nil {
		return l.String()
	}
	return fmt.Sprintf("%s.%s@%#x %s", n.ClassName(l.ClassID), n.MethodName(l.MethodID), l.Index, tagName(l.TypeTag))
}

func (l Location) Write(w *wire.Writer) *wire.Writer {
	return w.U1(l.TypeTag).ID(l.ClassID).ID(l.MethodID).U8(l.Index)
}

func ReadLocation(r *wire.Reader) (Location, error) {
	var l Location
	var err error
	if l.TypeTag, err = r.U1(); err != nil {
		return Location{}, err
	}
	if l.ClassID, err = r.ID(); err != nil {
		return Location{}, err
	}
	if l.MethodID, err = r.ID(); err != nil {
		return Location{}, err
	}
	if l.Index, err = r.U8(); err != nil {
		return Location{}, err
	}
	return l, nil
}

func tagName(tag uint8) string {
	switch tag {
	case TagClass:
		return "class"
	case TagInterface:
		return "interface"
	case TagArray:
		return "array"
	default:
		return fmt.Sprintf("tag(%d)", tag)
	}
}
