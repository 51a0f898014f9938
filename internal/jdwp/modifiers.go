package jdwp

import (
	"errors"
	"fmt"

	"github.com/danmuck/jdwpd/internal/protocol/wire"
)

// Modifier kinds for EventRequest.Set.
const (
	ModCount           uint8 = 1
	ModConditional     uint8 = 2
	ModThreadOnly      uint8 = 3
	ModClassOnly       uint8 = 4
	ModClassMatch      uint8 = 5
	ModClassExclude    uint8 = 6
	ModLocationOnly    uint8 = 7
	ModExceptionOnly   uint8 = 8
	ModFieldOnly       uint8 = 9
	ModStep            uint8 = 10
	ModInstanceOnly    uint8 = 11
	ModSourceNameMatch uint8 = 12
)

var ErrUnknownModifier = errors.New("jdwp: unknown event modifier")

// parseModifiers reads count modifiers and renders each one for the event
// registry. Locations are named through n when it is non-nil.
func parseModifiers(r *wire.Reader, count uint32, n Namer) ([]string, error) {
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		kind, err := r.U1()
		if err != nil {
			return nil, err
		}
		desc, err := parseModifier(r, kind, n)
		if err != nil {
			return nil, fmt.Errorf("modifier %d: %w", i, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

func parseModifier(r *wire.Reader, kind uint8, n Namer) (string, error) {
	switch kind {
	case ModCount:
		v, err := r.U4()
		return fmt.Sprintf("Count(%d)", v), err
	case ModConditional:
		v, err := r.U4()
		return fmt.Sprintf("Conditional(%d)", v), err
	case ModThreadOnly:
		id, err := r.ID()
		return fmt.Sprintf("ThreadOnly(%#x)", id), err
	case ModClassOnly:
		id, err := r.ID()
		return fmt.Sprintf("ClassOnly(%#x)", id), err
	case ModClassMatch:
		s, err := r.String()
		return fmt.Sprintf("ClassMatch(%q)", s), err
	case ModClassExclude:
		s, err := r.String()
		return fmt.Sprintf("ClassExclude(%q)", s), err
	case ModLocationOnly:
		loc, err := ReadLocation(r)
		return fmt.Sprintf("LocationOnly(%s)", loc.Format(n)), err
	case ModExceptionOnly:
		id, err := r.ID()
		if err != nil {
			return "", err
		}
		caught, err := r.Bool()
		if err != nil {
			return "", err
		}
		uncaught, err := r.Bool()
		return fmt.Sprintf("ExceptionOnly(%#x caught=%t uncaught=%t)", id, caught, uncaught), err
	case ModFieldOnly:
		class, err := r.ID()
		if err != nil {
			return "", err
		}
		field, err := r.ID()
		return fmt.Sprintf("FieldOnly(%#x.%#x)", class, field), err
	case ModStep:
		thread, err := r.ID()
		if err != nil {
			return "", err
		}
		size, err := r.U4()
		if err != nil {
			return "", err
		}
		depth, err := r.U4()
		return fmt.Sprintf("Step(%#x size=%d depth=%d)", thread, size, depth), err
	case ModInstanceOnly:
		id, err := r.ID()
		return fmt.Sprintf("InstanceOnly(%#x)", id), err
	case ModSourceNameMatch:
		s, err := r.String()
		return fmt.Sprintf("SourceNameMatch(%q)", s), err
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownModifier, kind)
	}
}
