// Package options parses the debugger agent option string
// (transport=dt_socket,server=y,suspend=n,address=8000).
package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrHelpRequested         = errors.New("options: help requested")
	ErrMalformedPair         = errors.New("options: malformed key=value pair")
	ErrUnsupportedTransport  = errors.New("options: transport not supported")
	ErrInvalidBool           = errors.New("options: value must be 'y' or 'n'")
	ErrMissingPort           = errors.New("options: address missing port")
	ErrInvalidPort           = errors.New("options: address has junk in port field")
	ErrMissingTransport      = errors.New("options: must specify transport")
	ErrClientAddressRequired = errors.New("options: must specify host and port when server=n")
)

// Transport selects the transport variant.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportSocket
	TransportPlatform
)

const (
	NameSocket   = "dt_socket"
	NamePlatform = "dt_android_adb"
)

// platformNames are the accepted names for the platform (adb-style) transport.
var platformNames = map[string]struct{}{
	NamePlatform: {},
	"dt_adb":     {},
}

func (t Transport) String() string {
	switch t {
	case TransportSocket:
		return NameSocket
	case TransportPlatform:
		return NamePlatform
	default:
		return "unknown"
	}
}

// Options is the parsed agent configuration. It is immutable once a session
// has been created from it.
type Options struct {
	Transport Transport
	Server    bool
	Suspend   bool
	Host      string
	Port      uint16
}

// Usage lists example option strings.
const Usage = `Example: transport=dt_socket,address=8000,server=y
Example: transport=dt_socket,address=localhost:6500,server=n
Example: transport=dt_android_adb,server=y,suspend=y`

// Parse turns a comma-separated key=value option string into Options.
// Unrecognized keys are ignored.
func Parse(raw string) (Options, error) {
	log.Debug().Str("options", raw).Msg("options.Parse")

	if raw == "help" {
		log.Error().Msg(Usage)
		return Options{}, ErrHelpRequested
	}

	var opts Options
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			log.Error().Str("pair", pair).Str("options", raw).Msg("cannot parse option")
			return Options{}, fmt.Errorf("%w: %q in %q", ErrMalformedPair, pair, raw)
		}
		if err := opts.apply(name, value); err != nil {
			log.Error().Err(err).Str("options", raw).Msg("invalid option")
			return Options{}, err
		}
	}

	if opts.Transport == TransportUnknown {
		log.Error().Str("options", raw).Msg("must specify transport")
		return Options{}, fmt.Errorf("%w: %q", ErrMissingTransport, raw)
	}
	if !opts.Server && (opts.Host == "" || opts.Port == 0) {
		log.Error().Str("options", raw).Msg("must specify host and port when server=n")
		return Options{}, fmt.Errorf("%w: %q", ErrClientAddressRequired, raw)
	}
	return opts, nil
}

func (o *Options) apply(name, value string) error {
	switch name {
	case "transport":
		if value == NameSocket {
			o.Transport = TransportSocket
			return nil
		}
		if _, ok := platformNames[value]; ok {
			o.Transport = TransportPlatform
			return nil
		}
		o.Transport = TransportUnknown
		return fmt.Errorf("%w: %q", ErrUnsupportedTransport, value)
	case "server":
		v, err := parseYN(name, value)
		if err != nil {
			return err
		}
		o.Server = v
	case "suspend":
		v, err := parseYN(name, value)
		if err != nil {
			return err
		}
		o.Suspend = v
	case "address":
		host, port, err := parseAddress(value)
		if err != nil {
			return err
		}
		o.Host = host
		o.Port = port
	case "launch", "onthrow", "oncaught", "timeout":
		log.Info().Str("name", name).Str("value", value).Msg("ignoring unsupported option")
	default:
		log.Info().Str("name", name).Str("value", value).Msg("ignoring unrecognized option")
	}
	return nil
}

func parseYN(name, value string) (bool, error) {
	switch value {
	case "y":
		return true, nil
	case "n":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidBool, name, value)
	}
}

// parseAddress accepts <port> or <host>:<port>.
func parseAddress(value string) (string, uint16, error) {
	host := ""
	portString := value
	if i := strings.IndexByte(value, ':'); i >= 0 {
		host = value[:i]
		portString = value[i+1:]
	}
	if portString == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrMissingPort, value)
	}
	port, err := strconv.ParseUint(portString, 10, 64)
	if err != nil || port > 0xffff {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPort, value)
	}
	return host, uint16(port), nil
}

// Address returns host:port for dialing or listening.
func (o Options) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// String renders o in the canonical option-string form accepted by Parse.
func (o Options) String() string {
	parts := []string{
		"transport=" + o.Transport.String(),
		"server=" + yn(o.Server),
		"suspend=" + yn(o.Suspend),
	}
	if o.Host != "" {
		parts = append(parts, fmt.Sprintf("address=%s:%d", o.Host, o.Port))
	} else {
		parts = append(parts, fmt.Sprintf("address=%d", o.Port))
	}
	return strings.Join(parts, ",")
}

// Equal reports whether o and other configure the same session. jdwpctl uses
// it to check that String output parses back to the options it came from.
func (o Options) Equal(other Options) bool {
	return o == other
}

func yn(v bool) string {
	if v {
		return "y"
	}
	return "n"
}
