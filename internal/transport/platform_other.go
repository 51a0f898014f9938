//go:build !unix

package transport

import (
	"fmt"
	"net"
)

func receiveConn(control *net.UnixConn) (net.Conn, error) {
	return nil, fmt.Errorf("%w: descriptor passing", ErrUnsupported)
}
