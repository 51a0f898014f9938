package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTunnel reaches a client-mode debugger address through an SSH jump host.
// Connections dialed through the tunnel do not support read deadlines, so
// Wake relies on Shutdown closing them.
type SSHTunnel struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (t SSHTunnel) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return ErrTunnelHostRequired
	}
	if strings.TrimSpace(t.User) == "" {
		return ErrTunnelUserRequired
	}
	if strings.TrimSpace(t.KeyPath) == "" {
		return ErrTunnelKeyRequired
	}
	return nil
}

// DialContext opens addr on the far side of the jump host. Closing the
// returned conn also closes the SSH client.
func (t SSHTunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.Dial(network, addr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: tunnel dial %s: %w", addr, err)
	}
	return &tunnelConn{Conn: conn, client: client}, nil
}

func (t SSHTunnel) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := t.address()
	if err != nil {
		return nil, err
	}

	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (t SSHTunnel) address() (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", ErrTunnelHostRequired
	}

	if t.Port != "" {
		return net.JoinHostPort(host, t.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (t SSHTunnel) clientConfig() (*ssh.ClientConfig, error) {
	if t.User == "" {
		return nil, ErrTunnelUserRequired
	}

	signer, err := t.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if t.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := t.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.Timeout,
	}, nil
}

func (t SSHTunnel) signer() (ssh.Signer, error) {
	if t.KeyPath == "" {
		return nil, ErrTunnelKeyRequired
	}

	privateKey, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(t.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, t.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (t SSHTunnel) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(t.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("transport: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

type tunnelConn struct {
	net.Conn
	client *ssh.Client
}

func (c *tunnelConn) Close() error {
	err := c.Conn.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
