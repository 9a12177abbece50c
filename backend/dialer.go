package backend

import (
	"fmt"
	"net"
	"time"

	"github.com/mevdschee/shardexec/registry"
)

// Dialer opens backend connections and drives them through the handshake,
// returning a Conn sitting in Command phase with its read loop already
// running. This supplements spec.md, which assumes a StatementUnit's
// connection handle is externally supplied; SPEC_FULL.md §4.7 names this
// as the concrete "how" for that assumption.
type Dialer struct {
	Channels *registry.ChannelRegistry
	Futures  *registry.FutureRegistry

	// DialTimeout bounds the initial TCP dial; zero means no timeout.
	DialTimeout time.Duration
}

// NewDialer returns a Dialer backed by fresh registries, suitable for a
// single data source.
func NewDialer() *Dialer {
	return &Dialer{
		Channels: registry.NewChannelRegistry(),
		Futures:  registry.NewFutureRegistry(),
	}
}

// Dial connects to addr, completes the MySQL handshake as username/password
// against database, and returns a Conn ready for SendCommand. onFatal is
// passed through to the underlying Conn (see NewConn).
func (d *Dialer) Dial(addr, username, password, database string, onFatal func(error)) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, d.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", addr, err)
	}

	conn := NewConn(nc, nc, d.Channels, d.Futures, username, []byte(password), database, func(err error) {
		nc.Close()
		if onFatal != nil {
			onFatal(err)
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run() }()

	result, err := conn.AuthFuture().Await()
	if err != nil {
		return nil, err
	}
	if result.Generic() != nil && result.Generic().IsError {
		g := result.Generic()
		return nil, fmt.Errorf("backend: auth rejected: %d %s", g.ErrorCode, g.ErrorMessage)
	}

	// Drain the read-loop's terminal error asynchronously so a later
	// disconnect doesn't block anyone; callers observe failures through
	// onFatal and through SendCommand's own future failing.
	go func() { <-runErr }()

	return conn, nil
}
