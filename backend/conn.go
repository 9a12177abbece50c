// Package backend implements the per-backend-connection response state
// machine (spec.md §4.3): on each arriving packet, it peeks the header byte
// and drives the connection through HANDSHAKING -> AUTHENTICATING ->
// COMMAND, feeding a resultset.Result and resolving a registry.Future at
// each logical response boundary. All reads for one connection happen on a
// single goroutine (Run), so neither this type nor the resultset.Result it
// owns needs internal locking (spec.md §5).
package backend

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/mevdschee/shardexec/fanerr"
	"github.com/mevdschee/shardexec/registry"
	"github.com/mevdschee/shardexec/resultset"
	"github.com/mevdschee/shardexec/wire"
)

// Phase is the per-connection protocol phase (spec.md §3's ConnectionPhase).
type Phase int32

const (
	Handshaking Phase = iota
	Authenticating
	Command
)

func (p Phase) String() string {
	switch p {
	case Handshaking:
		return "HANDSHAKING"
	case Authenticating:
		return "AUTHENTICATING"
	case Command:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Conn drives the response state machine for one physical backend
// connection. It is not safe for concurrent Run + write from multiple
// goroutines other than through SendCommand, which serializes writes.
type Conn struct {
	rw       io.ReadWriter
	channel  any
	channels *registry.ChannelRegistry
	futures  *registry.FutureRegistry

	username string
	password []byte
	database string

	phase  atomic.Int32 // Phase, read by callers wanting to know connection state
	connID registry.ConnectionID
	seq    byte

	// expectedSeq is the sequence id the next incoming packet must carry
	// (spec.md §4.1/§4.3.2: a sequence-id mismatch is a fatal protocol
	// error). It starts at its zero value, matching the handshake
	// packet's mandatory seq 0, and is otherwise advanced by handlePacket
	// and reset by handleHandshake/SendCommand at each new exchange's
	// first packet. SendCommand runs on the caller's goroutine while
	// handlePacket runs on Run's, so it's an atomic rather than a plain
	// byte.
	expectedSeq atomic.Uint32

	assembler *resultset.Result

	// authFuture is the future resolved by the handshake's own OK/ERR
	// response; pre-registered internally since the handshake isn't
	// preceded by an explicit caller SendCommand.
	authFuture *registry.Future

	closeOnce func(error)
}

// NewConn wraps rw (typically a net.Conn) as a backend connection. channel
// is any comparable identity the caller uses to key the ChannelRegistry
// (commonly the net.Conn itself). onFatal, if non-nil, is invoked once with
// the error that ended Run (spec.md §4.3.2: fatal errors close the
// connection).
func NewConn(rw io.ReadWriter, channel any, channels *registry.ChannelRegistry, futures *registry.FutureRegistry, username string, password []byte, database string, onFatal func(error)) *Conn {
	c := &Conn{
		rw:         rw,
		channel:    channel,
		channels:   channels,
		futures:    futures,
		username:   username,
		password:   password,
		database:   database,
		authFuture: registry.NewFuture(),
		closeOnce:  onFatal,
	}
	c.phase.Store(int32(Handshaking))
	return c
}

// Phase returns the connection's current phase.
func (c *Conn) Phase() Phase {
	return Phase(c.phase.Load())
}

// ConnectionID returns the backend-assigned connection id, valid once the
// handshake has completed (Phase() != Handshaking).
func (c *Conn) ConnectionID() registry.ConnectionID {
	return c.connID
}

// AuthFuture returns the future that resolves once the backend's
// post-handshake OK/ERR packet arrives.
func (c *Conn) AuthFuture() *registry.Future {
	return c.authFuture
}

// Run reads packets from the connection until a fatal error or EOF. It is
// event-driven and never blocks waiting for a caller; the only blocking
// call in this package is registry.Future.Await, made by callers, not by
// Run itself (spec.md §5).
func (c *Conn) Run() error {
	for {
		payload, seq, err := wire.ReadPacket(c.rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			fatal := &fanerr.ProtocolError{Op: "read frame", Err: err}
			c.failCurrent(fatal)
			c.fatal(fatal)
			return fatal
		}
		if err := c.handlePacket(payload, seq); err != nil {
			c.failCurrent(err)
			c.fatal(err)
			return err
		}
	}
}

func (c *Conn) fatal(err error) {
	if c.closeOnce != nil {
		c.closeOnce(err)
	}
}

// failCurrent resolves whatever future is outstanding for this connection
// with a connection-level error, per spec.md §4.3.2.
func (c *Conn) failCurrent(err error) {
	if c.Phase() == Handshaking || c.Phase() == Authenticating {
		c.authFuture.Fail(err)
		return
	}
	if fut, ok := c.futures.Take(c.connID); ok {
		fut.Fail(err)
	} else {
		log.Printf("[backend] fatal error with no waiting future (connection %d): %v", c.connID, err)
	}
}

func (c *Conn) handlePacket(payload []byte, seq byte) error {
	// Handshaking's own sequence byte is whatever the backend's initial
	// Handshake v10 packet carries (conventionally 0); it seeds
	// expectedSeq (in handleHandshake) rather than being checked
	// against it.
	if c.Phase() != Handshaking {
		if want := byte(c.expectedSeq.Load()); seq != want {
			return &fanerr.ProtocolError{Op: "sequence", Err: fmt.Errorf("got sequence id %d, want %d", seq, want)}
		}
		c.expectedSeq.Store(uint32(seq + 1))
	}

	switch c.Phase() {
	case Handshaking:
		return c.handleHandshake(payload, seq)
	case Authenticating:
		return c.handleAuthenticating(payload)
	case Command:
		return c.handleCommand(payload)
	default:
		return fmt.Errorf("backend: unknown phase %v", c.Phase())
	}
}

func (c *Conn) handleHandshake(payload []byte, seq byte) error {
	hp, err := decodeHandshake(payload)
	if err != nil {
		return &fanerr.ProtocolError{Op: "decode handshake", Err: err}
	}

	authResponse, err := computeAuthResponse(c.password, hp.Salt)
	if err != nil {
		return err // already a *fanerr.CryptoError
	}

	caps := uint32(DefaultCapabilities)
	if c.database != "" {
		caps |= ClientConnectWithDB
	}
	respPayload := encodeHandshakeResponse(HandshakeResponse{
		Capabilities: caps,
		MaxPacketLen: ServerInfo.MAX_PACKET_LEN,
		Charset:      ServerInfo.CHARSET,
		Username:     c.username,
		AuthResponse: authResponse,
		Database:     c.database,
	})

	c.connID = registry.ConnectionID(hp.ConnectionID)
	if c.channels != nil {
		c.channels.Set(c.channel, c.connID)
	}
	if err := c.futures.Put(c.connID, c.authFuture); err != nil {
		return &fanerr.ProtocolError{Op: "register auth future", Err: err}
	}

	if err := wire.WritePacket(c.rw, respPayload, seq+1); err != nil {
		return &fanerr.ProtocolError{Op: "write handshake response", Err: err}
	}
	c.seq = seq + 1
	c.expectedSeq.Store(uint32(seq + 2))
	c.phase.Store(int32(Authenticating))
	return nil
}

func (c *Conn) handleAuthenticating(payload []byte) error {
	if len(payload) == 0 {
		return &fanerr.ProtocolError{Op: "authenticating", Err: fmt.Errorf("empty packet")}
	}
	switch payload[0] {
	case headerOK:
		generic, err := decodeGeneric(payload)
		if err != nil {
			return &fanerr.ProtocolError{Op: "decode auth OK", Err: err}
		}
		result := resultset.New()
		if err := result.FeedGeneric(generic); err != nil {
			return &fanerr.ProtocolError{Op: "feed auth OK", Err: err}
		}
		if fut, ok := c.futures.Take(c.connID); ok {
			fut.Complete(result)
		}
		c.phase.Store(int32(Command))
		return nil
	case headerERR:
		generic, err := decodeGeneric(payload)
		if err != nil {
			return &fanerr.ProtocolError{Op: "decode auth ERR", Err: err}
		}
		authErr := &fanerr.AuthError{Code: generic.ErrorCode, Message: generic.ErrorMessage}
		if fut, ok := c.futures.Take(c.connID); ok {
			fut.Fail(authErr)
		}
		return authErr
	default:
		return &fanerr.ProtocolError{Op: "authenticating", Err: fmt.Errorf("unexpected header 0x%02x", payload[0])}
	}
}

func (c *Conn) handleCommand(payload []byte) error {
	if len(payload) == 0 {
		return &fanerr.ProtocolError{Op: "command", Err: fmt.Errorf("empty packet")}
	}
	header := payload[0]

	if c.assembler == nil {
		switch header {
		case headerERR:
			return c.completeGenericAndClear(payload)
		case headerOK:
			return c.completeGenericAndClear(payload)
		default:
			n, isNull, err := wire.NewReader(payload).LengthEncodedInt()
			if err != nil || isNull {
				return &fanerr.ProtocolError{Op: "decode column count", Err: fmt.Errorf("malformed column-count header")}
			}
			c.assembler = resultset.New()
			if err := c.assembler.FeedColumnCount(int(n)); err != nil {
				return &fanerr.ProtocolError{Op: "feed column count", Err: err}
			}
			return nil
		}
	}

	switch {
	case header == headerEOF && c.assembler.Phase() == resultset.Columns:
		if err := c.assembler.FeedColumnsEOF(); err != nil {
			return &fanerr.ProtocolError{Op: "feed columns EOF", Err: err}
		}
		if fut, ok := c.futures.Peek(c.connID); ok {
			fut.Complete(c.assembler)
		}
		return nil
	case header == headerEOF && c.assembler.Phase() == resultset.Rows:
		if err := c.assembler.FeedRowsEOF(); err != nil {
			return &fanerr.ProtocolError{Op: "feed rows EOF", Err: err}
		}
		c.futures.Take(c.connID)
		c.assembler = nil
		return nil
	case c.assembler.NeedColumnDefinition():
		def, err := decodeColumnDefinition(payload)
		if err != nil {
			return &fanerr.ProtocolError{Op: "decode column definition", Err: err}
		}
		if err := c.assembler.FeedColumnDefinition(def); err != nil {
			return &fanerr.ProtocolError{Op: "feed column definition", Err: err}
		}
		return nil
	default:
		row, err := decodeRow(payload, c.assembler.ColumnCount())
		if err != nil {
			return &fanerr.ProtocolError{Op: "decode row", Err: err}
		}
		if err := c.assembler.FeedRow(row); err != nil {
			return &fanerr.ProtocolError{Op: "feed row", Err: err}
		}
		return nil
	}
}

func (c *Conn) completeGenericAndClear(payload []byte) error {
	generic, err := decodeGeneric(payload)
	if err != nil {
		return &fanerr.ProtocolError{Op: "decode generic", Err: err}
	}
	result := resultset.New()
	if err := result.FeedGeneric(generic); err != nil {
		return &fanerr.ProtocolError{Op: "feed generic", Err: err}
	}
	if fut, ok := c.futures.Take(c.connID); ok {
		fut.Complete(result)
	}
	c.assembler = nil
	return nil
}

// SendCommand writes a COM_QUERY packet (command byte 0x03 followed by the
// SQL text) and registers a future for the response before flushing, per
// spec.md §4.4. The caller awaits the returned future.
func (c *Conn) SendCommand(query string) (*registry.Future, error) {
	if c.Phase() != Command {
		return nil, fmt.Errorf("backend: SendCommand called in phase %v, want %v", c.Phase(), Command)
	}
	fut := registry.NewFuture()
	if err := c.futures.Put(c.connID, fut); err != nil {
		return nil, &fanerr.ExecutionError{Op: "SendCommand", Err: err}
	}

	payload := append([]byte{comQuery}, query...)
	c.seq = 0
	if err := wire.WritePacket(c.rw, payload, c.seq); err != nil {
		c.futures.Take(c.connID)
		return nil, &fanerr.ProtocolError{Op: "write command", Err: err}
	}
	c.expectedSeq.Store(1)
	return fut, nil
}

const comQuery = 0x03

// Ping sends a trivial command and waits for its response, satisfying
// config.Pinger so a Conn can be health-checked at startup the same way
// any other statement unit is executed. It respects ctx cancellation
// while waiting, even though the underlying Future itself has no
// context awareness.
func (c *Conn) Ping(ctx context.Context) error {
	fut, err := c.SendCommand("SELECT 1")
	if err != nil {
		return &fanerr.ExecutionError{Op: "ping", Err: err}
	}

	type outcome struct {
		result *resultset.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fut.Await()
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		if g := out.result.Generic(); g != nil && g.IsError {
			return &fanerr.SqlError{Code: g.ErrorCode, Message: g.ErrorMessage}
		}
		return nil
	}
}
