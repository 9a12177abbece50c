package backend

import (
	"crypto/sha1"
	"net"
	"testing"

	"github.com/mevdschee/shardexec/registry"
	"github.com/mevdschee/shardexec/wire"
)

// buildHandshakePacket builds a minimal Handshake v10 payload with the
// given 20-byte salt and connection id, enough fields for decodeHandshake.
func buildHandshakePacket(t *testing.T, connID uint32, salt []byte) []byte {
	t.Helper()
	if len(salt) != 20 {
		t.Fatalf("salt must be 20 bytes, got %d", len(salt))
	}
	w := wire.NewWriter()
	w.Byte(10) // protocol version
	w.NullTerminatedString("5.7.0-test")
	w.FixedInt(uint64(connID), 4)
	w.Bytes(salt[:8])
	w.Byte(0) // filler
	caps := uint32(DefaultCapabilities)
	w.FixedInt(uint64(caps&0xffff), 2)
	w.Byte(33) // charset
	w.FixedInt(2, 2)
	w.FixedInt(uint64(caps>>16), 2)
	w.Byte(21) // auth plugin data length
	w.Bytes(make([]byte, 10))
	rest := append(append([]byte{}, salt[8:]...), 0)
	w.Bytes(rest)
	w.NullTerminatedString("mysql_native_password")
	return w.Payload()
}

func buildOKPacket(affected, lastID uint64) []byte {
	w := wire.NewWriter()
	w.Byte(headerOK)
	w.LengthEncodedInt(affected)
	w.LengthEncodedInt(lastID)
	w.FixedInt(2, 2) // status flags
	w.FixedInt(0, 2) // warnings
	return w.Payload()
}

func buildErrPacket(code uint16, message string) []byte {
	w := wire.NewWriter()
	w.Byte(headerERR)
	w.FixedInt(uint64(code), 2)
	w.Byte('#')
	w.Bytes([]byte("HY000"))
	w.Bytes([]byte(message))
	return w.Payload()
}

func buildColumnCountPacket(n uint64) []byte {
	return wire.NewWriter().LengthEncodedInt(n).Payload()
}

func buildColumnDefPacket(name string, colType byte) []byte {
	w := wire.NewWriter()
	w.LengthEncodedString([]byte("def"))
	w.LengthEncodedString(nil)
	w.LengthEncodedString(nil)
	w.LengthEncodedString(nil)
	w.LengthEncodedString([]byte(name))
	w.LengthEncodedString(nil)
	w.LengthEncodedInt(0x0c)
	w.FixedInt(33, 2)
	w.FixedInt(0xffffffff, 4)
	w.Byte(colType)
	w.FixedInt(0, 2)
	w.Byte(0)
	w.FixedInt(0, 2)
	return w.Payload()
}

func buildEOFPacket() []byte {
	w := wire.NewWriter()
	w.Byte(headerEOF)
	w.FixedInt(0, 2)
	w.FixedInt(2, 2)
	return w.Payload()
}

func buildRowPacket(fields ...string) []byte {
	w := wire.NewWriter()
	for _, f := range fields {
		w.LengthEncodedString([]byte(f))
	}
	return w.Payload()
}

// pipeHarness wires a Conn to one end of a net.Pipe, with the other end
// driven by the test as a fake backend server.
type pipeHarness struct {
	t        *testing.T
	client   net.Conn
	server   net.Conn
	conn     *Conn
	channels *registry.ChannelRegistry
	futures  *registry.FutureRegistry
	fatalErr chan error
}

func newPipeHarness(t *testing.T, username, password, database string) *pipeHarness {
	t.Helper()
	server, client := net.Pipe()
	h := &pipeHarness{
		t:        t,
		client:   client,
		server:   server,
		channels: registry.NewChannelRegistry(),
		futures:  registry.NewFutureRegistry(),
		fatalErr: make(chan error, 1),
	}
	h.conn = NewConn(client, client, h.channels, h.futures, username, []byte(password), database, func(err error) {
		select {
		case h.fatalErr <- err:
		default:
		}
	})
	go h.conn.Run()
	t.Cleanup(func() {
		h.client.Close()
		h.server.Close()
	})
	return h
}

// writeServerPacket writes a packet from the fake backend side.
func (h *pipeHarness) writeServerPacket(payload []byte, seq byte) {
	h.t.Helper()
	if err := wire.WritePacket(h.server, payload, seq); err != nil {
		h.t.Fatalf("write server packet: %v", err)
	}
}

// readServerPacket reads a packet the Conn wrote, from the fake backend side.
func (h *pipeHarness) readServerPacket() ([]byte, byte) {
	h.t.Helper()
	payload, seq, err := wire.ReadPacket(h.server)
	if err != nil {
		h.t.Fatalf("read server packet: %v", err)
	}
	return payload, seq
}

// sendCommand calls conn.SendCommand while the fake backend side reads the
// COM_QUERY packet it writes: net.Pipe is unbuffered, so the write only
// completes once that read is under way.
func (h *pipeHarness) sendCommand(query string) (*registry.Future, error) {
	h.t.Helper()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := wire.ReadPacket(h.server)
		readErr <- err
	}()
	fut, err := h.conn.SendCommand(query)
	if err != nil {
		return nil, err
	}
	if err := <-readErr; err != nil {
		h.t.Fatalf("read server packet: %v", err)
	}
	return fut, nil
}

func zeroSalt() []byte {
	return make([]byte, 20)
}

func nativePasswordHash(password string, salt []byte) []byte {
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])
	combined := append(append([]byte{}, salt...), stage2[:]...)
	scramble := sha1.Sum(combined)
	out := make([]byte, len(stage1))
	for i := range stage1 {
		out[i] = stage1[i] ^ scramble[i]
	}
	return out
}
