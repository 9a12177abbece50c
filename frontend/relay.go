// Package frontend is a thin demonstration of the client-facing
// direction spec.md leaves unspecified (§1/§6 non-goal: "the full
// client-facing wire protocol is out of scope"). Relay performs just
// enough of a v10 handshake to look like a real MySQL server to a
// client, then hands the connection off verbatim to a chosen backend
// net.Conn, reusing wire.Writer the way the backend package uses it to
// write outbound frames.
package frontend

import (
	"crypto/rand"
	"io"
	"log"
	"net"
	"sync"

	"github.com/mevdschee/shardexec/backend"
	"github.com/mevdschee/shardexec/wire"
)

// Relay accepts client connections on Listen and pairs each with a
// backend connection chosen by Route.
type Relay struct {
	Listen string

	// Route selects, per accepted connection, which backend net.Conn to
	// relay packets to. Once the client's handshake is done, bytes are
	// copied between the two connections as they are; Relay performs no
	// handshake on the backend connection.
	Route func() (net.Conn, error)

	nextConnID uint32
}

// Start accepts connections on r.Listen until the listener is closed.
func (r *Relay) Start() error {
	listener, err := net.Listen("tcp", r.Listen)
	if err != nil {
		return err
	}
	log.Printf("[frontend] Listening on %s", r.Listen)

	go func() {
		for {
			client, err := listener.Accept()
			if err != nil {
				log.Printf("[frontend] Accept error: %v", err)
				return
			}
			go r.handleConnection(client)
		}
	}()
	return nil
}

func (r *Relay) handleConnection(client net.Conn) {
	defer client.Close()

	r.nextConnID++
	connID := r.nextConnID

	if err := r.writeHandshake(client, connID); err != nil {
		log.Printf("[frontend] handshake write error: %v", err)
		return
	}
	if _, _, err := wire.ReadPacket(client); err != nil {
		log.Printf("[frontend] handshake response read error: %v", err)
		return
	}
	if err := wire.WritePacket(client, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00}, 2); err != nil {
		log.Printf("[frontend] auth-ok write error: %v", err)
		return
	}

	backendConn, err := r.Route()
	if err != nil {
		log.Printf("[frontend] route error: %v", err)
		return
	}
	defer backendConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(backendConn, client) }()
	go func() { defer wg.Done(); io.Copy(client, backendConn) }()
	wg.Wait()
}

func (r *Relay) writeHandshake(client net.Conn, connID uint32) error {
	salt := make([]byte, 20)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	w := wire.NewWriter()
	w.Byte(10)
	w.NullTerminatedString(backend.ServerInfo.VERSION)
	w.FixedInt(uint64(connID), 4)
	w.Bytes(salt[:8])
	w.Byte(0)
	caps := uint32(backend.DefaultCapabilities)
	w.FixedInt(uint64(caps&0xffff), 2)
	w.Byte(backend.ServerInfo.CHARSET)
	w.FixedInt(2, 2)
	w.FixedInt(uint64(caps>>16), 2)
	w.Byte(21)
	w.Bytes(make([]byte, 10))
	w.Bytes(append(salt[8:], 0))
	w.NullTerminatedString("mysql_native_password")

	return wire.WritePacket(client, w.Payload(), 0)
}
