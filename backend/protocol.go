package backend

// Packet header bytes for the MySQL 4.1+ classic protocol (spec.md §6).
const (
	headerOK  = 0x00
	headerEOF = 0xfe
	headerERR = 0xff
)

// Capability flags exchanged at handshake (spec.md §6), the subset this
// proxy negotiates. Mirrors the teacher's mariadb.DEFAULT_CAPABILITY set.
const (
	ClientLongPassword    = 0x00000001
	ClientFoundRows       = 0x00000002
	ClientLongFlag        = 0x00000004
	ClientConnectWithDB   = 0x00000008
	ClientProtocol41      = 0x00000200
	ClientTransactions    = 0x00002000
	ClientSecureConn      = 0x00008000
	ClientMultiStatements = 0x00010000
	ClientMultiResults    = 0x00020000
	ClientPluginAuth      = 0x00080000
	ClientDeprecateEOF    = 0x01000000

	DefaultCapabilities = ClientLongPassword | ClientLongFlag |
		ClientConnectWithDB | ClientProtocol41 |
		ClientTransactions | ClientSecureConn
)

// ServerInfo holds the constants the handshake response packet is built
// with (spec.md §6: "charset (int1, set to ServerInfo.CHARSET constant)").
var ServerInfo = struct {
	CHARSET        byte
	MAX_PACKET_LEN uint32
	VERSION        string
}{
	CHARSET:        33, // utf8_general_ci
	MAX_PACKET_LEN: 16777215,
	VERSION:        "5.7.0-shardexec",
}

// HandshakePacket is the decoded Handshake v10 packet a backend sends on
// connect (spec.md §6).
type HandshakePacket struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	Salt            []byte // combined 20-byte salt (part 1 + part 2)
	Capabilities    uint32
	Charset         byte
	StatusFlags     uint16
	AuthPluginName  string
}

// HandshakeResponse is the decoded (or, on the client side, to-be-encoded)
// Handshake Response 41 packet (spec.md §6).
type HandshakeResponse struct {
	Capabilities uint32
	MaxPacketLen uint32
	Charset      byte
	Username     string
	AuthResponse []byte
	Database     string
}
