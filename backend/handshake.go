package backend

import (
	"fmt"

	"github.com/mevdschee/shardexec/wire"
)

// decodeHandshake parses a Handshake v10 packet (spec.md §6).
func decodeHandshake(payload []byte) (*HandshakePacket, error) {
	r := wire.NewReader(payload)

	protoVer, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("protocol version: %w", err)
	}
	serverVersion, err := r.NullTerminatedString()
	if err != nil {
		return nil, fmt.Errorf("server version: %w", err)
	}
	connID, err := r.FixedInt(4)
	if err != nil {
		return nil, fmt.Errorf("connection id: %w", err)
	}
	salt1, err := r.Bytes(8)
	if err != nil {
		return nil, fmt.Errorf("salt part 1: %w", err)
	}
	if err := r.Skip(1); err != nil { // filler
		return nil, err
	}
	capLow, err := r.FixedInt(2)
	if err != nil {
		return nil, fmt.Errorf("capability flags (low): %w", err)
	}
	charset, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("charset: %w", err)
	}
	status, err := r.FixedInt(2)
	if err != nil {
		return nil, fmt.Errorf("status flags: %w", err)
	}
	capHigh, err := r.FixedInt(2)
	if err != nil {
		return nil, fmt.Errorf("capability flags (high): %w", err)
	}
	authPluginDataLen, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("auth plugin data length: %w", err)
	}
	if err := r.Skip(10); err != nil { // reserved
		return nil, err
	}

	capabilities := uint32(capLow) | uint32(capHigh)<<16

	salt := make([]byte, 8, 20)
	copy(salt, salt1)
	if capabilities&ClientSecureConn != 0 {
		salt2Len := int(authPluginDataLen) - 8
		if salt2Len < 13 {
			salt2Len = 13
		}
		salt2, err := r.Bytes(salt2Len)
		if err != nil {
			return nil, fmt.Errorf("salt part 2: %w", err)
		}
		// last byte of salt part 2 is a null terminator, not salt material
		salt = append(salt, salt2[:min(len(salt2), salt2Len-1)]...)
	}

	var pluginName string
	if capabilities&ClientPluginAuth != 0 && r.Len() > 0 {
		pluginName, _ = r.NullTerminatedString()
	}

	return &HandshakePacket{
		ProtocolVersion: protoVer,
		ServerVersion:   serverVersion,
		ConnectionID:    uint32(connID),
		Salt:            salt,
		Capabilities:    capabilities,
		Charset:         charset,
		StatusFlags:     uint16(status),
		AuthPluginName:  pluginName,
	}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// encodeHandshakeResponse builds a Handshake Response 41 packet (spec.md
// §6): capability flags, max packet size fixed at ServerInfo.MAX_PACKET_LEN,
// charset fixed at ServerInfo.CHARSET, 23 reserved bytes, username,
// length-encoded auth response, and schema name.
func encodeHandshakeResponse(resp HandshakeResponse) []byte {
	w := wire.NewWriter()
	w.FixedInt(uint64(resp.Capabilities), 4)
	w.FixedInt(uint64(ServerInfo.MAX_PACKET_LEN), 4)
	w.Byte(ServerInfo.CHARSET)
	w.Bytes(make([]byte, 23))
	w.NullTerminatedString(resp.Username)
	w.LengthEncodedString(resp.AuthResponse)
	if resp.Capabilities&ClientConnectWithDB != 0 {
		w.NullTerminatedString(resp.Database)
	}
	return w.Payload()
}
