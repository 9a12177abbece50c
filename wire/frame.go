// Package wire implements framing and typed field encoding for the
// MySQL-family backend wire protocol: a length-prefixed packet with a
// per-connection monotonic sequence id, plus the fixed-width, length-encoded
// and null-terminated field readers/writers used by the handshake and
// command-response packets built on top of it.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadLength is the largest payload a single frame can carry before
// the protocol requires splitting across multiple frames. This codec does
// not implement the split-packet path; payloads are assumed to fit in one
// frame, matching the teacher's proxy which never emits multi-frame rows.
const MaxPayloadLength = 1<<24 - 1

// ReadPacket reads one framed packet from r: a 3-byte little-endian payload
// length, a 1-byte sequence id, then the payload. It returns the payload and
// the sequence id the backend used, so the caller can detect a sequence gap.
func ReadPacket(r io.Reader) (payload []byte, seq byte, err error) {
	header := make([]byte, 4)
	if _, err = io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("wire: read frame header: %w", err)
	}
	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	seq = header[3]
	payload = make([]byte, length)
	if length > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return nil, 0, fmt.Errorf("wire: read frame payload (%d bytes): %w", length, err)
		}
	}
	return payload, seq, nil
}

// WritePacket frames payload with the given sequence id and writes it to w.
func WritePacket(w io.Writer, payload []byte, seq byte) error {
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("wire: payload of %d bytes exceeds frame limit", len(payload))
	}
	header := make([]byte, 4, 4+len(payload))
	header[0] = byte(len(payload))
	header[1] = byte(len(payload) >> 8)
	header[2] = byte(len(payload) >> 16)
	header[3] = seq
	header = append(header, payload...)
	_, err := w.Write(header)
	return err
}

// PutUint32 is a small helper kept for symmetry with the teacher's
// mariadb.WriteOKPacket-style helpers that patch a length prefix in place.
func PutUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}
