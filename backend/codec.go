package backend

import (
	"fmt"

	"github.com/mevdschee/shardexec/resultset"
	"github.com/mevdschee/shardexec/wire"
)

// decodeGeneric decodes an OK or ERR packet's payload into resultset.Generic
// (spec.md §6: headers OK=0x00, ERR=0xff).
func decodeGeneric(payload []byte) (resultset.Generic, error) {
	r := wire.NewReader(payload)
	header, err := r.Byte()
	if err != nil {
		return resultset.Generic{}, err
	}

	switch header {
	case headerOK:
		affected, _, err := r.LengthEncodedInt()
		if err != nil {
			return resultset.Generic{}, fmt.Errorf("OK packet affected-rows: %w", err)
		}
		lastID, _, err := r.LengthEncodedInt()
		if err != nil {
			return resultset.Generic{}, fmt.Errorf("OK packet last-insert-id: %w", err)
		}
		return resultset.Generic{AffectedRows: affected, LastInsertID: lastID}, nil
	case headerERR:
		code, err := r.FixedInt(2)
		if err != nil {
			return resultset.Generic{}, fmt.Errorf("ERR packet code: %w", err)
		}
		// Optional '#' + 5-byte SQL state, present under CLIENT_PROTOCOL_41.
		if b, err := r.Peek(); err == nil && b == '#' {
			if err := r.Skip(6); err != nil {
				return resultset.Generic{}, err
			}
		}
		message := string(r.Rest())
		return resultset.Generic{IsError: true, ErrorCode: uint16(code), ErrorMessage: message}, nil
	default:
		return resultset.Generic{}, fmt.Errorf("not an OK/ERR packet: header 0x%02x", header)
	}
}

// decodeColumnDefinition decodes a column-definition-41 packet (spec.md §6).
func decodeColumnDefinition(payload []byte) (resultset.ColumnDefinition, error) {
	r := wire.NewReader(payload)
	if _, err := r.LengthEncodedString(); err != nil { // catalog
		return resultset.ColumnDefinition{}, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // schema
		return resultset.ColumnDefinition{}, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // table
		return resultset.ColumnDefinition{}, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // org_table
		return resultset.ColumnDefinition{}, err
	}
	name, err := r.LengthEncodedString()
	if err != nil {
		return resultset.ColumnDefinition{}, fmt.Errorf("column name: %w", err)
	}
	if _, err := r.LengthEncodedString(); err != nil { // org_name
		return resultset.ColumnDefinition{}, err
	}
	if _, _, err := r.LengthEncodedInt(); err != nil { // length of fixed fields, always 0x0c
		return resultset.ColumnDefinition{}, err
	}
	charset, err := r.FixedInt(2)
	if err != nil {
		return resultset.ColumnDefinition{}, fmt.Errorf("column charset: %w", err)
	}
	if err := r.Skip(4); err != nil { // column length
		return resultset.ColumnDefinition{}, err
	}
	colType, err := r.Byte()
	if err != nil {
		return resultset.ColumnDefinition{}, fmt.Errorf("column type: %w", err)
	}
	flags, err := r.FixedInt(2)
	if err != nil {
		return resultset.ColumnDefinition{}, fmt.Errorf("column flags: %w", err)
	}
	return resultset.ColumnDefinition{
		Name:    name,
		Type:    colType,
		Charset: uint16(charset),
		Flags:   uint16(flags),
	}, nil
}

// decodeRow decodes a text-protocol row packet into colCount length-encoded
// (or NULL) string fields.
func decodeRow(payload []byte, colCount int) (resultset.Row, error) {
	r := wire.NewReader(payload)
	row := make(resultset.Row, colCount)
	for i := 0; i < colCount; i++ {
		n, isNull, err := r.LengthEncodedInt()
		if err != nil {
			return nil, fmt.Errorf("row field %d length: %w", i, err)
		}
		if isNull {
			row[i] = ""
			continue
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("row field %d value: %w", i, err)
		}
		row[i] = string(b)
	}
	return row, nil
}
