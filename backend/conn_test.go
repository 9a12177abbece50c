package backend

import (
	"errors"
	"testing"
	"time"

	"github.com/mevdschee/shardexec/fanerr"
	"github.com/mevdschee/shardexec/resultset"
)

// driveToCommand performs a successful handshake + auth over the harness's
// pipe with the given backend connection id, leaving conn in Command phase.
func driveToCommand(t *testing.T, h *pipeHarness, connID uint32) {
	t.Helper()
	salt := zeroSalt()
	h.writeServerPacket(buildHandshakePacket(t, connID, salt), 0)

	respPayload, _ := h.readServerPacket()
	if len(respPayload) == 0 {
		t.Fatal("expected a handshake response payload")
	}

	h.writeServerPacket(buildOKPacket(0, 0), 2)

	result, err := h.conn.AuthFuture().Await()
	if err != nil {
		t.Fatalf("AuthFuture().Await(): %v", err)
	}
	if result.Generic() == nil || result.Generic().IsError {
		t.Fatalf("expected a successful auth result, got %+v", result.Generic())
	}
	if h.conn.Phase() != Command {
		t.Fatalf("phase = %v, want %v", h.conn.Phase(), Command)
	}
}

func TestConn_AuthSuccess(t *testing.T) {
	h := newPipeHarness(t, "root", "secret", "")
	driveToCommand(t, h, 42)
	if got := h.conn.ConnectionID(); got != 42 {
		t.Errorf("ConnectionID() = %d, want 42", got)
	}
}

func TestConn_AuthFailure(t *testing.T) {
	h := newPipeHarness(t, "root", "secret", "")
	salt := zeroSalt()
	h.writeServerPacket(buildHandshakePacket(t, 1, salt), 0)
	h.readServerPacket() // handshake response

	h.writeServerPacket(buildErrPacket(1045, "Access denied"), 2)

	_, err := h.conn.AuthFuture().Await()
	if err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestConn_OKResponse(t *testing.T) {
	h := newPipeHarness(t, "root", "", "")
	driveToCommand(t, h, 1)

	fut, err := h.sendCommand("UPDATE t SET x=1")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	h.writeServerPacket(buildOKPacket(5, 0), 1)

	result, err := fut.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Generic() == nil || result.Generic().IsError {
		t.Fatalf("expected a successful generic result, got %+v", result.Generic())
	}
	if result.Generic().AffectedRows != 5 {
		t.Errorf("AffectedRows = %d, want 5", result.Generic().AffectedRows)
	}
}

func TestConn_ResultSetTwoColumnsThreeRows(t *testing.T) {
	h := newPipeHarness(t, "root", "", "")
	driveToCommand(t, h, 1)

	fut, err := h.sendCommand("SELECT a, b FROM t")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	seq := byte(1)
	h.writeServerPacket(buildColumnCountPacket(2), seq)
	seq++
	h.writeServerPacket(buildColumnDefPacket("c1", 0xfd), seq)
	seq++
	h.writeServerPacket(buildColumnDefPacket("c2", 0xfd), seq)
	seq++
	h.writeServerPacket(buildEOFPacket(), seq)
	seq++

	// The future completes at columns-EOF per the streaming contract
	// documented in SPEC_FULL.md §9; await it now, rows still arriving.
	result, err := fut.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Phase() != resultset.Rows {
		t.Fatalf("phase at columns-EOF = %s, want %s", result.Phase(), resultset.Rows)
	}

	rows := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	for _, r := range rows {
		h.writeServerPacket(buildRowPacket(r[0], r[1]), seq)
		seq++
	}
	h.writeServerPacket(buildEOFPacket(), seq)

	// Give the connection's read goroutine a moment to reach Done: the pipe
	// is synchronous, so when writeServerPacket for the final EOF returns
	// the packet has been read, but handlePacket may still be running.
	deadline := time.Now().Add(time.Second)
	for result.Phase() != resultset.Done && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if result.Phase() != resultset.Done {
		t.Fatalf("phase = %s, want %s", result.Phase(), resultset.Done)
	}
	got := result.Rows()
	if len(got) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(got))
	}
	for i, want := range rows {
		if got[i][0] != want[0] || got[i][1] != want[1] {
			t.Errorf("row %d = %v, want %v", i, got[i], want)
		}
	}

	cols := result.Columns()
	if len(cols) != 2 || cols[0].Name != "c1" || cols[1].Name != "c2" {
		t.Errorf("unexpected columns: %+v", cols)
	}
}

func TestConn_SendCommandWrongPhaseRejected(t *testing.T) {
	h := newPipeHarness(t, "root", "", "")
	if _, err := h.conn.SendCommand("SELECT 1"); err == nil {
		t.Fatal("expected SendCommand to fail before handshake completes")
	}
}

func TestConn_SequenceMismatchIsFatal(t *testing.T) {
	h := newPipeHarness(t, "root", "", "")
	driveToCommand(t, h, 1)

	fut, err := h.sendCommand("SELECT 1")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	// The response to a fresh command must start at seq 1; skip straight
	// to seq 2 to simulate a dropped or duplicated packet.
	h.writeServerPacket(buildOKPacket(0, 0), 2)

	if _, err := fut.Await(); err == nil {
		t.Fatal("expected the future to fail on a sequence-id mismatch")
	}

	select {
	case err := <-h.fatalErr:
		var protoErr *fanerr.ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("fatal err = %v (%T), want *fanerr.ProtocolError", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error on sequence mismatch")
	}
}
