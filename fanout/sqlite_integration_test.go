package fanout

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mevdschee/shardexec/events"
)

// setupTestDB returns an in-memory sqlite3 database standing in for one
// shard's physical connection, the same pattern the teacher's write-batch
// tests use for a fake backend.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE writes (id INTEGER PRIMARY KEY AUTOINCREMENT, value TEXT)`); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestExecute_AgainstRealDatabases fans a DML unit out across three
// independent in-memory databases (standing in for three shards) and
// checks that the callback's sql.Result reaches each one.
func TestExecute_AgainstRealDatabases(t *testing.T) {
	dbs := map[string]*sql.DB{
		"shard0": setupTestDB(t),
		"shard1": setupTestDB(t),
		"shard2": setupTestDB(t),
	}

	units := make([]Unit, 0, len(dbs))
	for id, db := range dbs {
		units = append(units, Unit{
			DataSourceID: id,
			SQL:          "INSERT INTO writes (value) VALUES (?)",
			Handle:       db,
			Params:       [][]any{{id}},
		})
	}

	e := NewEngine(2, nil)
	defer e.Close()

	results, err := Execute(e, events.DefaultExecutionContext(), events.DML, units, func(u Unit) (int64, error) {
		db := u.Handle.(*sql.DB)
		res, err := db.Exec(u.SQL, u.Params[0]...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, n := range results {
		if n != 1 {
			t.Errorf("results[%d] = %d, want 1", i, n)
		}
	}

	for id, db := range dbs {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM writes WHERE value = ?", id).Scan(&count); err != nil {
			t.Fatalf("QueryRow(%s): %v", id, err)
		}
		if count != 1 {
			t.Errorf("%s: count = %d, want 1", id, count)
		}
	}
}
