package factory

import (
	"path/filepath"
	"testing"
)

func TestNewFromDSN(t *testing.T) {
	if _, err := NewFromDSN(""); err == nil {
		t.Fatal("empty DSN must fail")
	}

	path := filepath.Join(t.TempDir(), "events.db")
	s, err := NewFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	_ = s.Close()

	s, err = NewFromDSN(path)
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	_ = s.Close()

	// sql.Open does not dial, so constructing a postgres store succeeds
	// without a reachable database.
	s, err = NewFromDSN("postgres://user:pw@localhost:5432/cubicd")
	if err != nil {
		t.Fatalf("postgres scheme: %v", err)
	}
	_ = s.Close()
}
