package sqlite

import (
	"testing"

	"github.com/rs/zerolog"
)

// NewSQLiteTest returns an in-memory store that is closed with the
// test.
func NewSQLiteTest(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory(zerolog.Nop())
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
