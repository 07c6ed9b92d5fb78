// Package storetest opens throwaway reboot state stores for tests. The
// store is the same SQLite schema the agent runs on: per-host reboot
// requirement and deferral rows, the notification event log and the
// reboot history.
package storetest

import (
	"testing"

	"github.com/nhle/rebootreminder/internal/store"
)

// NewTestStore returns an empty in-memory SQLiteStore with the schema
// migrated, so no host has a pending reboot or deferral yet. It is closed
// when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
