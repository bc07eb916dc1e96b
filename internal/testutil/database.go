package testutil

import (
	"path/filepath"
	"testing"

	"loghaul/internal/repository"
)

// SetupTestDB creates a temporary SQLite database for testing. The file
// lives in the test's temp dir and is closed on cleanup.
func SetupTestDB(t *testing.T) *repository.Repository {
	t.Helper()

	repo, err := repository.New(filepath.Join(t.TempDir(), "loghaul.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}
