package db_test

import (
	"database/sql"
	"testing"

	"github.com/codr1/courtside/internal/testutil"
)

func TestMigrationsApplied(t *testing.T) {
	database := testutil.NewTestDB(t)

	expectedTables := []string{
		"organizations",
		"clubs",
		"club_hours",
		"club_special_dates",
		"courts",
		"bookings",
		"payment_events",
	}

	for _, table := range expectedTables {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?",
			table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			t.Fatalf("missing expected table %q after migrations", table)
		}
		if err != nil {
			t.Fatalf("query table %q existence: %v", table, err)
		}
	}
}

func TestForeignKeyIntegrity(t *testing.T) {
	database := testutil.NewTestDB(t)

	var foreignKeysEnabled int
	if err := database.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeysEnabled); err != nil {
		t.Fatalf("query foreign_keys pragma: %v", err)
	}
	if foreignKeysEnabled != 1 {
		t.Fatalf("expected foreign_keys pragma enabled, got %d", foreignKeysEnabled)
	}

	_, err := database.Exec(
		`INSERT INTO clubs (organization_id, name, slug, timezone)
		 VALUES (9999, 'Bad Club', 'bad-club', 'UTC')`,
	)
	if err == nil {
		t.Fatal("expected foreign key constraint failure for invalid organization_id")
	}
}
