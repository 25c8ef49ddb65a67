package db

import (
	"path/filepath"
	"testing"

	"github.com/pixfusion/pixfusion/internal/models"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "db-test.db")

	conn, errOpen := Open(dsn)
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	for _, table := range []string{"users", "generations", "payment_events"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %q after migrate", table)
		}
	}

	user := models.User{ID: "u-1", GoogleID: "g-1", Email: "a@example.com", Name: "A"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, errOpen := Open("   "); errOpen == nil {
		t.Fatal("expected an error for an empty dsn")
	}
}

func TestSQLiteDSNPragmas(t *testing.T) {
	if got := sqliteDSN("file:app.db"); got != "file:app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := sqliteDSN("file:app.db?cache=shared"); got != "file:app.db?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
	custom := "file:app.db?_pragma=busy_timeout(100)"
	if got := sqliteDSN(custom); got != custom {
		t.Fatalf("expected caller pragmas kept, got %q", got)
	}
}

func TestPostgresDSNDetection(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost:5432/app": true,
		"host=localhost dbname=app":         true,
		"file:local.db":                     false,
		"pixfusion.db":                      false,
	}
	for dsn, want := range cases {
		if got := isPostgresDSN(dsn); got != want {
			t.Fatalf("dsn %q: expected %v, got %v", dsn, want, got)
		}
	}
}
