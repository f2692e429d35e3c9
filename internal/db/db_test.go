package db

import "testing"

func TestOpenSQLiteAndMigrate(t *testing.T) {
	gdb, err := Open("sqlite:file:dbtest?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"companions", "chat_messages"} {
		if !gdb.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}
