package cdrbackend

import (
	"path/filepath"
	"testing"

	"github.com/sebac/pbxcore/internal/cdr"
)

func TestSQLiteOpenCreatesTable(t *testing.T) {
	dir := t.TempDir()
	be, err := OpenSQLite(filepath.Join(dir, "cdr.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer be.Close()

	var count int
	if err := be.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='cdr'").Scan(&count); err != nil {
		t.Fatalf("checking cdr table: %v", err)
	}
	if count != 1 {
		t.Fatal("cdr table not created")
	}
}

func TestSQLitePostInsertsBatch(t *testing.T) {
	dir := t.TempDir()
	be, err := OpenSQLite(filepath.Join(dir, "cdr.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer be.Close()

	r1 := cdr.New()
	r1.Channel = "SIP/1"
	r1.StartCall()
	r1.Answer()
	r1.End()

	r2 := cdr.New()
	r2.Channel = "SIP/2"
	r1.BatchNext = r2

	if err := be.Post(r1); err != nil {
		t.Fatalf("Post() error: %v", err)
	}

	var count int
	if err := be.db.QueryRow("SELECT COUNT(*) FROM cdr").Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}

	var channel string
	if err := be.db.QueryRow("SELECT channel FROM cdr WHERE channel = ?", "SIP/1").Scan(&channel); err != nil {
		t.Fatalf("querying inserted row: %v", err)
	}
	if channel != "SIP/1" {
		t.Errorf("channel = %q, want SIP/1", channel)
	}
}
