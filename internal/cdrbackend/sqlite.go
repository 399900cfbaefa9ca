package cdrbackend

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sebac/pbxcore/internal/cdr"
)

// SQLite persists each posted record into a single "cdr" table with a
// fixed column set mirroring the record's exported fields. The
// original back-end this is grounded on takes an operator-configured
// arbitrary column list and builds its INSERT dynamically; a fixed
// schema is simpler and matches everything a Record actually carries,
// so the dynamic-column indirection buys nothing here.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database at path
// and ensures the cdr table exists.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("cdrbackend: creating data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cdrbackend: opening %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cdrbackend: pinging %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cdrbackend: creating cdr table: %w", err)
	}
	return &SQLite{db: db}, nil
}

const createTableSQL = `CREATE TABLE IF NOT EXISTS cdr (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_code TEXT,
	caller_id_name TEXT,
	caller_id_num TEXT,
	dst TEXT,
	dst_context TEXT,
	channel TEXT,
	dst_channel TEXT,
	last_app TEXT,
	last_data TEXT,
	start_time DATETIME,
	answer_time DATETIME,
	end_time DATETIME,
	duration_sec INTEGER,
	bill_sec INTEGER,
	disposition TEXT,
	amaflags TEXT,
	unique_id TEXT,
	user_field TEXT
)`

func (s *SQLite) Name() string { return "cdr_sqlite3" }

// Post inserts every record reachable from batch in a single
// transaction, so a batch either lands whole or not at all.
func (s *SQLite) Post(batch *cdr.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cdrbackend: begin: %w", err)
	}

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cdrbackend: prepare: %w", err)
	}
	defer stmt.Close()

	for set := batch; set != nil; set = set.BatchNext {
		for r := set; r != nil; r = r.Next {
			if _, err := stmt.Exec(
				r.AccountCode, r.CallerIDName, r.CallerIDNum, r.Dst, r.DstContext,
				r.Channel, r.DstChannel, r.LastApp, r.LastData,
				r.StartTime, r.AnswerTime, r.EndTime,
				r.DurationSec, r.BillSec,
				r.Disposition.String(), r.AMAFlags.String(), r.UniqueID, r.UserField,
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("cdrbackend: insert: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cdrbackend: commit: %w", err)
	}
	return nil
}

const insertSQL = `INSERT INTO cdr (
	account_code, caller_id_name, caller_id_num, dst, dst_context,
	channel, dst_channel, last_app, last_data,
	start_time, answer_time, end_time,
	duration_sec, bill_sec, disposition, amaflags, unique_id, user_field
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Close closes the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }
