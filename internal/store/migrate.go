package store

import (
	"database/sql"
	"fmt"
)

// ensureColumn adds column to table with the given type definition if the
// table exists and the column is missing, matching the teacher's
// probe-then-ALTER-TABLE migration discipline.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	if !tableExists(db, table) {
		return nil
	}
	has, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// runMigrations applies non-destructive column additions for fields that
// post-date the original schema (the source repo evolved "title" columns
// onto both concepts and episodes after their initial releases).
func runMigrations(db *sql.DB) error {
	if err := ensureColumn(db, "concepts", "title", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(db, "episodes", "title", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(db, "episodes", "entities_extracted", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(db, "episodes", "relations_extracted", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}
