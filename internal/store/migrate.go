package store

import (
	"database/sql"
	"fmt"
)

// column is one ADD COLUMN step within a migration.
type column struct {
	name string
	ddl  string
}

// migration is one ordered schema step. Steps are applied at most once and
// recorded in schema_version; columns already present (legacy stores were
// widened ad hoc, in any combination) are skipped, so adopting the ladder
// never fails and never loses rows.
type migration struct {
	version int
	create  string
	columns []column
}

// The v1 shape matches the narrow legacy table (id/content/x/y) that early
// deployments created; later steps widen it in place.
var migrations = []migration{
	{version: 1, create: `CREATE TABLE IF NOT EXISTS notes (
		id      TEXT PRIMARY KEY,
		content TEXT,
		x       REAL,
		y       REAL
	)`},
	{version: 2, columns: []column{
		{"title", `title TEXT`},
		{"link", `link TEXT`},
		{"category", `category TEXT`},
		{"cost", `cost REAL`},
	}},
	{version: 3, columns: []column{
		{"lat", `lat REAL`},
		{"lng", `lng REAL`},
		{"z_index", `z_index INTEGER`},
		{"minimized", `minimized INTEGER`},
	}},
	{version: 4, columns: []column{
		{"start_date", `start_date TEXT`},
		{"end_date", `end_date TEXT`},
	}},
}

// migrate applies every migration above the recorded schema version, each in
// its own transaction together with the version bump.
func migrate(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := applyMigration(tx, m); err != nil {
			tx.Rollback() //nolint:errcheck // best-effort on failure path
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(tx *sql.Tx, m migration) error {
	if m.create != "" {
		if _, err := tx.Exec(m.create); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	if len(m.columns) > 0 {
		existing, err := tableColumns(tx, "notes")
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		for _, c := range m.columns {
			if _, ok := existing[c.name]; ok {
				continue
			}
			if _, err := tx.Exec(`ALTER TABLE notes ADD COLUMN ` + c.ddl); err != nil {
				return fmt.Errorf("migration %d: add %s: %w", m.version, c.name, err)
			}
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return nil
}

func tableColumns(tx *sql.Tx, table string) (map[string]struct{}, error) {
	rows, err := tx.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}
