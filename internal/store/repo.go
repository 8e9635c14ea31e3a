package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/models"
)

const noteColumns = `id, title, content, link, category, cost, x, y, lat, lng, z_index, minimized, start_date, end_date`

// ListAll returns every stored note. Order follows SQLite's table scan
// (insertion order in practice, not guaranteed).
func (db *DB) ListAll() ([]models.Note, error) {
	rows, err := db.conn.Query(`SELECT ` + noteColumns + ` FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w (%w)", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	notes := []models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Get returns the note with the given id, or apperr.ErrNotFound.
func (db *DB) Get(id string) (*models.Note, error) {
	row := db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("store: get note: %w", err)
	}
	return &n, nil
}

// Insert stores a new note. A primary-key collision is reported as
// apperr.ErrDuplicateKey rather than an overwrite.
func (db *DB) Insert(n models.Note) error {
	_, err := db.conn.Exec(`
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, nullable(n.Title), n.Content, nullable(n.Link), n.Category, n.Cost,
		n.X, n.Y, n.Lat, n.Lng, n.ZIndex, boolToInt(n.Minimized),
		nullable(n.StartDate), nullable(n.EndDate))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("store: insert %q: %w", n.ID, apperr.ErrDuplicateKey)
		}
		return fmt.Errorf("store: insert note: %w (%w)", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// Replace updates the full record for id. Zero rows affected is not an error
// at this layer; the caller decides whether an absent id matters.
func (db *DB) Replace(id string, n models.Note) error {
	_, err := db.conn.Exec(`
		UPDATE notes
		   SET title      = ?,
		       content    = ?,
		       link       = ?,
		       category   = ?,
		       cost       = ?,
		       x          = ?,
		       y          = ?,
		       lat        = ?,
		       lng        = ?,
		       z_index    = ?,
		       minimized  = ?,
		       start_date = ?,
		       end_date   = ?
		 WHERE id = ?
	`, nullable(n.Title), n.Content, nullable(n.Link), n.Category, n.Cost,
		n.X, n.Y, n.Lat, n.Lng, n.ZIndex, boolToInt(n.Minimized),
		nullable(n.StartDate), nullable(n.EndDate), id)
	if err != nil {
		return fmt.Errorf("store: replace note: %w (%w)", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the note with the given id. Deleting an absent id is a no-op.
func (db *DB) Delete(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete note: %w (%w)", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// SumCost returns the arithmetic sum of cost over all notes, 0 when empty.
func (db *DB) SumCost() (float64, error) {
	var total float64
	err := db.conn.QueryRow(`SELECT COALESCE(SUM(cost), 0) FROM notes`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum cost: %w (%w)", apperr.ErrStoreUnavailable, err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanNote reads one row, backfilling defaults for columns a narrower legacy
// store never wrote (NULLs read back as the documented field defaults).
func scanNote(row scanner) (models.Note, error) {
	var (
		n                    models.Note
		title, content, link sql.NullString
		category             sql.NullString
		cost, x, y           sql.NullFloat64
		lat, lng             sql.NullFloat64
		zIndex, minimized    sql.NullInt64
		startDate, endDate   sql.NullString
	)
	err := row.Scan(&n.ID, &title, &content, &link, &category, &cost,
		&x, &y, &lat, &lng, &zIndex, &minimized, &startDate, &endDate)
	if err != nil {
		return models.Note{}, err
	}

	n.Title = title.String
	n.Content = content.String
	n.Link = link.String
	n.Category = category.String
	if n.Category == "" {
		n.Category = "other"
	}
	n.Cost = cost.Float64
	n.X, n.Y = x.Float64, y.Float64
	if !x.Valid {
		n.X = 100
	}
	if !y.Valid {
		n.Y = 100
	}
	if lat.Valid {
		v := lat.Float64
		n.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		n.Lng = &v
	}
	n.ZIndex = int(zIndex.Int64)
	if !zIndex.Valid {
		n.ZIndex = 1
	}
	n.Minimized = minimized.Int64 != 0
	n.StartDate = startDate.String
	n.EndDate = endDate.String
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
