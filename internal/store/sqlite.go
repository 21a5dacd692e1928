package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cityhive/directory/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local and
// development deployments; Postgres serves production.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	place_id            TEXT,
	name                TEXT NOT NULL,
	slug                TEXT,
	record              TEXT NOT NULL DEFAULT '{}',
	extraction_status   TEXT NOT NULL DEFAULT 'pending',
	extraction_progress TEXT NOT NULL DEFAULT '{}',
	published           INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(extraction_status);
CREATE INDEX IF NOT EXISTS idx_entities_place_id ON entities(place_id);
`

// Migrate applies the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateEntity inserts a new entity record.
func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}

	record, err := marshalRecord(e)
	if err != nil {
		return err
	}
	progress, err := json.Marshal(e.Progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, type, place_id, name, slug, record, extraction_status, extraction_progress, published, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.PlaceID, e.Name, e.Slug, string(record),
		string(e.ExtractionStatus), string(progress), boolToInt(e.Published), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert entity")
	}
	return nil
}

const sqliteEntityColumns = `id, type, place_id, name, slug, record, extraction_status, extraction_progress, published, created_at, updated_at`

// GetEntity loads one entity by id.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityColumns+` FROM entities WHERE id = ?`, id)
	return scanSQLiteEntity(row.Scan)
}

// GetEntityByPlaceID loads the oldest entity with the given provider key.
func (s *SQLiteStore) GetEntityByPlaceID(ctx context.Context, placeID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityColumns+` FROM entities WHERE place_id = ? ORDER BY created_at LIMIT 1`, placeID)
	return scanSQLiteEntity(row.Scan)
}

// UpdateEntity persists the descriptive and raw provider fields.
func (s *SQLiteStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	record, err := marshalRecord(e)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET place_id = ?, name = ?, slug = ?, record = ?, updated_at = ? WHERE id = ?`,
		e.PlaceID, e.Name, e.Slug, string(record), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update entity")
	}
	return rowsAffectedOrNotFound(res)
}

// ListEntities returns entities matching the filter, newest first.
func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		conds = append(conds, "extraction_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.City != "" {
		conds = append(conds, "json_extract(record, '$.city') = ?")
		args = append(args, filter.City)
	}
	if !filter.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, filter.CreatedAfter)
	}

	query := `SELECT ` + sqliteEntityColumns + ` FROM entities`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// OFFSET requires a LIMIT clause in SQLite; -1 means unbounded.
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate entities")
	}
	return out, nil
}

// LoadProgress returns the embedded progress map for an entity.
func (s *SQLiteStore) LoadProgress(ctx context.Context, entityID string) (model.Progress, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT extraction_progress FROM entities WHERE id = ?`, entityID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: load progress")
	}
	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal progress")
	}
	return p, nil
}

// RecordStepStart marks a step running.
func (s *SQLiteStore) RecordStepStart(ctx context.Context, entityID, step string, at time.Time) error {
	return s.writeStep(ctx, entityID, step, model.StepState{Status: model.StepRunning, StartedAt: &at})
}

// RecordStepResult writes a step's terminal (or reset) state.
func (s *SQLiteStore) RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error {
	return s.writeStep(ctx, entityID, step, state)
}

// writeStep updates one step's entry inside a transaction so the
// read-modify-write of the progress blob stays atomic per step.
func (s *SQLiteStore) writeStep(ctx context.Context, entityID, step string, state model.StepState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin step write")
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT extraction_progress FROM entities WHERE id = ?`, entityID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return eris.Wrap(err, "sqlite: read progress")
	}

	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal progress")
	}
	if p == nil {
		p = make(model.Progress)
	}
	p[step] = state

	updated, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET extraction_progress = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), entityID); err != nil {
		return eris.Wrapf(err, "sqlite: record step %s", step)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit step write")
	}
	return nil
}

// SetExtractionStatus writes the derived overall status.
func (s *SQLiteStore) SetExtractionStatus(ctx context.Context, entityID string, status model.ExtractionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET extraction_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), entityID)
	if err != nil {
		return eris.Wrap(err, "sqlite: set extraction status")
	}
	return rowsAffectedOrNotFound(res)
}

func scanSQLiteEntity(scan func(dest ...any) error) (*model.Entity, error) {
	var (
		e           model.Entity
		typ, status string
		record      string
		progress    string
		published   int
	)
	err := scan(&e.ID, &typ, &e.PlaceID, &e.Name, &e.Slug, &record,
		&status, &progress, &published, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan entity")
	}

	id, placeID, name, slug := e.ID, e.PlaceID, e.Name, e.Slug
	createdAt, updatedAt := e.CreatedAt, e.UpdatedAt
	if record != "" {
		if err := json.Unmarshal([]byte(record), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
	}
	e.ID, e.PlaceID, e.Name, e.Slug = id, placeID, name, slug
	e.CreatedAt, e.UpdatedAt = createdAt, updatedAt
	e.Type = model.EntityType(typ)
	e.ExtractionStatus = model.ExtractionStatus(status)
	e.Published = published != 0

	e.Progress = nil
	if progress != "" {
		if err := json.Unmarshal([]byte(progress), &e.Progress); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal progress")
		}
	}
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}
	return &e, nil
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
