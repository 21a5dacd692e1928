package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each connection.
var preparedStatements = map[string]string{
	"insert_entity": `INSERT INTO entities (id, type, place_id, name, slug, record, extraction_status, extraction_progress, published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"get_entity": `SELECT id, type, place_id, name, slug, record, extraction_status, extraction_progress, published, created_at, updated_at
		FROM entities WHERE id = $1`,
	"get_entity_by_place": `SELECT id, type, place_id, name, slug, record, extraction_status, extraction_progress, published, created_at, updated_at
		FROM entities WHERE place_id = $1 ORDER BY created_at LIMIT 1`,
	"update_entity": `UPDATE entities SET place_id = $1, name = $2, slug = $3, record = $4, updated_at = $5 WHERE id = $6`,
	"load_progress": `SELECT extraction_progress FROM entities WHERE id = $1`,
	"record_step":   `UPDATE entities SET extraction_progress = jsonb_set(extraction_progress, ARRAY[$1], $2::jsonb, true), updated_at = $3 WHERE id = $4`,
	"set_status":    `UPDATE entities SET extraction_status = $1, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	place_id            TEXT,
	name                TEXT NOT NULL,
	slug                TEXT,
	record              JSONB NOT NULL DEFAULT '{}'::jsonb,
	extraction_status   TEXT NOT NULL DEFAULT 'pending',
	extraction_progress JSONB NOT NULL DEFAULT '{}'::jsonb,
	published           BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(extraction_status);
CREATE INDEX IF NOT EXISTS idx_entities_place_id ON entities(place_id);
CREATE INDEX IF NOT EXISTS idx_entities_type_status ON entities(type, extraction_status);
`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateEntity inserts a new entity record.
func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
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
		return eris.Wrap(err, "postgres: marshal progress")
	}

	_, err = s.pool.Exec(ctx, "insert_entity",
		e.ID, string(e.Type), e.PlaceID, e.Name, e.Slug, record,
		string(e.ExtractionStatus), progress, e.Published, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert entity")
	}
	return nil
}

// GetEntity loads one entity by id.
func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	return s.scanEntity(s.pool.QueryRow(ctx, "get_entity", id))
}

// GetEntityByPlaceID loads the oldest entity with the given provider key.
func (s *PostgresStore) GetEntityByPlaceID(ctx context.Context, placeID string) (*model.Entity, error) {
	return s.scanEntity(s.pool.QueryRow(ctx, "get_entity_by_place", placeID))
}

// UpdateEntity persists the descriptive and raw provider fields. Progress
// and extraction status have their own write paths.
func (s *PostgresStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	record, err := marshalRecord(e)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "update_entity",
		e.PlaceID, e.Name, e.Slug, record, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update entity")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntities returns entities matching the filter, newest first.
func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	qb := sq.Select("id", "type", "place_id", "name", "slug", "record",
		"extraction_status", "extraction_progress", "published", "created_at", "updated_at").
		From("entities").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar)

	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"extraction_status": string(filter.Status)})
	}
	if filter.City != "" {
		qb = qb.Where("record->>'city' = ?", filter.City)
	}
	if !filter.CreatedAfter.IsZero() {
		qb = qb.Where(sq.Gt{"created_at": filter.CreatedAfter})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := s.scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate entities")
	}
	return out, nil
}

// LoadProgress returns the embedded progress map for an entity.
func (s *PostgresStore) LoadProgress(ctx context.Context, entityID string) (model.Progress, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, "load_progress", entityID).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: load progress")
	}
	var p model.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal progress")
	}
	return p, nil
}

// RecordStepStart marks a step running. jsonb_set touches only this step's
// entry, so concurrent writers never clobber sibling steps.
func (s *PostgresStore) RecordStepStart(ctx context.Context, entityID, step string, at time.Time) error {
	state := model.StepState{Status: model.StepRunning, StartedAt: &at}
	return s.writeStep(ctx, entityID, step, state)
}

// RecordStepResult writes a step's terminal (or reset) state.
func (s *PostgresStore) RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error {
	return s.writeStep(ctx, entityID, step, state)
}

func (s *PostgresStore) writeStep(ctx context.Context, entityID, step string, state model.StepState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal step state")
	}
	tag, err := s.pool.Exec(ctx, "record_step", step, payload, time.Now().UTC(), entityID)
	if err != nil {
		return eris.Wrapf(err, "postgres: record step %s", step)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExtractionStatus writes the derived overall status.
func (s *PostgresStore) SetExtractionStatus(ctx context.Context, entityID string, status model.ExtractionStatus) error {
	tag, err := s.pool.Exec(ctx, "set_status", string(status), time.Now().UTC(), entityID)
	if err != nil {
		return eris.Wrap(err, "postgres: set extraction status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanEntity reads a single-row query result.
func (s *PostgresStore) scanEntity(row pgx.Row) (*model.Entity, error) {
	e, err := scanEntityColumns(row.Scan)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan entity")
	}
	return e, nil
}

func (s *PostgresStore) scanEntityRow(rows pgx.Rows) (*model.Entity, error) {
	e, err := scanEntityColumns(rows.Scan)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entity row")
	}
	return e, nil
}

// scanEntityColumns decodes the record blob, then overwrites it with the
// authoritative column values.
func scanEntityColumns(scan func(dest ...any) error) (*model.Entity, error) {
	var (
		e           model.Entity
		typ, status string
		record      []byte
		progress    []byte
	)
	if err := scan(&e.ID, &typ, &e.PlaceID, &e.Name, &e.Slug, &record,
		&status, &progress, &e.Published, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	id, placeID, name, slug := e.ID, e.PlaceID, e.Name, e.Slug
	published, createdAt, updatedAt := e.Published, e.CreatedAt, e.UpdatedAt
	if len(record) > 0 {
		if err := json.Unmarshal(record, &e); err != nil {
			return nil, eris.Wrap(err, "unmarshal record")
		}
	}
	e.ID, e.PlaceID, e.Name, e.Slug = id, placeID, name, slug
	e.Published, e.CreatedAt, e.UpdatedAt = published, createdAt, updatedAt
	e.Type = model.EntityType(typ)
	e.ExtractionStatus = model.ExtractionStatus(status)

	e.Progress = nil
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &e.Progress); err != nil {
			return nil, eris.Wrap(err, "unmarshal progress")
		}
	}
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}
	return &e, nil
}

// marshalRecord serializes the entity's descriptive and raw fields. The
// progress map and status are excluded; they live in their own columns.
func marshalRecord(e *model.Entity) ([]byte, error) {
	cp := *e
	cp.Progress = nil
	record, err := json.Marshal(&cp)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal record")
	}
	return record, nil
}
