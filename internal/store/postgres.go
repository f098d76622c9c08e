package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finrecon/internal/db"
	"github.com/sells-group/finrecon/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS facts (
	company      TEXT NOT NULL,
	period       TEXT NOT NULL,
	line_item_id TEXT NOT NULL,
	scenario     TEXT NOT NULL,
	record       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company, period, line_item_id, scenario)
);

CREATE TABLE IF NOT EXISTS metrics (
	company   TEXT NOT NULL,
	period    TEXT NOT NULL,
	metric_id TEXT NOT NULL,
	value     DOUBLE PRECISION NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	inputs    JSONB,
	PRIMARY KEY (company, period, metric_id)
);

CREATE TABLE IF NOT EXISTS extraction_snapshots (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company, filename, content_hash)
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	fingerprint TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facts_company ON facts(company);
CREATE INDEX IF NOT EXISTS idx_snapshots_company_filename ON extraction_snapshots(company, filename, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetFacts(ctx context.Context, company, period string) ([]model.LineItemFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM facts WHERE company = $1 AND period = $2 ORDER BY line_item_id, scenario`,
		company, period,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get facts %s %s", company, period)
	}
	defer rows.Close()

	var facts []model.LineItemFact
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		f, err := unmarshalFact(record)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: get facts iterate")
}

var factColumns = []string{"company", "period", "line_item_id", "scenario", "record", "updated_at"}

func (s *PostgresStore) PutFacts(ctx context.Context, company string, facts []model.LineItemFact) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		key, record, err := factRow(company, f)
		if err != nil {
			return err
		}
		rows = append(rows, []any{key[0], key[1], key[2], key[3], string(record), now})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "facts",
		Columns:      factColumns,
		ConflictKeys: factColumns[:4],
	}, rows)
	return eris.Wrapf(err, "postgres: put facts %s", company)
}

func (s *PostgresStore) ListPeriods(ctx context.Context, company string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT period FROM facts WHERE company = $1 ORDER BY period`, company,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list periods %s", company)
	}
	periods, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return periods, eris.Wrap(err, "postgres: list periods iterate")
}

func (s *PostgresStore) GetMetrics(ctx context.Context, company, period string) ([]model.ComputedMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric_id, value, unit, inputs FROM metrics WHERE company = $1 AND period = $2 ORDER BY metric_id`,
		company, period,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get metrics %s %s", company, period)
	}
	defer rows.Close()

	var out []model.ComputedMetric
	for rows.Next() {
		m := model.ComputedMetric{Period: period}
		var inputs []byte
		if err := rows.Scan(&m.MetricID, &m.Value, &m.Unit, &inputs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		if m.Inputs, err = unmarshalInputs(inputs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get metrics iterate")
}

var metricColumns = []string{"company", "period", "metric_id", "value", "unit", "inputs"}

func (s *PostgresStore) ReplaceMetrics(ctx context.Context, company, period string, metrics []model.ComputedMetric) error {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		inputs, err := marshal(m.Inputs)
		if err != nil {
			return err
		}
		rows = append(rows, []any{company, period, m.MetricID, m.Value, m.Unit, string(inputs)})
	}
	_, err := db.ReplaceScoped(ctx, s.pool, "metrics",
		db.Scope{Columns: []string{"company", "period"}, Values: []any{company, period}},
		metricColumns, rows)
	return eris.Wrapf(err, "postgres: replace metrics %s %s", company, period)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.ExtractionSnapshot) (bool, error) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(snap)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_snapshots (id, company, filename, content_hash, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (company, filename, content_hash) DO NOTHING`,
		snap.ID, snap.Company, snap.Filename, snap.ContentHash, string(data), snap.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: save snapshot %s", snap.Filename)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, company, filename string) (*model.ExtractionSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM extraction_snapshots WHERE company = $1 AND filename = $2
		 ORDER BY created_at DESC LIMIT 1`,
		company, filename,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest snapshot %s", filename)
	}
	return unmarshalSnapshot(data)
}

func (s *PostgresStore) GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CachedExtraction, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM extraction_cache WHERE fingerprint = $1`, fingerprint,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached extraction")
	}
	return unmarshalCached(data)
}

func (s *PostgresStore) SetCachedExtraction(ctx context.Context, entry model.CachedExtraction) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_cache (fingerprint, filename, data, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET filename = EXCLUDED.filename, data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		entry.Fingerprint, entry.Filename, string(data), entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: set cached extraction")
}
