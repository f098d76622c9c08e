package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/finrecon/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS facts (
	company      TEXT NOT NULL,
	period       TEXT NOT NULL,
	line_item_id TEXT NOT NULL,
	scenario     TEXT NOT NULL,
	record       TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company, period, line_item_id, scenario)
);

CREATE TABLE IF NOT EXISTS metrics (
	company   TEXT NOT NULL,
	period    TEXT NOT NULL,
	metric_id TEXT NOT NULL,
	value     REAL NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	inputs    TEXT,
	PRIMARY KEY (company, period, metric_id)
);

CREATE TABLE IF NOT EXISTS extraction_snapshots (
	id           TEXT PRIMARY KEY,
	company      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company, filename, content_hash)
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	fingerprint TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_facts_company ON facts(company);
CREATE INDEX IF NOT EXISTS idx_snapshots_company_filename ON extraction_snapshots(company, filename);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetFacts(ctx context.Context, company, period string) ([]model.LineItemFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM facts WHERE company = ? AND period = ? ORDER BY line_item_id, scenario`,
		company, period,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get facts %s %s", company, period)
	}
	defer rows.Close() //nolint:errcheck

	var facts []model.LineItemFact
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		f, err := unmarshalFact([]byte(record))
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: get facts iterate")
}

func (s *SQLiteStore) PutFacts(ctx context.Context, company string, facts []model.LineItemFact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin put facts")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, f := range facts {
		key, record, err := factRow(company, f)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO facts (company, period, line_item_id, scenario, record, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company, period, line_item_id, scenario)
			 DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
			key[0], key[1], key[2], key[3], string(record), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert fact %s", f.Key())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit put facts")
}

func (s *SQLiteStore) ListPeriods(ctx context.Context, company string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT period FROM facts WHERE company = ? ORDER BY period`,
		company,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list periods %s", company)
	}
	defer rows.Close() //nolint:errcheck

	var periods []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan period")
		}
		periods = append(periods, p)
	}
	return periods, eris.Wrap(rows.Err(), "sqlite: list periods iterate")
}

func (s *SQLiteStore) GetMetrics(ctx context.Context, company, period string) ([]model.ComputedMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_id, value, unit, inputs FROM metrics WHERE company = ? AND period = ? ORDER BY metric_id`,
		company, period,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get metrics %s %s", company, period)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ComputedMetric
	for rows.Next() {
		m := model.ComputedMetric{Period: period}
		var inputs sql.NullString
		if err := rows.Scan(&m.MetricID, &m.Value, &m.Unit, &inputs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		if m.Inputs, err = unmarshalInputs([]byte(inputs.String)); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get metrics iterate")
}

func (s *SQLiteStore) ReplaceMetrics(ctx context.Context, company, period string, metrics []model.ComputedMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace metrics")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM metrics WHERE company = ? AND period = ?`, company, period); err != nil {
		return eris.Wrapf(err, "sqlite: delete metrics %s %s", company, period)
	}
	for _, m := range metrics {
		inputs, err := marshal(m.Inputs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO metrics (company, period, metric_id, value, unit, inputs) VALUES (?, ?, ?, ?, ?, ?)`,
			company, period, m.MetricID, m.Value, m.Unit, string(inputs),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert metric %s", m.MetricID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace metrics")
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.ExtractionSnapshot) (bool, error) {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_snapshots (id, company, filename, content_hash, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company, filename, content_hash) DO NOTHING`,
		snap.ID, snap.Company, snap.Filename, snap.ContentHash, string(data), snap.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: save snapshot %s", snap.Filename)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, company, filename string) (*model.ExtractionSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM extraction_snapshots WHERE company = ? AND filename = ?
		 ORDER BY rowid DESC LIMIT 1`,
		company, filename,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest snapshot %s", filename)
	}
	return unmarshalSnapshot([]byte(data))
}

func (s *SQLiteStore) GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CachedExtraction, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM extraction_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached extraction")
	}
	return unmarshalCached([]byte(data))
}

func (s *SQLiteStore) SetCachedExtraction(ctx context.Context, entry model.CachedExtraction) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (fingerprint, filename, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET filename = excluded.filename, data = excluded.data, created_at = excluded.created_at`,
		entry.Fingerprint, entry.Filename, string(data), entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: set cached extraction")
}
