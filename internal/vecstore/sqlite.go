package vecstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"semsearch/internal/errkind"
)

// SQLite is a single-file Store for local deployments. Vectors are stored as
// JSON and distances computed in-process; fine for small datasets, not a
// substitute for pgvector at scale.
type SQLite struct {
	db     *sql.DB
	dim    int
	metric Metric
}

const sqliteSchemaVersion = 1

func NewSQLite(path string, dim int, metric Metric) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "open sqlite")
	}
	s := &SQLite{db: db, dim: dim, metric: metric}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "ensure migrations table")
	}
	var cnt int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`); err != nil {
			return errkind.Wrap(errkind.StoreUnavailable, err, "seed migrations table")
		}
	}
	var cur int
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&cur); err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "read schema version")
	}
	for v := cur + 1; v <= sqliteSchemaVersion; v++ {
		if err := s.up(ctx, v); err != nil {
			return errkind.Wrap(errkind.StoreUnavailable, err, fmt.Sprintf("migrate up to v%d", v))
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v); err != nil {
			return errkind.Wrap(errkind.StoreUnavailable, err, "record schema version")
		}
	}
	return nil
}

func (s *SQLite) up(ctx context.Context, v int) error {
	switch v {
	case 1:
		_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			body TEXT NOT NULL DEFAULT '',
			dim INTEGER NOT NULL,
			embedding TEXT,
			updated_at TEXT NOT NULL
		)`)
		return err
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, id string, vec []float32) error {
	if err := checkDim(vec, s.dim); err != nil {
		return err
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "encode vector")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	// single statement so readers never observe a missing row mid-replace
	_, err = s.db.ExecContext(ctx, `INSERT INTO items(id, dim, embedding, updated_at) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET dim=excluded.dim, embedding=excluded.embedding, updated_at=excluded.updated_at`,
		id, len(vec), string(vecJSON), now)
	if err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "upsert item")
	}
	return nil
}

func (s *SQLite) QueryNearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if err := checkQuery(vec, s.dim, k); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM items WHERE embedding IS NOT NULL AND dim=?`, s.dim)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "scan items")
	}
	defer rows.Close()
	var cands []Neighbor
	for rows.Next() {
		var id, vecStr string
		if err := rows.Scan(&id, &vecStr); err != nil {
			return nil, errkind.Wrap(errkind.StoreUnavailable, err, "scan row")
		}
		var stored []float32
		if err := json.Unmarshal([]byte(vecStr), &stored); err != nil || len(stored) != s.dim {
			continue
		}
		cands = append(cands, Neighbor{ID: id, Distance: s.metric.Distance(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "scan items")
	}
	return rank(cands, k), nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "store ping failed")
	}
	return nil
}

func (s *SQLite) Close() { _ = s.db.Close() }

var _ Store = (*SQLite)(nil)
