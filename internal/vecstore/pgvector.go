package vecstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"semsearch/internal/errkind"
)

// PG is the pgvector-backed Store. It owns a bounded connection pool; pool
// acquisition waits are capped, and transient connection failures are retried
// a bounded number of times before being surfaced as store_unavailable.
type PG struct {
	pool           *pgxpool.Pool
	dim            int
	metric         Metric
	acquireTimeout time.Duration
	retries        int
}

type PGOptions struct {
	DSN            string
	Dim            int
	Metric         Metric
	PoolSize       int
	AcquireTimeout time.Duration
	Retries        int
}

func NewPG(ctx context.Context, opts PGOptions) (*PG, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "parse database url")
	}
	cfg.MaxConns = int32(opts.PoolSize)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "create connection pool")
	}
	s := &PG{
		pool:           pool,
		dim:            opts.Dim,
		metric:         opts.Metric,
		acquireTimeout: opts.AcquireTimeout,
		retries:        opts.Retries,
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PG) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			body TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS items_embedding_idx ON items USING hnsw (embedding %s)`, s.metric.indexOps()),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return errkind.Wrap(errkind.StoreUnavailable, err, "ensure schema")
		}
	}
	return nil
}

func (s *PG) Upsert(ctx context.Context, id string, vec []float32) error {
	if err := checkDim(vec, s.dim); err != nil {
		return err
	}
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO items (id, embedding, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
			id, pgvector.NewVector(vec))
		return err
	})
}

func (s *PG) QueryNearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if err := checkQuery(vec, s.dim, k); err != nil {
		return nil, err
	}
	var out []Neighbor
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		q := fmt.Sprintf(
			`SELECT id, embedding %s $1 AS distance
			 FROM items WHERE embedding IS NOT NULL
			 ORDER BY distance ASC, id ASC LIMIT $2`, s.metric.operator())
		rows, err := conn.Query(ctx, q, pgvector.NewVector(vec), k)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var n Neighbor
			if err := rows.Scan(&n.ID, &n.Distance); err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PG) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "store ping failed")
	}
	return nil
}

func (s *PG) Close() { s.pool.Close() }

// withConn acquires a pooled connection within the configured wait bound and
// runs op on it under the caller's context. Transient connection failures are
// retried with backoff a bounded number of times.
func (s *PG) withConn(ctx context.Context, op func(ctx context.Context, conn *pgxpool.Conn) error) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.attempt(ctx, op)
		if err == nil {
			return nil
		}
		var ek *errkind.Error
		if errors.As(err, &ek) {
			// pool_exhausted and dimension errors are not retried here
			return err
		}
		if !transient(err) {
			return errkind.Wrap(errkind.StoreUnavailable, err, "store operation failed")
		}
		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.StoreUnavailable, ctx.Err(), "store operation canceled")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return errkind.Wrap(errkind.StoreUnavailable, err, "store unreachable after retries")
}

func (s *PG) attempt(ctx context.Context, op func(ctx context.Context, conn *pgxpool.Conn) error) error {
	acqCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.pool.Acquire(acqCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return errkind.Wrap(errkind.PoolExhausted, err, "no pooled connection available within wait bound")
		}
		return err
	}
	defer conn.Release()
	return op(ctx, conn)
}

func transient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ Store = (*PG)(nil)
