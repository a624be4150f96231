package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// Open connects with the pgx driver and pool defaults sized for short analytical reads.
func Open(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLStore{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Query runs a read statement. Each call issues a fresh statement; nothing is cached.
func (s *SQLStore) Query(ctx context.Context, q Query) (Result, error) {
	rows, err := s.db.QueryContext(ctx, q.Statement, q.Args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
	}

	res := Result{Rows: []Record{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
	}
	return res, nil
}

// Exec runs a write statement.
func (s *SQLStore) Exec(ctx context.Context, q Query) (int64, error) {
	res, err := s.db.ExecContext(ctx, q.Statement, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrQuery, q.Name, err)
	}
	return n, nil
}

// normalizeValue makes driver values JSON friendly.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}
