package auth

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// OwnershipChecker answers whether subject owns contactID. Results are never cached.
type OwnershipChecker interface {
	Owns(ctx context.Context, subject string, contactID int64) (bool, error)
}

// OwnershipFunc adapts a function to OwnershipChecker.
type OwnershipFunc func(ctx context.Context, subject string, contactID int64) (bool, error)

func (f OwnershipFunc) Owns(ctx context.Context, subject string, contactID int64) (bool, error) {
	return f(ctx, subject, contactID)
}

// SQLOwnership reads the user-profile store: one row per (uid, contact_id) link.
type SQLOwnership struct {
	db *sql.DB
}

var _ OwnershipChecker = (*SQLOwnership)(nil)

func NewSQLOwnership(db *sql.DB) *SQLOwnership {
	return &SQLOwnership{db: db}
}

func (s *SQLOwnership) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Owns compares the stored contact ids of subject against contactID as text,
// since profile rows may hold the id as a string.
func (s *SQLOwnership) Owns(ctx context.Context, subject string, contactID int64) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `select contact_id from users where uid = $1`, subject)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	want := strconv.FormatInt(contactID, 10)
	for rows.Next() {
		var stored sql.NullString
		if err := rows.Scan(&stored); err != nil {
			return false, err
		}
		if stored.Valid && strings.TrimSpace(stored.String) == want {
			return true, nil
		}
	}
	return false, rows.Err()
}
