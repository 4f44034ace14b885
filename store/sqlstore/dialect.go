package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/gold-engine/gold"
)

// dialect holds the few places SQLite and PostgreSQL differ.
type dialect struct {
	name      string
	txOptions *sql.TxOptions
	dollar    bool // $n placeholders
	isUnique  func(error) bool
	isBusy    func(error) bool
}

var sqliteDialect = &dialect{
	name: "sqlite",
	isUnique: func(err error) bool {
		var se sqlite3.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	},
	isBusy: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
	},
}

var postgresDialect = &dialect{
	name:      "postgres",
	txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	dollar:    true,
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	isBusy: func(err error) bool {
		var pgErr *pgconn.PgError
		// serialization_failure, deadlock_detected, lock_not_available
		return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03")
	},
}

// rebind rewrites '?' placeholders to $1..$n for PostgreSQL.
func (d *dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// mapError converts lock contention into a retryable conflict and wraps the rest.
func (d *dialect) mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.isBusy(err) {
		return &gold.ConcurrencyConflictError{Resource: op, Reason: err.Error()}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
