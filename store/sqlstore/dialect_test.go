package sqlstore

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/warp/gold-engine/gold"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM ownerships WHERE product_id = ? AND branch_id = ? AND is_active = ?`

	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t,
		`SELECT id FROM ownerships WHERE product_id = $1 AND branch_id = $2 AND is_active = $3`,
		postgresDialect.rebind(q))
}

func TestMapError_PostgresSerializationIsRetryable(t *testing.T) {
	err := postgresDialect.mapError("update ownership", &pgconn.PgError{Code: "40001"})
	assert.True(t, gold.IsRetryable(err))

	other := postgresDialect.mapError("update ownership", errors.New("syntax"))
	assert.False(t, gold.IsRetryable(other))
	assert.Contains(t, other.Error(), "failed to update ownership")

	assert.True(t, postgresDialect.isUnique(&pgconn.PgError{Code: "23505"}))
	assert.Nil(t, postgresDialect.mapError("noop", nil))
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	a, err := parseTime("2026-03-01T09:00:00.000000001Z")
	assert.NoError(t, err)
	b, err := parseTime("2026-03-01T09:00:00.100000000Z")
	assert.NoError(t, err)

	assert.True(t, a.Before(b))
	assert.Less(t, formatTime(a), formatTime(b))

	assert.Equal(t, "", formatTime(time.Time{}))
	zero, err := parseTime("")
	assert.NoError(t, err)
	assert.True(t, zero.IsZero())
}
