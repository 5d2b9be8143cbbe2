package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	t.Run("no filters", func(t *testing.T) {
		t.Parallel()
		q, args := buildQuery("peek_requests", Filter{}.Normalize(), now)
		assert.Equal(t, "SELECT doc FROM peek_requests WHERE expires_at > $1 ORDER BY id DESC LIMIT 100", q)
		assert.Equal(t, []any{now}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		t.Parallel()
		from := now.Add(-time.Hour)
		to := now.Add(time.Hour)
		f := Filter{
			Method:      "post",
			StatusClass: 5,
			From:        from,
			To:          to,
			BeforeID:    "01HZZZZZZZZZZZZZZZZZZZZZZZ",
			Q:           "50%_off",
			Limit:       20,
		}.Normalize()

		q, args := buildQuery("t", f, now)
		assert.Equal(t,
			"SELECT doc FROM t WHERE expires_at > $1 AND method = $2 AND status >= $3 AND status < $4"+
				" AND recorded_at >= $5 AND recorded_at <= $6 AND id < $7"+
				" AND (url ILIKE $8 OR route ILIKE $8 OR (doc->'body')::text ILIKE $8)"+
				" ORDER BY id DESC LIMIT 20",
			q)
		assert.Equal(t, []any{now, "POST", 500, 600, from, to, "01HZZZZZZZZZZZZZZZZZZZZZZZ", `%50\%\_off%`}, args)
	})
}

func TestNewPostgres_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgres(nil, PostgresOptions{Table: "bad; DROP TABLE x"})
	assert.Error(t, err)

	p, err := NewPostgres(nil, PostgresOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, p.table)
	assert.Equal(t, DefaultTTL, p.ttl)
	assert.False(t, p.Ready(), "not ready before Migrate")

	ctx := context.Background()
	_, err = p.Query(ctx, Filter{})
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = p.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = p.DeleteAll(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, p.Persist(ctx, record(1, "GET", 200, time.Now())), ErrNotReady)
}

func TestSchema(t *testing.T) {
	t.Parallel()

	stmts := schema("peek_requests")
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "doc         JSONB NOT NULL")
	assert.Contains(t, stmts[0], "expires_at  TIMESTAMPTZ NOT NULL")
	assert.Contains(t, stmts[1], "peek_requests_date_idx")
}
