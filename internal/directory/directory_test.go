package directory

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE users (id TEXT PRIMARY KEY, partner_id TEXT);
CREATE TABLE journals (id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, partner_id TEXT);
INSERT INTO users (id, partner_id) VALUES ('1', '2'), ('2', '1'), ('3', NULL);
INSERT INTO journals (id, owner_id, partner_id) VALUES ('42', '1', '2'), ('43', '3', NULL);
`

func newSQLite(t *testing.T) *SQL {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	s := NewSQL(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQL_PartnerOf(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	partner, err := s.PartnerOf(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "2", partner)

	_, err = s.PartnerOf(ctx, "3")
	assert.ErrorIs(t, err, ErrNoPartner)

	_, err = s.PartnerOf(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoPartner)
}

func TestSQL_CanAccessJournal(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	tests := []struct {
		user, journal string
		want          bool
	}{
		{"1", "42", true},
		{"2", "42", true},
		{"3", "42", false},
		{"3", "43", true},
		{"1", "missing", false},
	}
	for _, tt := range tests {
		got, err := s.CanAccessJournal(ctx, tt.user, tt.journal)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "user %s journal %s", tt.user, tt.journal)
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()
	s.Link("a", "b")
	s.Grant("j1", "a", "b")

	partner, err := s.PartnerOf(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "a", partner)

	_, err = s.PartnerOf(ctx, "c")
	assert.ErrorIs(t, err, ErrNoPartner)

	ok, _ := s.CanAccessJournal(ctx, "c", "j1")
	assert.False(t, ok)
	ok, _ = s.CanAccessJournal(ctx, "c", "open")
	assert.True(t, ok)

	ok, _ = AllowAll{}.CanAccessJournal(ctx, "anyone", "anything")
	assert.True(t, ok)
}
