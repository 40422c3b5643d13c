package directory

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	// Postgres driver for the production database.
	_ "github.com/lib/pq"
)

const (
	partnerQuery = `SELECT partner_id FROM users WHERE id = ? AND partner_id IS NOT NULL`
	journalQuery = `SELECT COUNT(1) FROM journals WHERE id = ? AND (owner_id = ? OR partner_id = ?)`
)

// SQL reads partners and journal membership from the application database.
type SQL struct {
	db *sqlx.DB
}

// Open connects to the database identified by driver and dsn.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s database", driver)
	}
	return NewSQL(db), nil
}

// NewSQL wraps an existing connection pool.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// PartnerOf implements PartnerLookup.
func (s *SQL) PartnerOf(ctx context.Context, userID string) (string, error) {
	var partner string
	err := s.db.GetContext(ctx, &partner, s.db.Rebind(partnerQuery), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(ErrNoPartner, "user %s", userID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "query partner of %s", userID)
	}
	return partner, nil
}

// CanAccessJournal implements JournalAccess.
func (s *SQL) CanAccessJournal(ctx context.Context, userID, journalID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(journalQuery), journalID, userID, userID); err != nil {
		return false, errors.Wrapf(err, "query access of %s to journal %s", userID, journalID)
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return errors.Wrap(s.db.Close(), "close database")
}
