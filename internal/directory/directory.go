// Package directory answers the relationship questions the realtime layer
// needs from the application database: who a user's partner is, and whether
// a user may read a journal.
package directory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNoPartner is returned for users that are not linked to a partner.
var ErrNoPartner = errors.New("user has no partner")

// PartnerLookup resolves a user to their linked partner.
type PartnerLookup interface {
	PartnerOf(ctx context.Context, userID string) (string, error)
}

// JournalAccess decides whether a user may subscribe to a journal.
type JournalAccess interface {
	CanAccessJournal(ctx context.Context, userID, journalID string) (bool, error)
}

// AllowAll grants access to every journal. It is used when no database is
// configured.
type AllowAll struct{}

// CanAccessJournal implements JournalAccess.
func (AllowAll) CanAccessJournal(context.Context, string, string) (bool, error) {
	return true, nil
}

// Static is an in-memory directory for development and tests.
type Static struct {
	mu       sync.RWMutex
	partners map[string]string
	journals map[string]map[string]struct{}
}

// NewStatic creates an empty Static directory.
func NewStatic() *Static {
	return &Static{
		partners: make(map[string]string),
		journals: make(map[string]map[string]struct{}),
	}
}

// Link records a and b as partners of each other.
func (s *Static) Link(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[a] = b
	s.partners[b] = a
}

// Grant lets the users read journalID.
func (s *Static) Grant(journalID string, users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.journals[journalID]
	if !ok {
		members = make(map[string]struct{})
		s.journals[journalID] = members
	}
	for _, u := range users {
		members[u] = struct{}{}
	}
}

// PartnerOf implements PartnerLookup.
func (s *Static) PartnerOf(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partner, ok := s.partners[userID]
	if !ok {
		return "", errors.Wrapf(ErrNoPartner, "user %s", userID)
	}
	return partner, nil
}

// CanAccessJournal implements JournalAccess. Journals that were never granted
// are open to everybody.
func (s *Static) CanAccessJournal(_ context.Context, userID, journalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.journals[journalID]
	if !ok {
		return true, nil
	}
	_, ok = members[userID]
	return ok, nil
}
