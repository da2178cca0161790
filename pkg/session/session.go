// Package session carries the authentication and credit state for one chat
// session. The coordinator treats these as inputs supplied at startup by the
// auth backend; it never derives them from UI structure.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is the authenticated-user view the coordinator operates on.
// CreditBalance is in account currency units and never negative.
type Session struct {
	ID            string
	Authenticated bool
	CreditBalance float64
}

// CanSpend reports whether the session has credit available.
func (s Session) CanSpend() bool {
	return s.Authenticated && s.CreditBalance > 0
}

// Anonymous returns an unauthenticated session with a fresh ID.
func Anonymous() Session {
	return Session{ID: NewID()}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a sortable unique session identifier.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
