package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanSpend(t *testing.T) {
	cases := []struct {
		name string
		s    Session
		want bool
	}{
		{"authenticated with credit", Session{Authenticated: true, CreditBalance: 1.25}, true},
		{"authenticated exhausted", Session{Authenticated: true, CreditBalance: 0}, false},
		{"anonymous", Session{Authenticated: false, CreditBalance: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.s.CanSpend())
		})
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 26)
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}

func TestAnonymous(t *testing.T) {
	s := Anonymous()
	assert.False(t, s.Authenticated)
	assert.NotEmpty(t, s.ID)
}
