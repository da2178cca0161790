package services

import (
	"context"
	"net/http"

	"github.com/odvcencio/switchboard/pkg/session"
)

// SessionClient fetches the authenticated session from the chat backend.
type SessionClient struct {
	*Client
}

// NewSessionClient creates a session client.
func NewSessionClient(baseURL string) *SessionClient {
	return &SessionClient{Client: NewClient(baseURL)}
}

// CurrentSession returns the backend's view of the caller. An unauthenticated
// caller is a normal response, not an error.
func (c *SessionClient) CurrentSession(ctx context.Context) (session.Session, error) {
	var payload struct {
		ID            string  `json:"id"`
		Authenticated bool    `json:"authenticated"`
		CreditBalance float64 `json:"credit_balance"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/session", nil, &payload); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		ID:            payload.ID,
		Authenticated: payload.Authenticated,
		CreditBalance: payload.CreditBalance,
	}, nil
}
