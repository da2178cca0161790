package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/odvcencio/switchboard/pkg/reclaim"
)

// ConversationClient talks to the conversation service. It satisfies
// reclaim.ConversationService.
type ConversationClient struct {
	*Client
}

// NewConversationClient creates a conversation-service client.
func NewConversationClient(baseURL string) *ConversationClient {
	return &ConversationClient{Client: NewClient(baseURL)}
}

// CleanupEmptyConversations asks the backend to delete conversations with no
// messages. The request is idempotent server-side; repeated calls after a
// clean sweep report a zero count.
func (c *ConversationClient) CleanupEmptyConversations(ctx context.Context) (reclaim.CleanupResult, error) {
	var result reclaim.CleanupResult
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/cleanup-empty", nil, &result); err != nil {
		return reclaim.CleanupResult{}, err
	}
	return result, nil
}

// RefreshConversationList asks the backend to rebuild the cached
// conversation list the UI reads from.
func (c *ConversationClient) RefreshConversationList(ctx context.Context, force bool) error {
	path := "/conversations/refresh"
	if force {
		path += "?" + url.Values{"force": {"true"}}.Encode()
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}
