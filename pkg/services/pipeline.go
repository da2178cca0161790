package services

import (
	"context"
	"net/http"
)

// PipelineClient talks to the message send pipeline. It satisfies
// fallback.Pipeline.
type PipelineClient struct {
	*Client
}

// NewPipelineClient creates a message-pipeline client.
func NewPipelineClient(baseURL string) *PipelineClient {
	return &PipelineClient{Client: NewClient(baseURL)}
}

// ResendMessage triggers a fresh send of text using whatever model is
// currently bound. Failures are not recovered here; a replay failure is a
// new top-level send failure.
func (c *PipelineClient) ResendMessage(ctx context.Context, text string) error {
	body := struct {
		Text string `json:"text"`
	}{Text: text}
	return c.doJSON(ctx, http.MethodPost, "/messages/resend", body, nil)
}
