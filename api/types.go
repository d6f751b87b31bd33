package api

import (
	"context"

	"retro-api/session"
)

const mutationMaxSize = 64 * 1024 // 64 KiB

// Boards resolves board ids to live sessions.
type Boards interface {
	Get(ctx context.Context, boardID string) (*session.Session, error)
}

// Authenticator is implemented by types able to extract voter IDs from
// Authorization headers.
type Authenticator interface {
	VoterIDFromAuthHeader(string) (string, error)
}

// POST /api/boards/:board/mutations response body.
type mutationResponse struct {
	BoardID  string `json:"boardId"`
	Revision uint64 `json:"revision"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
