package http

import (
	"time"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/llm"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DeleteAccountRequest re-confirms the password before deletion.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// OKResponse acknowledges a mutation with no other payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// DocumentResponse is one entry of GET /api/documents.
type DocumentResponse struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// AskRequest is the body of both ask endpoints.
type AskRequest struct {
	Question    string                 `json:"question"`
	TopK        int                    `json:"top_k,omitempty"`
	PrevContext string                 `json:"prev_context,omitempty"`
	History     []llm.ConversationTurn `json:"history,omitempty"`
}

// AskResponse is the body returned by POST /api/knowledge/ask.
type AskResponse struct {
	Answer  string          `json:"answer"`
	Sources []answer.Source `json:"sources"`
}
