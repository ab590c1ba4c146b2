// Package store defines persistence for users, bearer tokens, documents
// and their embedded chunks.
//
// Every document query is scoped by user ID; a document owned by someone
// else is reported as ErrNotFound. Implementations live in the memory,
// sqlite and postgres subpackages and share the conformance suite in
// storetest.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation, such as a taken email.
	ErrConflict = errors.New("already exists")
)

// User is an account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Token is a stored bearer token. Only the SHA-256 hash of the token is kept.
type Token struct {
	Hash      string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Document is an uploaded file.
type Document struct {
	ID        int64
	UserID    int64
	Filename  string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Chunk is one embedded window of a document's text. Page is 1-based and
// only known for paginated formats.
type Chunk struct {
	ID         int64
	DocumentID int64
	Position   int
	Text       string
	Embedding  []float32
	Page       *int
}

// ChunkRecord is a chunk joined with its document's filename.
type ChunkRecord struct {
	Chunk
	Filename string
}

// Users persists accounts.
type Users interface {
	// CreateUser returns ErrConflict when the email is taken.
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	// DeleteUser removes the user with all documents, chunks and tokens.
	DeleteUser(ctx context.Context, id int64) error
}

// Tokens persists hashed bearer tokens.
type Tokens interface {
	SaveToken(ctx context.Context, token Token) error
	TokenByHash(ctx context.Context, hash string) (*Token, error)
	DeleteToken(ctx context.Context, hash string) error
	// DeleteExpiredTokens removes tokens expired at now and returns the count.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Documents persists documents and chunks.
type Documents interface {
	// CreateDocument inserts doc and its chunks atomically, assigning IDs
	// and CreatedAt in place.
	CreateDocument(ctx context.Context, doc *Document, chunks []Chunk) error
	// ListDocuments returns the user's documents, newest first.
	ListDocuments(ctx context.Context, userID int64) ([]Document, error)
	GetDocument(ctx context.Context, userID, documentID int64) (*Document, error)
	// DeleteDocument removes the document and its chunks.
	DeleteDocument(ctx context.Context, userID, documentID int64) error
	// ListChunks returns every chunk of the user's documents ordered by
	// document then position.
	ListChunks(ctx context.Context, userID int64) ([]ChunkRecord, error)
	// FindChunksContaining returns up to limit chunks whose text contains
	// substr (case-sensitive), in ListChunks order.
	FindChunksContaining(ctx context.Context, userID int64, substr string, limit int) ([]ChunkRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	Tokens
	Documents
	Close() error
}
