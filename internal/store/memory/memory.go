// Package memory is an in-process store.Store for tests and throwaway runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/store"
)

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	nextID int64
	now    func() time.Time

	users     map[int64]store.User
	tokens    map[string]store.Token
	documents map[int64]store.Document
	chunks    map[int64][]store.Chunk // by document ID, in position order
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[int64]store.User),
		tokens:    make(map[string]store.Token),
		documents: make(map[int64]store.Document),
		chunks:    make(map[int64][]store.Chunk),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, email, passwordHash string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return nil, fmt.Errorf("%w: email %s", store.ErrConflict, email)
		}
	}
	u := store.User{ID: s.id(), Email: email, PasswordHash: passwordHash, CreatedAt: s.now().UTC()}
	s.users[u.ID] = u
	return &u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UserByID(_ context.Context, id int64) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	for docID, d := range s.documents {
		if d.UserID == id {
			delete(s.documents, docID)
			delete(s.chunks, docID)
		}
	}
	for h, t := range s.tokens {
		if t.UserID == id {
			delete(s.tokens, h)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) SaveToken(_ context.Context, token store.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[token.UserID]; !ok {
		return store.ErrNotFound
	}
	s.tokens[token.Hash] = token
	return nil
}

func (s *Store) TokenByHash(_ context.Context, hash string) (*store.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) DeleteToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hash)
	return nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDocument(_ context.Context, doc *store.Document, chunks []store.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[doc.UserID]; !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, doc.UserID)
	}
	doc.ID = s.id()
	doc.CreatedAt = s.now().UTC()
	s.documents[doc.ID] = *doc

	stored := make([]store.Chunk, len(chunks))
	for i := range chunks {
		chunks[i].ID = s.id()
		chunks[i].DocumentID = doc.ID
		c := chunks[i]
		c.Embedding = slices.Clone(c.Embedding)
		stored[i] = c
	}
	slices.SortStableFunc(stored, func(a, b store.Chunk) int { return a.Position - b.Position })
	s.chunks[doc.ID] = stored
	return nil
}

func (s *Store) ListDocuments(_ context.Context, userID int64) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Document
	for _, d := range s.documents {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b store.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (s *Store) GetDocument(_ context.Context, userID, documentID int64) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[documentID]
	if !ok || d.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) DeleteDocument(_ context.Context, userID, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.documents, documentID)
	delete(s.chunks, documentID)
	return nil
}

func (s *Store) ListChunks(_ context.Context, userID int64) ([]store.ChunkRecord, error) {
	return s.chunksWhere(userID, func(store.Chunk) bool { return true }, 0), nil
}

func (s *Store) FindChunksContaining(_ context.Context, userID int64, substr string, limit int) ([]store.ChunkRecord, error) {
	return s.chunksWhere(userID, func(c store.Chunk) bool { return strings.Contains(c.Text, substr) }, limit), nil
}

// chunksWhere walks the user's documents in ID order. limit <= 0 is unbounded.
func (s *Store) chunksWhere(userID int64, keep func(store.Chunk) bool, limit int) []store.ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docIDs []int64
	for id, d := range s.documents {
		if d.UserID == userID {
			docIDs = append(docIDs, id)
		}
	}
	slices.Sort(docIDs)

	var out []store.ChunkRecord
	for _, id := range docIDs {
		filename := s.documents[id].Filename
		for _, c := range s.chunks[id] {
			if !keep(c) {
				continue
			}
			out = append(out, store.ChunkRecord{Chunk: c, Filename: filename})
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}
