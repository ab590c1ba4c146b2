// Package storetest is a conformance suite shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/store"
)

// Run exercises newStore against the store.Store contract. newStore must
// return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"users", testUsers},
		{"tokens", testTokens},
		{"documents", testDocuments},
		{"document isolation", testDocumentIsolation},
		{"chunks", testChunks},
		{"find chunks containing", testFindChunksContaining},
		{"delete user cascades", testDeleteUserCascades},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func intPtr(v int) *int { return &v }

func mustUser(t *testing.T, s store.Store, email string) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "$2a$10$hash")
	require.NoError(t, err)
	return u
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	u := mustUser(t, s, "ada@example.com")
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	_, err := s.CreateUser(ctx, "ada@example.com", "other")
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	_, err = s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), store.ErrNotFound)
}

func testTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "tok@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	live := store.Token{Hash: "live", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	dead := store.Token{Hash: "dead", UserID: u.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, s.SaveToken(ctx, live))
	require.NoError(t, s.SaveToken(ctx, dead))

	err := s.SaveToken(ctx, store.Token{Hash: "orphan", UserID: u.ID + 1000, CreatedAt: now, ExpiresAt: now})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.TokenByHash(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	n, err := s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.TokenByHash(ctx, "dead")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteToken(ctx, "live"))
	require.NoError(t, s.DeleteToken(ctx, "live"), "deleting twice is not an error")
	_, err = s.TokenByHash(ctx, "live")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDocuments(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "docs@example.com")

	first := &store.Document{UserID: u.ID, Filename: "march.pdf", Path: "/tmp/march.pdf", Size: 10}
	require.NoError(t, s.CreateDocument(ctx, first, nil))
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second := &store.Document{UserID: u.ID, Filename: "april.pdf", Path: "/tmp/april.pdf", Size: 20}
	require.NoError(t, s.CreateDocument(ctx, second, nil))

	docs, err := s.ListDocuments(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, second.ID, docs[0].ID, "newest first")
	assert.Equal(t, first.ID, docs[1].ID)

	got, err := s.GetDocument(ctx, u.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "march.pdf", got.Filename)
	assert.Equal(t, int64(10), got.Size)

	require.NoError(t, s.DeleteDocument(ctx, u.ID, first.ID))
	_, err = s.GetDocument(ctx, u.ID, first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, u.ID, first.ID), store.ErrNotFound)

	err = s.CreateDocument(ctx, &store.Document{UserID: u.ID + 1000, Filename: "x"}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDocumentIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	bob := mustUser(t, s, "bob@example.com")

	doc := &store.Document{UserID: alice.ID, Filename: "private.txt"}
	require.NoError(t, s.CreateDocument(ctx, doc, []store.Chunk{
		{Position: 0, Text: "secret revenue", Embedding: []float32{1, 0}},
	}))

	_, err := s.GetDocument(ctx, bob.ID, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, bob.ID, doc.ID), store.ErrNotFound)

	docs, err := s.ListDocuments(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	chunks, err := s.ListChunks(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	found, err := s.FindChunksContaining(ctx, bob.ID, "revenue", 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testChunks(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "chunks@example.com")

	a := &store.Document{UserID: u.ID, Filename: "a.pdf"}
	aChunks := []store.Chunk{
		{Position: 1, Text: "second", Embedding: []float32{0, 1, 0}, Page: intPtr(2)},
		{Position: 0, Text: "first", Embedding: []float32{1, 0, 0}, Page: intPtr(1)},
	}
	require.NoError(t, s.CreateDocument(ctx, a, aChunks))
	for _, c := range aChunks {
		assert.NotZero(t, c.ID)
		assert.Equal(t, a.ID, c.DocumentID)
	}

	b := &store.Document{UserID: u.ID, Filename: "b.txt"}
	require.NoError(t, s.CreateDocument(ctx, b, []store.Chunk{
		{Position: 0, Text: "plain", Embedding: []float32{0.5, 0.25, -1}},
	}))

	got, err := s.ListChunks(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
	assert.Equal(t, "plain", got[2].Text)

	assert.Equal(t, "a.pdf", got[0].Filename)
	assert.Equal(t, "b.txt", got[2].Filename)
	require.NotNil(t, got[1].Page)
	assert.Equal(t, 2, *got[1].Page)
	assert.Nil(t, got[2].Page)
	assert.Equal(t, []float32{0.5, 0.25, -1}, got[2].Embedding)

	require.NoError(t, s.DeleteDocument(ctx, u.ID, a.ID))
	got, err = s.ListChunks(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].DocumentID)
}

func testFindChunksContaining(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "find@example.com")

	doc := &store.Document{UserID: u.ID, Filename: "ledger.csv"}
	require.NoError(t, s.CreateDocument(ctx, doc, []store.Chunk{
		{Position: 0, Text: "2024-04-01 $100", Embedding: []float32{1}},
		{Position: 1, Text: "2024-05-01 $200", Embedding: []float32{1}},
		{Position: 2, Text: "2024-04-02 $300", Embedding: []float32{1}},
		{Position: 3, Text: "REVENUE -04- upper", Embedding: []float32{1}},
	}))

	got, err := s.FindChunksContaining(ctx, u.ID, "-04-", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, 3, got[2].Position)

	got, err = s.FindChunksContaining(ctx, u.ID, "-04-", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.FindChunksContaining(ctx, u.ID, "revenue", 0)
	require.NoError(t, err)
	assert.Empty(t, got, "matching is case-sensitive")
}

func testDeleteUserCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "gone@example.com")
	now := time.Now().UTC()

	require.NoError(t, s.SaveToken(ctx, store.Token{Hash: "h", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	doc := &store.Document{UserID: u.ID, Filename: "f.txt"}
	require.NoError(t, s.CreateDocument(ctx, doc, []store.Chunk{{Position: 0, Text: "x", Embedding: []float32{1}}}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.TokenByHash(ctx, "h")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetDocument(ctx, u.ID, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	chunks, err := s.ListChunks(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
