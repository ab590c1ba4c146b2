// Package postgres implements store.Store on PostgreSQL with the pgvector
// extension, using a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/postgres/migrations"
)

// Postgres SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, pings the server and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool, now: time.Now}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
	}
	return nil
}

// timestamp returns now at the microsecond precision Postgres stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ==================== Users ====================

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error) {
	u := store.User{Email: email, PasswordHash: passwordHash, CreatedAt: s.timestamp()}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO users (email, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id",
		email, passwordHash, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return nil, fmt.Errorf("%w: email %s", store.ErrConflict, email)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1", email))
}

func (s *Store) UserByID(ctx context.Context, id int64) (*store.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = $1", id))
}

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==================== Tokens ====================

func (s *Store) SaveToken(ctx context.Context, t store.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (hash, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		t.Hash, t.UserID, t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return store.ErrNotFound
		}
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

func (s *Store) TokenByHash(ctx context.Context, hash string) (*store.Token, error) {
	var t store.Token
	err := s.pool.QueryRow(ctx,
		"SELECT hash, user_id, created_at, expires_at FROM tokens WHERE hash = $1", hash,
	).Scan(&t.Hash, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning token: %w", err)
	}
	t.CreatedAt, t.ExpiresAt = t.CreatedAt.UTC(), t.ExpiresAt.UTC()
	return &t, nil
}

func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM tokens WHERE hash = $1", hash); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM tokens WHERE expires_at <= $1", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ==================== Documents ====================

func (s *Store) CreateDocument(ctx context.Context, doc *store.Document, chunks []store.Chunk) error {
	created := s.timestamp()
	var docID int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO documents (user_id, filename, path, size, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			doc.UserID, doc.Filename, doc.Path, doc.Size, created,
		).Scan(&docID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			var page *int32
			if c.Page != nil {
				p := int32(*c.Page)
				page = &p
			}
			batch.Queue(`
				INSERT INTO chunks (document_id, position, text, embedding, page)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				docID, c.Position, c.Text, pgvector.NewVector(c.Embedding), page)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if err := results.QueryRow().Scan(&chunks[i].ID); err != nil {
				results.Close()
				return fmt.Errorf("inserting chunk %d: %w", chunks[i].Position, err)
			}
			chunks[i].DocumentID = docID
		}
		return results.Close()
	})
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return fmt.Errorf("%w: user %d", store.ErrNotFound, doc.UserID)
		}
		return fmt.Errorf("creating document: %w", err)
	}
	doc.ID = docID
	doc.CreatedAt = created
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, filename, path, size, created_at
		FROM documents WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Document, error) {
		var d store.Document
		err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.Path, &d.Size, &d.CreatedAt)
		d.CreatedAt = d.CreatedAt.UTC()
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning documents: %w", err)
	}
	return docs, nil
}

func (s *Store) GetDocument(ctx context.Context, userID, documentID int64) (*store.Document, error) {
	var d store.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, filename, path, size, created_at
		FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID,
	).Scan(&d.ID, &d.UserID, &d.Filename, &d.Path, &d.Size, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1 AND user_id = $2", documentID, userID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const chunkSelect = `
	SELECT c.id, c.document_id, c.position, c.text, c.embedding, c.page, d.filename
	FROM chunks c JOIN documents d ON d.id = c.document_id
	WHERE d.user_id = $1`

const chunkOrder = ` ORDER BY c.document_id, c.position`

func (s *Store) ListChunks(ctx context.Context, userID int64) ([]store.ChunkRecord, error) {
	return s.queryChunks(ctx, chunkSelect+chunkOrder, userID)
}

func (s *Store) FindChunksContaining(ctx context.Context, userID int64, substr string, limit int) ([]store.ChunkRecord, error) {
	var lim any // NULL means no limit
	if limit > 0 {
		lim = limit
	}
	return s.queryChunks(ctx, chunkSelect+" AND strpos(c.text, $2) > 0"+chunkOrder+" LIMIT $3", userID, substr, lim)
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]store.ChunkRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ChunkRecord, error) {
		var r store.ChunkRecord
		var emb pgvector.Vector
		var page *int32
		if err := row.Scan(&r.ID, &r.DocumentID, &r.Position, &r.Text, &emb, &page, &r.Filename); err != nil {
			return r, err
		}
		r.Embedding = emb.Slice()
		if page != nil {
			p := int(*page)
			r.Page = &p
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	return out, nil
}
