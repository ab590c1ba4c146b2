// Package sqlite implements store.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It is the default storage driver.
//
// Embeddings are stored as little-endian float32 BLOBs and timestamps as
// Unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/sqlite/migrations"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every NNN_*.up.sql newer than the recorded version, each
// in its own transaction.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
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
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Users ====================

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error) {
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)",
		email, passwordHash, created.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %s", store.ErrConflict, email)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &store.User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: created}, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?", email))
}

func (s *Store) UserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *Store) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

// DeleteUser relies on ON DELETE CASCADE for tokens, documents and chunks.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireAffected(res)
}

// ==================== Tokens ====================

func (s *Store) SaveToken(ctx context.Context, t store.Token) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tokens (hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		t.Hash, t.UserID, t.CreatedAt.UnixNano(), t.ExpiresAt.UnixNano())
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

func (s *Store) TokenByHash(ctx context.Context, hash string) (*store.Token, error) {
	var t store.Token
	var created, expires int64
	err := s.db.QueryRowContext(ctx,
		"SELECT hash, user_id, created_at, expires_at FROM tokens WHERE hash = ?", hash,
	).Scan(&t.Hash, &t.UserID, &created, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning token: %w", err)
	}
	t.CreatedAt, t.ExpiresAt = fromNanos(created), fromNanos(expires)
	return &t, nil
}

func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE hash = ?", hash); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE expires_at <= ?", now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// ==================== Documents ====================

func (s *Store) CreateDocument(ctx context.Context, doc *store.Document, chunks []store.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO documents (user_id, filename, path, size, created_at) VALUES (?, ?, ?, ?, ?)",
		doc.UserID, doc.Filename, doc.Path, doc.Size, created.UnixNano())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: user %d", store.ErrNotFound, doc.UserID)
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (document_id, position, text, embedding, page) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		var page sql.NullInt64
		if chunks[i].Page != nil {
			page = sql.NullInt64{Int64: int64(*chunks[i].Page), Valid: true}
		}
		res, err := stmt.ExecContext(ctx, docID, chunks[i].Position, chunks[i].Text,
			float32SliceToBytes(chunks[i].Embedding), page)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", chunks[i].Position, err)
		}
		if chunks[i].ID, err = res.LastInsertId(); err != nil {
			return err
		}
		chunks[i].DocumentID = docID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	doc.ID = docID
	doc.CreatedAt = created
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, filename, path, size, created_at
		FROM documents WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var d store.Document
		var created int64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.Path, &d.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.CreatedAt = fromNanos(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDocument(ctx context.Context, userID, documentID int64) (*store.Document, error) {
	var d store.Document
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, path, size, created_at
		FROM documents WHERE id = ? AND user_id = ?`, documentID, userID,
	).Scan(&d.ID, &d.UserID, &d.Filename, &d.Path, &d.Size, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.CreatedAt = fromNanos(created)
	return &d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND user_id = ?", documentID, userID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return requireAffected(res)
}

const chunkSelect = `
	SELECT c.id, c.document_id, c.position, c.text, c.embedding, c.page, d.filename
	FROM chunks c JOIN documents d ON d.id = c.document_id
	WHERE d.user_id = ?`

const chunkOrder = ` ORDER BY c.document_id, c.position`

func (s *Store) ListChunks(ctx context.Context, userID int64) ([]store.ChunkRecord, error) {
	return s.queryChunks(ctx, chunkSelect+chunkOrder, userID)
}

func (s *Store) FindChunksContaining(ctx context.Context, userID int64, substr string, limit int) ([]store.ChunkRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return s.queryChunks(ctx, chunkSelect+" AND instr(c.text, ?) > 0"+chunkOrder+" LIMIT ?", userID, substr, limit)
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]store.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []store.ChunkRecord
	for rows.Next() {
		var r store.ChunkRecord
		var blob []byte
		var page sql.NullInt64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Position, &r.Text, &blob, &page, &r.Filename); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		r.Embedding = bytesToFloat32Slice(blob)
		if page.Valid {
			p := int(page.Int64)
			r.Page = &p
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ==================== Helpers ====================

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// float32SliceToBytes encodes floats as little-endian IEEE 754.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice decodes float32SliceToBytes output.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
