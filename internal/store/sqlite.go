package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a DocumentStore backed by a local SQLite database.
// Embeddings are stored as little-endian float32 BLOBs and ranked in Go.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create %s: %w", dir, err)
			}
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer connection avoids SQLITE_BUSY and keeps :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS posts (
    id           TEXT    PRIMARY KEY,
    slug         TEXT    NOT NULL UNIQUE,
    title        TEXT    NOT NULL,
    content      TEXT    NOT NULL,
    embedding    BLOB,
    author_id    TEXT,
    content_hash TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,  -- Unix milliseconds
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created_id
    ON posts (created_at DESC, id DESC);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const sqliteColumns = `id, slug, title, content, embedding, author_id, content_hash, created_at, updated_at`

// Upsert inserts or updates doc by slug. A zero CreatedAt inserts now and
// keeps the stored value on update.
func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) (Document, error) {
	if doc.Slug == "" {
		return Document{}, fmt.Errorf("store: upsert: empty slug")
	}
	now := s.now().UTC()
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	supplied := !doc.CreatedAt.IsZero()
	created := now
	if supplied {
		created = doc.CreatedAt
	}

	q := `
INSERT INTO posts (` + sqliteColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slug) DO UPDATE SET
    title        = excluded.title,
    content      = excluded.content,
    embedding    = excluded.embedding,
    author_id    = excluded.author_id,
    content_hash = excluded.content_hash,
    created_at   = CASE WHEN ? THEN excluded.created_at ELSE posts.created_at END,
    updated_at   = excluded.updated_at
RETURNING ` + sqliteColumns

	row := s.db.QueryRowContext(ctx, q,
		id, doc.Slug, doc.Title, doc.Content, encodeVector(doc.Embedding),
		nullString(doc.AuthorID), doc.ContentHash, created.UnixMilli(), now.UnixMilli(),
		supplied,
	)
	out, err := scanSQLiteDoc(row)
	if err != nil {
		return Document{}, fmt.Errorf("store: upsert %s: %w", doc.Slug, err)
	}
	return out, nil
}

// Get returns the document with the given slug.
func (s *SQLiteStore) Get(ctx context.Context, slug string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM posts WHERE slug = ?`, slug)
	doc, err := scanSQLiteDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %s: %w", slug, err)
	}
	return doc, nil
}

// ByIDs returns the documents with the given IDs.
func (s *SQLiteStore) ByIDs(ctx context.Context, ids []string) ([]Document, error) {
	var out []Document
	err := forEachBatch(ctx, ids, MaxBatchSize, func(chunk []string) error {
		ph, err := placeholders(len(chunk))
		if err != nil {
			return err
		}
		rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM posts WHERE id IN (`+ph+`)`, anyArgs(chunk)...)
		if err != nil {
			return err
		}
		docs, err := collectSQLiteDocs(rows)
		if err != nil {
			return err
		}
		out = append(out, docs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: by ids: %w", err)
	}
	return out, nil
}

// DeleteBySlug deletes the given slugs in chunks and returns the count.
func (s *SQLiteStore) DeleteBySlug(ctx context.Context, slugs []string) (int, error) {
	total := 0
	err := forEachBatch(ctx, slugs, MaxBatchSize, func(chunk []string) error {
		ph, err := placeholders(len(chunk))
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE slug IN (`+ph+`)`, anyArgs(chunk)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += int(n)
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("store: delete: %w", err)
	}
	return total, nil
}

// RankBySimilarity loads every embedded row and ranks by cosine similarity.
func (s *SQLiteStore) RankBySimilarity(ctx context.Context, vec []float32, limit int) ([]Scored, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM posts WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: rank: %w", err)
	}
	docs, err := collectSQLiteDocs(rows)
	if err != nil {
		return nil, fmt.Errorf("store: rank: %w", err)
	}

	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) != len(vec) {
			continue
		}
		scored = append(scored, Scored{Document: d, Similarity: clampSimilarity(cosine(vec, d.Embedding))})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Slug < scored[j].Slug
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// LexicalScan scores every row with ScoreLexical. SQLite lower() only folds
// ASCII, so filtering happens in Go.
func (s *SQLiteStore) LexicalScan(ctx context.Context, query string, limit int) ([]Scored, error) {
	if strings.TrimSpace(query) == "" {
		return []Scored{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, title, content, NULL, author_id, content_hash, created_at, updated_at FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("store: lexical scan: %w", err)
	}
	docs, err := collectSQLiteDocs(rows)
	if err != nil {
		return nil, fmt.Errorf("store: lexical scan: %w", err)
	}
	return RankLexical(docs, query, limit), nil
}

// Hashes returns slug -> content hash for every document.
func (s *SQLiteStore) Hashes(ctx context.Context) (map[string]string, error) {
	entries, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	return hashesOf(entries), nil
}

// Manifest returns slug, hash, author and vector presence for every
// document.
func (s *SQLiteStore) Manifest(ctx context.Context) ([]ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, content_hash, author_id, COALESCE(length(embedding), 0) > 0 FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("store: manifest: %w", err)
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var e ManifestEntry
		var author sql.NullString
		if err := rows.Scan(&e.Slug, &e.ContentHash, &author, &e.HasEmbedding); err != nil {
			return nil, fmt.Errorf("store: manifest scan: %w", err)
		}
		e.AuthorID = stringPtr(author)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: manifest rows: %w", err)
	}
	return out, nil
}

// Feed returns one keyset page ordered by (created_at DESC, id DESC).
func (s *SQLiteStore) Feed(ctx context.Context, limit int, after *Cursor) (FeedPage, error) {
	q := `SELECT id, slug, title, created_at FROM posts`
	args := []any{}
	if after != nil {
		ms := after.CreatedAt.UnixMilli()
		q += ` WHERE created_at < ? OR (created_at = ? AND id < ?)`
		args = append(args, ms, ms, after.ID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return FeedPage{}, fmt.Errorf("store: feed: %w", err)
	}
	defer rows.Close()

	var out []FeedRow
	for rows.Next() {
		var r FeedRow
		var ms int64
		if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &ms); err != nil {
			return FeedPage{}, fmt.Errorf("store: feed scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return FeedPage{}, fmt.Errorf("store: feed rows: %w", err)
	}
	return feedPage(out, limit), nil
}

// Name implements the readiness Pinger.
func (s *SQLiteStore) Name() string { return "store:sqlite" }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDoc(r rowScanner) (Document, error) {
	var d Document
	var blob []byte
	var author sql.NullString
	var created, updated int64
	if err := r.Scan(&d.ID, &d.Slug, &d.Title, &d.Content, &blob, &author, &d.ContentHash, &created, &updated); err != nil {
		return Document{}, err
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return Document{}, err
	}
	d.Embedding = vec
	d.AuthorID = stringPtr(author)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

func collectSQLiteDocs(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanSQLiteDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func hashesOf(entries []ManifestEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Slug] = e.ContentHash
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
