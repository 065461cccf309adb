// Package corpus reads the file-backed primary corpus: markdown posts in a
// single directory, each with optional YAML or TOML front matter.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/54b3r/postsearch-go/internal/store"
)

// Extensions lists the file suffixes treated as posts.
var Extensions = []string{".md", ".mdx"}

// Post is one parsed file.
type Post struct {
	// Slug is the front matter slug or the file name without extension.
	Slug string
	// Title falls back to Slug.
	Title string
	// Content is the body after the front matter.
	Content string
	// Date is zero when absent or unparsable.
	Date time.Time
	// AuthorID is nil unless the front matter names one.
	AuthorID *string
	// Path is the source file.
	Path string
}

// Dir is a directory of posts. It is read on every call; there is no cache.
type Dir struct {
	path string
	log  *slog.Logger
}

// NewDir returns a Dir rooted at path.
func NewDir(path string, log *slog.Logger) *Dir {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dir{path: path, log: log}
}

// Path returns the directory being read.
func (d *Dir) Path() string { return d.path }

// IsPostFile reports whether name is a non-hidden post file.
func IsPostFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Posts reads and parses every post file, sorted by slug. A missing
// directory yields no posts and a warning. A file that cannot be parsed is
// skipped with a warning; the rest of the corpus is still returned.
func (d *Dir) Posts(ctx context.Context) ([]Post, error) {
	entries, err := os.ReadDir(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.log.Warn("corpus: posts directory not found", slog.String("dir", d.path))
		return []Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", d.path, err)
	}

	posts := make([]Post, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !IsPostFile(e.Name()) {
			continue
		}
		path := filepath.Join(d.path, e.Name())
		p, err := ReadPost(path)
		if err != nil {
			d.log.Warn("corpus: skipping unreadable post", slog.String("file", path), slog.Any("error", err))
			continue
		}
		if prev, dup := seen[p.Slug]; dup {
			d.log.Warn("corpus: duplicate slug, keeping first",
				slog.String("slug", p.Slug), slog.String("kept", prev), slog.String("skipped", path))
			continue
		}
		seen[p.Slug] = path
		posts = append(posts, p)
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].Slug < posts[j].Slug })
	return posts, nil
}

// ReadPost parses a single post file.
func ReadPost(path string) (Post, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Post{}, err
	}
	meta, body, err := splitFrontMatter(raw)
	if err != nil {
		return Post{}, err
	}
	fm := parseFrontMatter(meta)

	slug := fm.Slug
	if slug == "" {
		slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	title := fm.Title
	if title == "" {
		title = slug
	}
	return Post{
		Slug:     slug,
		Title:    title,
		Content:  body,
		Date:     fm.Date,
		AuthorID: fm.AuthorID,
		Path:     path,
	}, nil
}

// Documents returns the corpus as store documents. CreatedAt is zero when
// the post has no date, which keeps the stored value on update.
// AuthorID is always nil: file posts belong to the primary corpus.
func (d *Dir) Documents(ctx context.Context) ([]store.Document, error) {
	posts, err := d.Posts(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, len(posts))
	for i, p := range posts {
		docs[i] = p.Document()
	}
	return docs, nil
}

// Document converts p to a primary-corpus store document.
func (p Post) Document() store.Document {
	return store.Document{
		Slug:      p.Slug,
		Title:     p.Title,
		Content:   p.Content,
		CreatedAt: p.Date,
	}
}

// LexicalScan scores the files with the same scorer the store uses.
func (d *Dir) LexicalScan(ctx context.Context, query string, limit int) ([]store.Scored, error) {
	docs, err := d.Documents(ctx)
	if err != nil {
		return nil, err
	}
	return store.RankLexical(docs, query, limit), nil
}
