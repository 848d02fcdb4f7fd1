// Package tags implements key/value labels attached to index entries.
//
// Writes go straight to the shared index database so tag rows cascade
// away with their ConfigEntry. Reads for query expressions are served by
// an in-memory token index (token → roaring bitmap of config rowids),
// rebuilt lazily after any write. Accumulate, then query.
package tags

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/frpfleet/api"
)

// token separator; NUL never appears in keys or values coming off the CLI.
const tokenSep = "\x00"

type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tokens map[string]*roaring.Bitmap // nil until built, reset on write
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add upserts a tag on (config, key) — last write wins, never duplicates.
// Tagging a config absent from the index is a hard error: index it first.
func (s *Store) Add(configPath, key, value string) error {
	id, err := s.configID(configPath)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO tags (config_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(config_id, key) DO UPDATE SET value = excluded.value`,
		id, key, value)
	if err != nil {
		return fmt.Errorf("tag %s %s: %w", configPath, key, err)
	}
	s.invalidate()
	return nil
}

// Remove deletes one tag row. Removing a tag that does not exist is not
// an error — the end state is the same.
func (s *Store) Remove(configPath, key string) error {
	id, err := s.configID(configPath)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM tags WHERE config_id = ? AND key = ?", id, key); err != nil {
		return fmt.Errorf("untag %s %s: %w", configPath, key, err)
	}
	s.invalidate()
	return nil
}

// List returns all tags on one config, sorted by key.
func (s *Store) List(configPath string) ([]api.Tag, error) {
	id, err := s.configID(configPath)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT key, value FROM tags WHERE config_id = ? ORDER BY key", id)
	if err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", configPath, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var tags []api.Tag
	for rows.Next() {
		var t api.Tag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Query resolves a tag expression to the matching config paths. The
// expression is either "key" (any value) or "key:value" (exact match).
// No matches is an empty result, never an error.
func (s *Store) Query(expr string) ([]string, error) {
	token := expr
	if key, value, ok := strings.Cut(expr, ":"); ok {
		token = key + tokenSep + value
	}

	bm, err := s.lookupToken(token)
	if err != nil {
		return nil, err
	}
	if bm == nil || bm.IsEmpty() {
		return nil, nil
	}

	ids := make([]any, 0, bm.GetCardinality())
	placeholders := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, int64(it.Next()))
		placeholders = append(placeholders, "?")
	}

	query := fmt.Sprintf("SELECT path FROM configs WHERE id IN (%s)", strings.Join(placeholders, ","))
	rows, err := s.db.Query(query, ids...)
	if err != nil {
		return nil, fmt.Errorf("resolve tag query %q: %w", expr, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, rows.Err()
}

func (s *Store) configID(configPath string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM configs WHERE path = ?", configPath).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%s: %w", configPath, api.ErrNotIndexed)
	}
	if err != nil {
		return 0, fmt.Errorf("look up %s: %w", configPath, err)
	}
	return id, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.tokens = nil
	s.mu.Unlock()
}

// lookupToken returns the bitmap for one token, building the full token
// index on first use. Each tag row feeds two tokens: the bare key and
// key+value, so both expression forms are one map hit.
func (s *Store) lookupToken(token string) (*roaring.Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens == nil {
		tokens, err := s.buildTokenIndex()
		if err != nil {
			return nil, err
		}
		s.tokens = tokens
	}
	return s.tokens[token], nil
}

func (s *Store) buildTokenIndex() (map[string]*roaring.Bitmap, error) {
	rows, err := s.db.Query("SELECT config_id, key, value FROM tags")
	if err != nil {
		return nil, fmt.Errorf("build tag index: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	tokens := make(map[string]*roaring.Bitmap)
	add := func(token string, id uint32) {
		bm, ok := tokens[token]
		if !ok {
			bm = roaring.New()
			tokens[token] = bm
		}
		bm.Add(id)
	}

	for rows.Next() {
		var id int64
		var key, value string
		if err := rows.Scan(&id, &key, &value); err != nil {
			return nil, err
		}
		add(key, uint32(id))
		add(key+tokenSep+value, uint32(id))
	}
	return tokens, rows.Err()
}
