package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/frpfleet/api"
)

// ErrStoreUnavailable wraps store-level failures. Read paths degrade to a
// direct filesystem scan instead of surfacing it to the caller.
var ErrStoreUnavailable = errors.New("index store unavailable")

// Store is the persisted metadata index: a queryable SQLite mirror of the
// on-disk config files' semantic fields. The filesystem is ground truth —
// the store is strictly derived and rebuildable, so a corrupted or missing
// database never loses data, only speed.
type Store struct {
	db     *sql.DB
	dbPath string
	fs     billy.Filesystem
	dir    string
}

const schema = `
CREATE TABLE IF NOT EXISTS configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT UNIQUE NOT NULL,
	hash TEXT NOT NULL,
	kind TEXT,
	server_addr TEXT,
	server_port INTEGER,
	bind_port INTEGER,
	proxy_count INTEGER NOT NULL DEFAULT 0,
	last_modified INTEGER NOT NULL,
	last_indexed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_configs_kind ON configs(kind);

CREATE TABLE IF NOT EXISTS tags (
	config_id INTEGER NOT NULL REFERENCES configs(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (config_id, key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if needed) the index database and binds it to the
// config directory it mirrors. fsys is the filesystem the directory lives
// on — osfs in production, a temp-dir osfs in tests.
//
// The database is derived state: if the file at dbPath is corrupted or
// otherwise unusable, it is discarded and recreated with a warning. The
// cost is one rebuild, never an unusable tool.
func Open(dbPath, configDir string, fsys billy.Filesystem) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir index dir: %w", err)
	}

	db, err := openDB(dbPath)
	if err != nil {
		log.Printf("index: unusable db at %s, recreating: %v", dbPath, err)
		removeDB(dbPath)
		if db, err = openDB(dbPath); err != nil {
			return nil, err
		}
	}
	return &Store{db: db, dbPath: dbPath, fs: fsys, dir: configDir}, nil
}

// openDB opens the database and applies the schema. The pragmas ride the
// DSN because they are per-connection: every connection the pool opens
// gets them, not just whichever one ran an Exec first. Cascade deletes
// from configs to tags depend on foreign_keys being on for the connection
// that runs the DELETE.
func openDB(dbPath string) (*sql.DB, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return db, nil
}

// removeDB deletes the database file and any journal sidecars.
func removeDB(dbPath string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(dbPath + suffix) // ignore error
	}
}

// DB exposes the underlying handle for collaborators that share the store
// (the tag store lives in the same database so cascades work).
func (s *Store) DB() *sql.DB { return s.db }

// Dir returns the config directory this index mirrors.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error { return s.db.Close() }

// IndexFile parses a single file and upserts its ConfigEntry. The upsert
// is one atomic statement — a crash mid-rebuild leaves at worst a
// partially rebuilt index, which the next Rebuild/Sync heals.
func (s *Store) IndexFile(path string) error {
	info, err := s.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	content, err := readConfig(s.fs, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	entry, err := ParseEntry(path, content, info.ModTime())
	if err != nil {
		return err
	}
	return s.upsert(entry)
}

func (s *Store) upsert(e api.ConfigEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO configs (path, hash, kind, server_addr, server_port, bind_port, proxy_count, last_modified, last_indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			kind = excluded.kind,
			server_addr = excluded.server_addr,
			server_port = excluded.server_port,
			bind_port = excluded.bind_port,
			proxy_count = excluded.proxy_count,
			last_modified = excluded.last_modified,
			last_indexed = excluded.last_indexed`,
		e.Path, e.Hash, nullStr(e.Kind), nullStr(e.ServerAddr), nullInt(e.ServerPort),
		nullInt(e.BindPort), e.ProxyCount, e.LastModified.UnixNano(), e.LastIndexed.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Path, err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// Get returns the entry for one path, or api.ErrNotIndexed.
func (s *Store) Get(path string) (api.ConfigEntry, error) {
	row := s.db.QueryRow(selectEntry+" WHERE path = ?", path)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return api.ConfigEntry{}, api.ErrNotIndexed
	}
	return entry, err
}

// ByKind returns every indexed entry of the given kind. If the store is
// unreadable it degrades to a direct filesystem scan: slower but correct.
func (s *Store) ByKind(kind string) ([]api.ConfigEntry, error) {
	entries, err := s.queryEntries(selectEntry+" WHERE kind = ? ORDER BY path", kind)
	if err != nil {
		log.Printf("index: store unreadable (%v), falling back to filesystem scan", err)
		return s.scanDirect(kind)
	}
	return entries, nil
}

// All returns every indexed entry, falling back to a filesystem scan on
// store failure. Also serves the export collaborator.
func (s *Store) All() ([]api.ConfigEntry, error) {
	entries, err := s.queryEntries(selectEntry + " ORDER BY path")
	if err != nil {
		log.Printf("index: store unreadable (%v), falling back to filesystem scan", err)
		return s.scanDirect("")
	}
	return entries, nil
}

// Aggregate holds the sums and counts served to the cache layer.
type Aggregate struct {
	Total   int
	Servers int
	Clients int
	Proxies int
}

// QueryAggregate computes fleet-wide counts in one pass.
func (s *Store) QueryAggregate() (Aggregate, error) {
	var agg Aggregate
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(kind = 'server'), 0),
			COALESCE(SUM(kind = 'client'), 0),
			COALESCE(SUM(proxy_count), 0)
		FROM configs`).Scan(&agg.Total, &agg.Servers, &agg.Clients, &agg.Proxies)
	if err != nil {
		// Degraded mode: recount from disk.
		log.Printf("index: aggregate query failed (%v), falling back to filesystem scan", err)
		entries, scanErr := s.scanDirect("")
		if scanErr != nil {
			return Aggregate{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, e := range entries {
			agg.Total++
			agg.Proxies += e.ProxyCount
			switch e.Kind {
			case api.KindServer:
				agg.Servers++
			case api.KindClient:
				agg.Clients++
			}
		}
		return agg, nil
	}
	return agg, nil
}

const selectEntry = `
	SELECT id, path, hash, COALESCE(kind, ''), COALESCE(server_addr, ''),
		COALESCE(server_port, 0), COALESCE(bind_port, 0), proxy_count,
		last_modified, last_indexed
	FROM configs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (api.ConfigEntry, error) {
	var e api.ConfigEntry
	var modified, indexed int64
	err := row.Scan(&e.ID, &e.Path, &e.Hash, &e.Kind, &e.ServerAddr,
		&e.ServerPort, &e.BindPort, &e.ProxyCount, &modified, &indexed)
	if err != nil {
		return api.ConfigEntry{}, err
	}
	e.LastModified = time.Unix(0, modified)
	e.LastIndexed = time.Unix(0, indexed)
	return e, nil
}

func (s *Store) queryEntries(query string, args ...any) ([]api.ConfigEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var entries []api.ConfigEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			log.Printf("index: skip row scan: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanDirect is the degraded read path: parse every config file on disk,
// bypassing the store entirely. Kind "" means no filter.
func (s *Store) scanDirect(kind string) ([]api.ConfigEntry, error) {
	files, err := scanConfigs(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: filesystem scan: %v", ErrStoreUnavailable, err)
	}
	var entries []api.ConfigEntry
	for _, f := range files {
		content, err := readConfig(s.fs, f.path)
		if err != nil {
			log.Printf("index: skip unreadable %s: %v", f.path, err)
			continue
		}
		entry, err := ParseEntry(f.path, content, f.modTime)
		if err != nil {
			log.Printf("index: skip %s: %v", f.path, err)
			continue
		}
		if kind == "" || entry.Kind == kind {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// paths returns the set of currently indexed paths, used by Rebuild to
// drop entries whose file disappeared.
func (s *Store) paths() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT path FROM configs")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	seen := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		seen[p] = true
	}
	return seen, rows.Err()
}

func (s *Store) deletePath(path string) error {
	_, err := s.db.Exec("DELETE FROM configs WHERE path = ?", path)
	return err
}

// meta get/set back the incremental sync marker.

func (s *Store) metaGet(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) metaSet(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
