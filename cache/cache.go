// Package cache stores compiled tern images in SQLite so unchanged scripts
// skip compilation.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chazu/tern/vm"
	"github.com/chazu/tern/vm/image"
	_ "modernc.org/sqlite"
)

// ErrMiss indicates no image is cached for a key.
var ErrMiss = errors.New("cache: miss")

// Cache is a SQLite-backed table of compiled images keyed by source hash.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// DefaultPath returns the per-user cache location.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "tern", "images.db"), nil
}

// Path returns the database file the cache was opened on.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key returns the cache key for source. The image format version is part
// of the key so a format change never serves stale images.
func Key(source string) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(image.Version)))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the encoded image stored under hash, or ErrMiss.
func (c *Cache) Get(hash string) ([]byte, error) {
	var data []byte
	err := c.db.QueryRow("SELECT image FROM images WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	return data, nil
}

// Put stores an encoded image under hash, replacing any previous entry.
func (c *Cache) Put(hash string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (hash, image, created_at) VALUES (?, ?, ?)",
		hash, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Len returns the number of cached images.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}

// Compile returns the compiled function for source, compiling and storing
// it on a miss. A cached image that no longer decodes is recompiled and
// replaced. The second result reports whether the cache was hit.
func (c *Cache) Compile(source string, compile vm.CompileFunc) (*vm.ObjFunction, bool, error) {
	key := Key(source)
	data, err := c.Get(key)
	switch {
	case err == nil:
		if fn, derr := image.Unmarshal(data); derr == nil {
			return fn, true, nil
		}
	case !errors.Is(err, ErrMiss):
		return nil, false, err
	}

	fn, err := compile(source)
	if err != nil {
		return nil, false, err
	}
	data, err = image.MarshalSource(fn, source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, data); err != nil {
		return nil, false, err
	}
	return fn, false, nil
}
