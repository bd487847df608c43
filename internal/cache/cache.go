// Package cache stores compiled programs keyed by the digest of their source,
// in SQLite or PostgreSQL.
package cache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"nx/internal/ir"
)

var log = commonlog.GetLogger("nx.cache")

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite and
// postgres.
var ErrUnsupportedDriver = errors.New("unsupported cache driver")

type dialect struct {
	driver string
	blob   string
	stamp  string
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", blob: "BLOB", stamp: "TIMESTAMP"},
	"postgres": {driver: "postgres", blob: "BYTEA", stamp: "TIMESTAMPTZ"},
}

// bind rewrites ? placeholders into the dialect's form.
func (d dialect) bind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nx_bytecode (
		id TEXT PRIMARY KEY,
		source_digest TEXT NOT NULL UNIQUE,
		program %s NOT NULL,
		program_digest TEXT NOT NULL,
		created_at %s NOT NULL
	)`, d.blob, d.stamp)
}

// Cache is a compiled-program store. It is safe for concurrent use.
type Cache struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

// Open connects to the cache database and creates its table if needed. For
// sqlite the parent directory of dsn is created.
func Open(ctx context.Context, driver, dsn string) (*Cache, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if driver == "sqlite" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	if driver == "sqlite" {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite" {
		// one writer at a time; goroutines queue on the pool instead of
		// failing with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, d.schema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened %s cache", driver)
	return &Cache{db: db, dialect: d}, nil
}

// sqliteDSN adds a busy timeout to every connection the pool opens, so other
// processes sharing the file wait for locks instead of failing.
func sqliteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key derives the lookup key for a source text. The bytecode format is part
// of every key, so programs cached by an older encoding are never returned.
// Settings that change what a source compiles to, such as strict scanning,
// are folded in as tags.
func Key(src string, tags ...string) string {
	return formatKey(ir.Format, src, tags...)
}

func formatKey(format, src string, tags ...string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(format))
	h.Write([]byte{0})
	h.Write([]byte(src))
	for _, tag := range tags {
		h.Write([]byte{0})
		h.Write([]byte(tag))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the program stored under key. A row whose program no longer
// matches its recorded digest is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*ir.Program, bool, error) {
	var data []byte
	var digest string
	err := c.db.QueryRowContext(ctx,
		c.dialect.bind("SELECT program, program_digest FROM nx_bytecode WHERE source_digest = ?"),
		key,
	).Scan(&data, &digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	prog, err := ir.UnmarshalProgram(data)
	if err == nil {
		var sum [ir.DigestSize]byte
		if sum, err = prog.Digest(); err == nil && hex.EncodeToString(sum[:]) != digest {
			err = errors.New("program digest mismatch")
		}
	}
	if err == nil {
		err = prog.Validate()
	}
	if err != nil {
		log.Infof("dropping cached program %s: %v", short(key), err)
		if derr := c.Delete(ctx, key); derr != nil {
			return nil, false, derr
		}
		return nil, false, nil
	}
	return prog, true, nil
}

// Put stores prog under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, prog *ir.Program) error {
	data, err := ir.MarshalProgram(prog)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}
	sum := blake2b.Sum256(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, c.dialect.bind(`INSERT INTO nx_bytecode
		(id, source_digest, program, program_digest, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_digest) DO UPDATE SET
		program = excluded.program, program_digest = excluded.program_digest, created_at = excluded.created_at`),
		uuid.NewString(), key, data, hex.EncodeToString(sum[:]), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Delete removes the entry stored under key, if any.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, c.dialect.bind("DELETE FROM nx_bytecode WHERE source_digest = ?"), key); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}

// Len reports the number of cached programs.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nx_bytecode").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
