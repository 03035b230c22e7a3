// Package database opens the relational backend that stores user profiles.
// PostgreSQL (via pgx) is the production backend; SQLite is supported for
// local runs and tests. The backend is selected from the connection URL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"   // SQLite driver
)

// Dialect identifies the SQL flavour of a backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Config holds the database connection configuration.
type Config struct {
	// URL is the connection string (postgres://..., sqlite://path, file:..., or a *.db path).
	URL string `yaml:"url"`

	// Connection pooling.
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// BusyTimeout for SQLite in milliseconds (default: 5000).
	BusyTimeout int `yaml:"busy_timeout"`
}

// DB wraps the connection pool together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ParseURL determines the dialect, the database/sql driver name and the
// driver-specific DSN for a connection URL.
func ParseURL(rawURL string) (Dialect, string, string, error) {
	u := strings.TrimSpace(rawURL)
	lower := strings.ToLower(u)

	switch {
	case u == "":
		return "", "", "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, "pgx", u, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return DialectSQLite, "sqlite3", u[len("sqlite://"):], nil
	case strings.HasPrefix(lower, "sqlite:"):
		return DialectSQLite, "sqlite3", u[len("sqlite:"):], nil
	case strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"),
		lower == ":memory:":
		return DialectSQLite, "sqlite3", u, nil
	default:
		return "", "", "", fmt.Errorf("unsupported database url %q (expected postgres:// or sqlite://)", Redact(u))
	}
}

// Open opens the database described by cfg and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialect, driver, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		dsn, err = sqliteDSN(dsn, cfg)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	applyPool(db, dialect, dsn, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected", "dialect", dialect, "url", Redact(cfg.URL))
	return &DB{DB: db, Dialect: dialect}, nil
}

// sqliteDSN ensures the parent directory exists and appends driver options.
func sqliteDSN(path string, cfg Config) (string, error) {
	busy := cfg.BusyTimeout
	if busy == 0 {
		busy = 5000
	}

	file := path
	if i := strings.Index(file, "?"); i >= 0 {
		file = file[:i]
	}
	file = strings.TrimPrefix(file, "file:")

	if file != "" && file != ":memory:" {
		dir := filepath.Dir(file)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=" + strconv.Itoa(busy) + "&_foreign_keys=ON", nil
}

func applyPool(db *sql.DB, dialect Dialect, dsn string, cfg Config) {
	maxOpen := cfg.MaxOpenConns
	maxIdle := cfg.MaxIdleConns
	lifetime := cfg.ConnMaxLifetime

	switch dialect {
	case DialectPostgres:
		if maxOpen == 0 {
			maxOpen = 10
		}
		if maxIdle == 0 {
			maxIdle = 5
		}
		if lifetime == 0 {
			lifetime = 30 * time.Minute
		}
	case DialectSQLite:
		// An in-memory database lives and dies with its connection.
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			maxOpen, maxIdle, lifetime = 1, 1, 0
		}
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(lifetime)
}

// Rebind rewrites '?' placeholders into the dialect's positional form.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// Redact hides the password part of a URL for logging.
func Redact(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	creds := u[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return u[:scheme+3] + creds[:i] + ":***" + u[at:]
	}
	return u
}
