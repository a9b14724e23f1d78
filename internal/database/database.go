package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// FileName is the name of the SQLite database file inside Options.Dir.
const FileName = "kanpora.db"

// DB is the kanpora store. It is safe for concurrent use.
type DB struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string

	// DSN is the PostgreSQL connection string. For SQLite it is an explicit
	// database file path that takes precedence over Dir.
	DSN string

	// Dir is the directory of the SQLite file.
	Dir string

	// CreateIfNotExists creates the SQLite file and its directory.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging on SQLite.
	EnableWAL bool

	Logger *slog.Logger
}

// DefaultOptions returns SQLite options rooted at dir.
func DefaultOptions(dir string) Options {
	return Options{
		Driver:            DriverSQLite,
		Dir:               dir,
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		db, err = openSQLite(ctx, opts)
	case DriverPostgres:
		db, err = openPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	d := &DB{db: db, driver: opts.Driver, logger: logger}
	if err := d.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the SQLite file Open would use for opts.
func Path(opts Options) string {
	if opts.DSN != "" {
		return opts.DSN
	}
	return filepath.Join(opts.Dir, FileName)
}

func openSQLite(ctx context.Context, opts Options) (*sql.DB, error) {
	dbPath := Path(opts)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s (run \"kanpora db init\" first)", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	return db, nil
}

func openPostgres(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres driver requires a DSN")
	}

	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Check verifies the connection and that the schema is in place.
func (d *DB) Check(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, table := range tables {
		var n int
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("failed to query table %s: %w", table, err)
		}
	}
	return nil
}

// tables in creation order; DropTables walks it backwards.
var tables = []string{"search_area", "survey", "room", "survey_progress"}

const schema = `
CREATE TABLE IF NOT EXISTS search_area (
	search_area_id {{serial}},
	name TEXT NOT NULL UNIQUE,
	abbreviation TEXT NOT NULL,
	bb_n DOUBLE PRECISION NOT NULL,
	bb_e DOUBLE PRECISION NOT NULL,
	bb_s DOUBLE PRECISION NOT NULL,
	bb_w DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS survey (
	survey_id {{serial}},
	search_area_id BIGINT NOT NULL,
	survey_date TEXT NOT NULL,
	survey_description TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	survey_method TEXT NOT NULL,
	status TEXT NOT NULL,
	room_type TEXT NOT NULL DEFAULT '',
	expected_count INTEGER NOT NULL DEFAULT 0,
	total_saved INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_survey_area ON survey(search_area_id);

CREATE TABLE IF NOT EXISTS room (
	survey_id BIGINT NOT NULL,
	room_id TEXT NOT NULL,
	room_type TEXT NOT NULL DEFAULT '',
	host_id TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	reviews INTEGER NOT NULL DEFAULT 0,
	overall_satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0,
	accommodates INTEGER NOT NULL DEFAULT 0,
	bedrooms DOUBLE PRECISION NOT NULL DEFAULT 0,
	bathrooms DOUBLE PRECISION NOT NULL DEFAULT 0,
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	geohash TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	license TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	picture_url TEXT NOT NULL DEFAULT '',
	neighborhood TEXT NOT NULL DEFAULT '',
	pdp_type TEXT NOT NULL DEFAULT '',
	rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	rate_with_service_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	min_nights INTEGER NOT NULL DEFAULT 0,
	max_nights INTEGER NOT NULL DEFAULT 0,
	tree_index TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL,
	PRIMARY KEY (survey_id, room_id)
);

CREATE INDEX IF NOT EXISTS idx_room_geohash ON room(geohash);

CREATE TABLE IF NOT EXISTS survey_progress (
	survey_id BIGINT NOT NULL,
	room_type TEXT NOT NULL DEFAULT '',
	tree_index TEXT NOT NULL,
	bb_n DOUBLE PRECISION NOT NULL,
	bb_e DOUBLE PRECISION NOT NULL,
	bb_s DOUBLE PRECISION NOT NULL,
	bb_w DOUBLE PRECISION NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	sequential INTEGER NOT NULL DEFAULT 0,
	logged_at TEXT NOT NULL,
	PRIMARY KEY (survey_id, room_type, tree_index)
);
`

// CreateTables creates the schema if it does not exist.
func (d *DB) CreateTables(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	ddl := strings.ReplaceAll(schema, "{{serial}}", serial)

	// pgx runs one statement per Exec in extended protocol
	for stmt := range strings.SplitSeq(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// DropTables removes every kanpora table and its data.
func (d *DB) DropTables(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tables[i]); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", tables[i], err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

// timestampFormat is how times are stored. It is fixed width so stored
// values sort chronologically as text.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// timestampFormats are accepted when reading, most specific first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp parses a stored time, returning the zero time when no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
