// Package sqlstore appends records to relational tables through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/redshift"
	_ "github.com/golang-migrate/migrate/v4/database/snowflake"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

//go:embed migrations
var migrations embed.FS

// Dialect identifies the target database.
type Dialect string

const (
	Postgres  Dialect = "postgres"
	Redshift  Dialect = "redshift"
	MySQL     Dialect = "mysql"
	Snowflake Dialect = "snowflake"
	SQLite    Dialect = "sqlite3"
)

var (
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")
	ErrInvalidIdentifier  = errors.New("invalid table identifier")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ParseDialect validates a STORE_SQL_DIALECT value.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case Postgres, Redshift, MySQL, Snowflake, SQLite:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
	}
}

func (d Dialect) driverName() string {
	if d == Redshift {
		return "postgres"
	}
	return string(d)
}

func (d Dialect) migrationsDir() string {
	if d == Redshift {
		return "migrations/postgres"
	}
	return "migrations/" + string(d)
}

// Store inserts one row per Export call. Each insert is its own statement;
// there is no cross-record transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	dsn     string
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect, dsn: dsn}, nil
}

// Migrate creates the weather and traffic tables if they are missing.
func (s *Store) Migrate() error {
	sub, err := fs.Sub(migrations, s.dialect.migrationsDir())
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(s.dialect, s.dsn))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("sqlstore: schema is up to date")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Infof("sqlstore: migrations applied for %s", s.dialect)
	return nil
}

// migrationURL converts a driver DSN into the URL form golang-migrate expects.
func migrationURL(d Dialect, dsn string) string {
	withParam := func(u string) string {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		return u + sep + "x-migrations-table=etl_schema_migrations"
	}

	switch d {
	case Postgres:
		return withParam(dsn)
	case Redshift:
		return withParam(strings.Replace(dsn, "postgres://", "redshift://", 1))
	case MySQL, Snowflake, SQLite:
		if strings.HasPrefix(dsn, string(d)+"://") {
			return withParam(dsn)
		}
		return withParam(string(d) + "://" + dsn)
	default:
		return dsn
	}
}

// Export appends rec as a new row of table.
func (s *Store) Export(ctx context.Context, table string, rec collector.Record) error {
	query, err := InsertQuery(s.dialect, table, rec.Columns())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, rec.Values()...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// InsertQuery builds a parameterized INSERT for the dialect.
func InsertQuery(d Dialect, table string, columns []string) (string, error) {
	if !identRe.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	for _, c := range columns {
		if !identRe.MatchString(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, c)
		}
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoteColumns(d, columns), ", "), strings.Join(placeholders, ", "))
	return Rebind(d, q), nil
}

func quoteColumns(d Dialect, columns []string) []string {
	if d != MySQL {
		return columns
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = "`" + c + "`"
	}
	return out
}

// Rebind rewrites ? placeholders to $n for postgres-style dialects.
func Rebind(d Dialect, query string) string {
	if d != Postgres && d != Redshift {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}
