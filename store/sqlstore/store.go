// Package sqlstore is a CredentialStore over database/sql. It supports
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx) and applies embedded
// goose migrations on Open.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/store/sqlstore/migrations"
)

// Dialect selects the driver and migration set.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Config describes how to reach the database.
type Config struct {
	Dialect      Dialect
	DSN          string
	MaxOpenConns int
}

// Store persists user records in a single users table keyed by username.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// userRow mirrors the users table. created_at is unix milliseconds so both
// dialects share one representation.
type userRow struct {
	Username      string `db:"username"`
	PasswordHash  string `db:"password_hash"`
	FaceTemplate  []byte `db:"face_template"`
	VoiceTemplate []byte `db:"voice_template"`
	Phone         string `db:"phone"`
	CreatedAt     int64  `db:"created_at"`
}

// Open connects, pings and migrates the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	switch cfg.Dialect {
	case DialectSQLite, DialectPostgres:
	case "":
		cfg.Dialect = DialectSQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", cfg.Dialect)
	}

	db, err := sqlx.Open(cfg.Dialect.driver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Dialect, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Dialect, err)
	}

	s := New(db, cfg.Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The schema must already exist.
func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate applies pending migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	dir := "sqlite"
	if s.dialect == DialectPostgres {
		dir = "postgres"
	}
	if err := goose.UpContext(ctx, s.db.DB, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const insertUser = `INSERT INTO users (username, password_hash, face_template, voice_template, phone, created_at)
VALUES (:username, :password_hash, :face_template, :voice_template, :phone, :created_at)`

// CreateUser inserts rec. The primary key on username makes the check and
// the insert one statement; a conflict is reported as mfa.ErrDuplicateUsername.
func (s *Store) CreateUser(ctx context.Context, rec mfa.UserRecord) error {
	row := userRow{
		Username:      rec.Username,
		PasswordHash:  rec.PasswordHash,
		FaceTemplate:  rec.FaceTemplate,
		VoiceTemplate: rec.VoiceTemplate,
		Phone:         rec.Phone,
		CreatedAt:     rec.CreatedAt.UTC().UnixMilli(),
	}
	if _, err := s.db.NamedExecContext(ctx, insertUser, row); err != nil {
		if isUniqueViolation(err) {
			return mfa.ErrDuplicateUsername
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const selectUser = `SELECT username, password_hash, face_template, voice_template, phone, created_at
FROM users WHERE username = ?`

// GetUser returns the record for username or mfa.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (mfa.UserRecord, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(selectUser), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mfa.UserRecord{}, mfa.ErrNotFound
		}
		return mfa.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return mfa.UserRecord{
		Username:      row.Username,
		PasswordHash:  row.PasswordHash,
		FaceTemplate:  row.FaceTemplate,
		VoiceTemplate: row.VoiceTemplate,
		Phone:         row.Phone,
		CreatedAt:     time.UnixMilli(row.CreatedAt).UTC(),
	}, nil
}

var _ mfa.CredentialStore = (*Store)(nil)
