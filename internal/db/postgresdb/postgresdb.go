// Package postgresdb provides a PostgreSQL-backed document store. Documents
// are kept as JSONB rows keyed by (collection, key); the schema is managed
// with goose migrations.
package postgresdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/multierr"
)

// PostgresDB is the document store backed by a PostgreSQL database.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset drops every table in the public schema before migrating.
// Meant for tests.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New connects to the database and applies the migrations found in
// migrationsDir.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	return newWithDB(ctx, database, connectionTimeout, migrationsDir, options)
}

// newWithDB prepares the schema on database and takes ownership of it:
// database is closed when preparation fails.
func newWithDB(
	ctx context.Context,
	database *sql.DB,
	connectionTimeout time.Duration,
	migrationsDir string,
	options *initOptions,
) (*PostgresDB, error) {
	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := result.prepare(ctx, migrationsDir, options); err != nil {
		return nil, multierr.Append(err, database.Close())
	}

	return result, nil
}

func (db *PostgresDB) prepare(ctx context.Context, migrationsDir string, options *initOptions) error {
	if options.DBPreReset {
		if err := db.resetDB(ctx); err != nil {
			return fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/prepare(): error while `db.resetDB()` calling: %w",
				err,
			)
		}
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/prepare(): error while `goose.SetDialect()` calling: %w",
			err,
		)
	}

	if err := goose.UpContext(ctx, db.database, migrationsDir); err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/prepare(): error while `goose.UpContext()` calling: %w",
			err,
		)
	}

	return nil
}

// SetDocument upserts the JSON encoding of body under collection/key.
func (db *PostgresDB) SetDocument(ctx context.Context, collection, key string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/SetDocument(): error while `json.Marshal()` calling: %w",
			err,
		)
	}

	_, err = db.database.ExecContext(
		ctx,
		`
			INSERT INTO documents (collection, key, body, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (collection, key)
				DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		`,
		collection,
		key,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/SetDocument(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

// GetDocument loads collection/key into dst.
func (db *PostgresDB) GetDocument(ctx context.Context, collection, key string, dst any) (bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT body FROM documents WHERE collection = $1 AND key = $2`,
		collection,
		key,
	)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/GetDocument(): error while `json.Unmarshal()` calling: %w",
			err,
		)
	}

	return true, nil
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}
