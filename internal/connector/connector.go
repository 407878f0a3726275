// Package connector implements the Connector Registry: a factory that
// returns a dialect-specific Connector for each supported DBType, with
// placeholder syntax, catalog discovery, and batched inserts implemented
// inside each concrete type rather than through inheritance.
package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fazmin/syncengine/internal/models"
)

// Connector is the interface every dialect implementation satisfies. The
// executor and mapper depend only on this interface, never on a concrete
// dialect type.
type Connector interface {
	// Open establishes the underlying *sql.DB from ds's connection fields.
	// password is the already-decrypted credential.
	Open(ctx context.Context, ds *models.DataSource, password string) error

	// Close releases the underlying connection pool.
	Close() error

	// Ping verifies connectivity on an already-open connector.
	Ping(ctx context.Context) error

	// TestConnection opens a fresh connection from ds's fields, runs the
	// dialect's no-op probe (SELECT 1, or PRAGMA schema_version for file
	// databases), and closes. The message carries the driver's error text
	// on failure, or a short confirmation on success.
	TestConnection(ctx context.Context, ds *models.DataSource, password string) (ok bool, message string)

	// ListTables discovers the target database's tables and columns for
	// the schema mapper.
	ListTables(ctx context.Context) (*models.DatabaseSchema, error)

	// Placeholder returns the dialect's bind-parameter syntax for the
	// 1-indexed positional argument n (e.g. "$1", "?", "@p1").
	Placeholder(n int) string

	// QuoteIdentifier quotes a table/column/schema name per dialect rules.
	QuoteIdentifier(name string) string

	// Query runs a parameterized statement and materializes every result
	// row. Placeholders in the statement must use the dialect's own
	// syntax (see Placeholder).
	Query(ctx context.Context, query string, params []any) ([]map[string]any, error)

	// Stream runs a parameterized statement and returns a lazy,
	// forward-only sequence of row batches, each at most batchSize rows.
	// The stream owns the underlying cursor: consume it to completion or
	// call Close, or the connection is held until the pool reclaims it.
	Stream(ctx context.Context, query string, params []any, batchSize int) (*RowStream, error)

	// Exec runs a parameterized DML statement and returns affected rows.
	Exec(ctx context.Context, query string, params []any) (int64, error)

	// InsertBatch inserts rows (each a slice aligned with columns) into
	// schema.table in as few round trips as the dialect allows, returning
	// the number of rows successfully inserted before any error.
	InsertBatch(ctx context.Context, schema, table string, columns []string, rows [][]any) (int, error)
}

// New returns a fresh, unopened Connector for dbType. Call Open before use.
func New(dbType models.DBType) (Connector, error) {
	switch dbType {
	case models.DBTypePostgres:
		return &postgresConnector{}, nil
	case models.DBTypeMySQL:
		return &mysqlConnector{}, nil
	case models.DBTypeMSSQL:
		return &mssqlConnector{}, nil
	case models.DBTypeSQLite:
		return &sqliteConnector{}, nil
	default:
		return nil, fmt.Errorf("connector: unsupported db type %q", dbType)
	}
}

// buildDSN centralizes the host/port/database/ssl-to-DSN assembly shared
// by the server-based dialects (postgres, mysql, mssql); sqlite builds its
// own DSN since it has no host/port/user.
func buildDSN(ds *models.DataSource, password string) connParams {
	return connParams{
		Host:     ds.Host,
		Port:     ds.Port,
		Database: ds.Database,
		Username: ds.Username,
		Password: password,
		SSL:      ds.SSLEnabled,
	}
}

type connParams struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool
}

// execInsertBatch is shared by dialects that can express "INSERT INTO t
// (cols) VALUES (...), (...), ..." as one statement. placeholderFn
// produces the dialect's placeholder for the nth overall bind parameter.
func execInsertBatch(ctx context.Context, db *sql.DB, quote func(string) string, placeholderFn func(int) string, schema, table string, columns []string, rows [][]any, maxRowsPerStatement int) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	qualifiedTable := quote(table)
	if schema != "" {
		qualifiedTable = quote(schema) + "." + quote(table)
	}

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quote(c)
	}

	inserted := 0
	for start := 0; start < len(rows); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt, args := buildInsertStatement(qualifiedTable, quotedCols, chunk, placeholderFn)

		if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
			return inserted, fmt.Errorf("connector: insert batch rows %d-%d: %w", start, end-1, err)
		}
		inserted += len(chunk)
	}

	return inserted, nil
}

func buildInsertStatement(qualifiedTable string, quotedCols []string, rows [][]any, placeholderFn func(int) string) (string, []any) {
	colList := ""
	for i, c := range quotedCols {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}

	args := make([]any, 0, len(rows)*len(quotedCols))
	valueGroups := ""
	n := 1
	for r, row := range rows {
		if r > 0 {
			valueGroups += ", "
		}
		valueGroups += "("
		for c := range quotedCols {
			if c > 0 {
				valueGroups += ", "
			}
			valueGroups += placeholderFn(n)
			n++
			args = append(args, row[c])
		}
		valueGroups += ")"
	}

	stmt := "INSERT INTO " + qualifiedTable + " (" + colList + ") VALUES " + valueGroups
	return stmt, args
}
