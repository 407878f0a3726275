package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/Fazmin/syncengine/internal/models"
)

// sqliteConnector talks to a local file or embedded-replica libsql target
// using ? positional placeholders and sqlite_master/pragma catalog
// discovery. Host/port/username/ssl are unused; Database carries the DSN
// or file path.
type sqliteConnector struct {
	db *sql.DB
}

func (c *sqliteConnector) Open(ctx context.Context, ds *models.DataSource, password string) error {
	dsn := ds.Database
	if dsn == "" {
		return fmt.Errorf("sqlite connector: database (dsn or file path) is required")
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return fmt.Errorf("sqlite connector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("sqlite connector: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("sqlite connector: pragma foreign_keys: %w", err)
	}

	c.db = db
	return nil
}

func (c *sqliteConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *sqliteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqliteConnector) ListTables(ctx context.Context) (*models.DatabaseSchema, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite connector: list tables: %w", err)
	}

	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite connector: scan table name: %w", err)
		}
		tableNames = append(tableNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite connector: iterate table names: %w", err)
	}

	schema := &models.DatabaseSchema{}
	for _, name := range tableNames {
		cols, err := c.listColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, models.TableInfo{Table: name, Columns: cols})
	}

	return schema, nil
}

func (c *sqliteConnector) listColumns(ctx context.Context, table string) ([]models.ColumnInfo, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlite connector: pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var cols []models.ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("sqlite connector: scan pragma row: %w", err)
		}
		col := models.ColumnInfo{
			Name:         name,
			Type:         colType,
			Nullable:     notNull == 0,
			IsPrimaryKey: pk > 0,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		cols = append(cols, col)
	}

	return cols, rows.Err()
}

func (c *sqliteConnector) TestConnection(ctx context.Context, ds *models.DataSource, password string) (bool, string) {
	return probeConnection(ctx, &sqliteConnector{}, ds, password, "PRAGMA schema_version")
}

func (c *sqliteConnector) Query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	return queryRows(ctx, c.db, query, params)
}

func (c *sqliteConnector) Stream(ctx context.Context, query string, params []any, batchSize int) (*RowStream, error) {
	return openRowStream(ctx, c.db, query, params, batchSize)
}

func (c *sqliteConnector) Exec(ctx context.Context, query string, params []any) (int64, error) {
	return execStatement(ctx, c.db, query, params)
}

func (c *sqliteConnector) Placeholder(n int) string {
	return "?"
}

func (c *sqliteConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *sqliteConnector) InsertBatch(ctx context.Context, schema, table string, columns []string, rows [][]any) (int, error) {
	return execInsertBatch(ctx, c.db, c.QuoteIdentifier, c.Placeholder, schema, table, columns, rows, 500)
}
