package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/Fazmin/syncengine/internal/models"
)

// mssqlConnector talks to a SQL Server target using @pN named
// placeholders and INFORMATION_SCHEMA catalog discovery, with
// bracket-style identifier quoting.
type mssqlConnector struct {
	db *sql.DB
}

func (c *mssqlConnector) Open(ctx context.Context, ds *models.DataSource, password string) error {
	p := buildDSN(ds, password)
	encrypt := "disable"
	if p.SSL {
		encrypt = "true"
	}

	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, encrypt)

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return fmt.Errorf("mssql connector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("mssql connector: ping: %w", err)
	}

	c.db = db
	return nil
}

func (c *mssqlConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *mssqlConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *mssqlConnector) ListTables(ctx context.Context) (*models.DatabaseSchema, error) {
	const query = `
		SELECT c.TABLE_SCHEMA, c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE,
		       ISNULL(c.COLUMN_DEFAULT, ''),
		       CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END AS IS_PK
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
		    SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
		    FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		    JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		      ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
		    WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA AND pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mssql connector: list tables: %w", err)
	}
	defer rows.Close()

	return scanCatalogRows(rows)
}

func (c *mssqlConnector) TestConnection(ctx context.Context, ds *models.DataSource, password string) (bool, string) {
	return probeConnection(ctx, &mssqlConnector{}, ds, password, "SELECT 1")
}

func (c *mssqlConnector) Query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	return queryRows(ctx, c.db, query, params)
}

func (c *mssqlConnector) Stream(ctx context.Context, query string, params []any, batchSize int) (*RowStream, error) {
	return openRowStream(ctx, c.db, query, params, batchSize)
}

func (c *mssqlConnector) Exec(ctx context.Context, query string, params []any) (int64, error) {
	return execStatement(ctx, c.db, query, params)
}

func (c *mssqlConnector) Placeholder(n int) string {
	return fmt.Sprintf("@p%d", n)
}

func (c *mssqlConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (c *mssqlConnector) InsertBatch(ctx context.Context, schema, table string, columns []string, rows [][]any) (int, error) {
	return execInsertBatch(ctx, c.db, c.QuoteIdentifier, c.Placeholder, schema, table, columns, rows, 500)
}
