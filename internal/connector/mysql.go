package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Fazmin/syncengine/internal/models"
)

// mysqlConnector talks to a mysql/mariadb target using ? positional
// placeholders and information_schema catalog discovery, same shape as
// postgres but with backtick identifier quoting.
type mysqlConnector struct {
	db *sql.DB
}

func (c *mysqlConnector) Open(ctx context.Context, ds *models.DataSource, password string) error {
	p := buildDSN(ds, password)
	tlsParam := "false"
	if p.SSL {
		tlsParam = "true"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, tlsParam)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("mysql connector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("mysql connector: ping: %w", err)
	}

	c.db = db
	return nil
}

func (c *mysqlConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *mysqlConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *mysqlConnector) ListTables(ctx context.Context) (*models.DatabaseSchema, error) {
	const query = `
		SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
		       COALESCE(c.column_default, ''),
		       c.column_key = 'PRI' AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema = DATABASE()
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: list tables: %w", err)
	}
	defer rows.Close()

	return scanCatalogRows(rows)
}

func (c *mysqlConnector) TestConnection(ctx context.Context, ds *models.DataSource, password string) (bool, string) {
	return probeConnection(ctx, &mysqlConnector{}, ds, password, "SELECT 1")
}

func (c *mysqlConnector) Query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	return queryRows(ctx, c.db, query, params)
}

func (c *mysqlConnector) Stream(ctx context.Context, query string, params []any, batchSize int) (*RowStream, error) {
	return openRowStream(ctx, c.db, query, params, batchSize)
}

func (c *mysqlConnector) Exec(ctx context.Context, query string, params []any) (int64, error) {
	return execStatement(ctx, c.db, query, params)
}

func (c *mysqlConnector) Placeholder(n int) string {
	return "?"
}

func (c *mysqlConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *mysqlConnector) InsertBatch(ctx context.Context, schema, table string, columns []string, rows [][]any) (int, error) {
	return execInsertBatch(ctx, c.db, c.QuoteIdentifier, c.Placeholder, schema, table, columns, rows, 500)
}
