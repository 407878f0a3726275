package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Fazmin/syncengine/internal/models"
)

// postgresConnector talks to a postgres target via pgx's database/sql
// driver, using $N positional placeholders and information_schema for
// catalog discovery.
type postgresConnector struct {
	db *sql.DB
}

func (c *postgresConnector) Open(ctx context.Context, ds *models.DataSource, password string) error {
	p := buildDSN(ds, password)
	sslmode := "disable"
	if p.SSL {
		sslmode = "require"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, sslmode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres connector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("postgres connector: ping: %w", err)
	}

	c.db = db
	return nil
}

func (c *postgresConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *postgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *postgresConnector) ListTables(ctx context.Context) (*models.DatabaseSchema, error) {
	const query = `
		SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
		       COALESCE(c.column_default, ''),
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND kcu.column_name = c.column_name
		       ) AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres connector: list tables: %w", err)
	}
	defer rows.Close()

	return scanCatalogRows(rows)
}

func (c *postgresConnector) TestConnection(ctx context.Context, ds *models.DataSource, password string) (bool, string) {
	return probeConnection(ctx, &postgresConnector{}, ds, password, "SELECT 1")
}

func (c *postgresConnector) Query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	return queryRows(ctx, c.db, query, params)
}

func (c *postgresConnector) Stream(ctx context.Context, query string, params []any, batchSize int) (*RowStream, error) {
	return openRowStream(ctx, c.db, query, params, batchSize)
}

func (c *postgresConnector) Exec(ctx context.Context, query string, params []any) (int64, error) {
	return execStatement(ctx, c.db, query, params)
}

func (c *postgresConnector) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (c *postgresConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *postgresConnector) InsertBatch(ctx context.Context, schema, table string, columns []string, rows [][]any) (int, error) {
	return execInsertBatch(ctx, c.db, c.QuoteIdentifier, c.Placeholder, schema, table, columns, rows, 500)
}

// scanCatalogRows reduces a flat (schema, table, column, type, nullable,
// default, is_pk) row stream into grouped TableInfo entries. Shared by
// postgres, mysql and mssql, whose information_schema shapes line up.
func scanCatalogRows(rows *sql.Rows) (*models.DatabaseSchema, error) {
	tableIndex := map[string]int{}
	schema := &models.DatabaseSchema{}

	for rows.Next() {
		var tableSchema, tableName, columnName, dataType, isNullable, defaultValue string
		var isPK bool
		if err := rows.Scan(&tableSchema, &tableName, &columnName, &dataType, &isNullable, &defaultValue, &isPK); err != nil {
			return nil, fmt.Errorf("connector: scan catalog row: %w", err)
		}

		key := tableSchema + "." + tableName
		idx, ok := tableIndex[key]
		if !ok {
			schema.Tables = append(schema.Tables, models.TableInfo{Schema: tableSchema, Table: tableName})
			idx = len(schema.Tables) - 1
			tableIndex[key] = idx
		}

		col := models.ColumnInfo{
			Name:         columnName,
			Type:         dataType,
			Nullable:     strings.EqualFold(isNullable, "YES"),
			IsPrimaryKey: isPK,
		}
		if defaultValue != "" {
			col.DefaultValue = &defaultValue
		}
		schema.Tables[idx].Columns = append(schema.Tables[idx].Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector: iterate catalog rows: %w", err)
	}

	return schema, nil
}
