package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fazmin/syncengine/internal/models"
)

func TestNewReturnsConnectorPerDBType(t *testing.T) {
	cases := []models.DBType{
		models.DBTypePostgres,
		models.DBTypeMySQL,
		models.DBTypeMSSQL,
		models.DBTypeSQLite,
	}
	for _, dbType := range cases {
		c, err := New(dbType)
		require.NoErrorf(t, err, "New(%q)", dbType)
		assert.NotNilf(t, c, "New(%q)", dbType)
	}
}

func TestNewRejectsUnknownDBType(t *testing.T) {
	_, err := New(models.DBType("oracle"))
	require.Error(t, err)
}

func TestPlaceholderStyles(t *testing.T) {
	pg := &postgresConnector{}
	assert.Equal(t, "$3", pg.Placeholder(3))

	my := &mysqlConnector{}
	assert.Equal(t, "?", my.Placeholder(3))

	ms := &mssqlConnector{}
	assert.Equal(t, "@p3", ms.Placeholder(3))

	sl := &sqliteConnector{}
	assert.Equal(t, "?", sl.Placeholder(3))
}

func TestQuoteIdentifierStyles(t *testing.T) {
	pg := &postgresConnector{}
	assert.Equal(t, `"we""ird"`, pg.QuoteIdentifier(`we"ird`))

	my := &mysqlConnector{}
	assert.Equal(t, "`orders`", my.QuoteIdentifier("orders"))

	ms := &mssqlConnector{}
	assert.Equal(t, "[orders]", ms.QuoteIdentifier("orders"))
}

func TestStreamBatchesSQLiteRows(t *testing.T) {
	ctx := context.Background()

	conn := &sqliteConnector{}
	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "file:" + t.TempDir() + "/stream.db"}
	require.NoError(t, conn.Open(ctx, ds, ""))
	defer conn.Close()

	_, err := conn.Exec(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	rows := make([][]any, 0, 7)
	for i := 1; i <= 7; i++ {
		rows = append(rows, []any{i, "item"})
	}
	inserted, err := conn.InsertBatch(ctx, "", "items", []string{"id", "name"}, rows)
	require.NoError(t, err)
	require.Equal(t, 7, inserted)

	stream, err := conn.Stream(ctx, "SELECT id, name FROM items ORDER BY id", nil, 3)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"id", "name"}, stream.Columns())

	var batchSizes []int
	total := 0
	for {
		batch, err := stream.Next()
		require.NoError(t, err)
		if batch == nil {
			break
		}
		batchSizes = append(batchSizes, len(batch))
		total += len(batch)
	}
	assert.Equal(t, []int{3, 3, 1}, batchSizes)
	assert.Equal(t, 7, total)
}

func TestQueryMaterializesAndExecCounts(t *testing.T) {
	ctx := context.Background()

	conn := &sqliteConnector{}
	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "file:" + t.TempDir() + "/query.db"}
	require.NoError(t, conn.Open(ctx, ds, ""))
	defer conn.Close()

	_, err := conn.Exec(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	affected, err := conn.Exec(ctx, "INSERT INTO items (id, name) VALUES (?, ?)", []any{1, "widget"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	out, err := conn.Query(ctx, "SELECT name FROM items WHERE id = ?", []any{1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "widget", out[0]["name"])
}

func TestTestConnectionSQLite(t *testing.T) {
	conn := &sqliteConnector{}
	ds := &models.DataSource{DBType: models.DBTypeSQLite, Database: "file:" + t.TempDir() + "/probe.db"}

	ok, msg := conn.TestConnection(context.Background(), ds, "")
	assert.True(t, ok, msg)

	bad := &models.DataSource{DBType: models.DBTypeSQLite}
	ok, msg = conn.TestConnection(context.Background(), bad, "")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}

func TestBuildInsertStatementMultiRow(t *testing.T) {
	stmt, args := buildInsertStatement(`"orders"`, []string{`"id"`, `"name"`},
		[][]any{{1, "a"}, {2, "b"}},
		func(n int) string { return "?" })

	require.Equal(t, `INSERT INTO "orders" ("id", "name") VALUES (?, ?), (?, ?)`, stmt)
	require.Len(t, args, 4)
	assert.Equal(t, 1, args[0])
	assert.Equal(t, "b", args[3])
}
