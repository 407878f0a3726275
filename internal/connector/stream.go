package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fazmin/syncengine/internal/models"
)

// RowStream is a finite, forward-only, non-restartable sequence of row
// batches over a live cursor. Next returns batches of at most batchSize
// rows until it returns (nil, nil); the final batch may be shorter.
// Callers must consume the stream to completion or call Close, which
// releases the cursor and is safe to call more than once.
type RowStream struct {
	rows      *sql.Rows
	columns   []string
	batchSize int
	done      bool
}

// Columns returns the result set's column names in select order.
func (s *RowStream) Columns() []string {
	return s.columns
}

// Next returns the next batch of rows, or (nil, nil) once the stream is
// exhausted. Exhaustion closes the cursor automatically.
func (s *RowStream) Next() ([]map[string]any, error) {
	if s.done {
		return nil, nil
	}

	batch := make([]map[string]any, 0, s.batchSize)
	for len(batch) < s.batchSize && s.rows.Next() {
		row, err := scanRowMap(s.rows, s.columns)
		if err != nil {
			s.Close()
			return nil, err
		}
		batch = append(batch, row)
	}

	if len(batch) < s.batchSize {
		err := s.rows.Err()
		s.Close()
		if err != nil {
			return nil, fmt.Errorf("connector: stream rows: %w", err)
		}
	}

	if len(batch) == 0 {
		return nil, nil
	}
	return batch, nil
}

// Close releases the stream's cursor early. Idempotent.
func (s *RowStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.rows.Close()
}

// openRowStream starts query on db and wraps the cursor in a RowStream.
func openRowStream(ctx context.Context, db *sql.DB, query string, params []any, batchSize int) (*RowStream, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("connector: query: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("connector: read columns: %w", err)
	}

	return &RowStream{rows: rows, columns: columns, batchSize: batchSize}, nil
}

// queryRows materializes every row of query into column-keyed maps.
func queryRows(ctx context.Context, db *sql.DB, query string, params []any) ([]map[string]any, error) {
	stream, err := openRowStream(ctx, db, query, params, 500)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var out []map[string]any
	for {
		batch, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return out, nil
		}
		out = append(out, batch...)
	}
}

// execStatement runs a DML statement and reports affected rows. Dialects
// whose drivers cannot report the count return 0 with no error.
func execStatement(ctx context.Context, db *sql.DB, query string, params []any) (int64, error) {
	result, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("connector: exec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// scanRowMap scans the cursor's current row into a column-keyed map,
// converting []byte values to string so callers see text, not raw bytes.
func scanRowMap(rows *sql.Rows, columns []string) (map[string]any, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("connector: scan row: %w", err)
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
		} else {
			row[col] = values[i]
		}
	}
	return row, nil
}

// probeConnection implements TestConnection for every dialect: open a
// fresh connection, run the dialect's probe, close.
func probeConnection(ctx context.Context, c Connector, ds *models.DataSource, password, probe string) (bool, string) {
	if err := c.Open(ctx, ds, password); err != nil {
		return false, err.Error()
	}
	defer c.Close()

	if _, err := c.Query(ctx, probe, nil); err != nil {
		return false, err.Error()
	}
	return true, "connection ok"
}
