package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

func (r *SQLiteRepository) CreateDataSource(ctx context.Context, ds *models.DataSource) error {
	if ds.ID == "" {
		ds.ID = newID()
	}
	now := time.Now()
	ds.CreatedAt, ds.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, db_type, host, port, database, username, password,
			ssl_enabled, connection_status, last_tested_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.DBType, ds.Host, ds.Port, ds.Database, ds.Username, ds.Password,
		ds.SSLEnabled, ds.ConnectionStatus, nullTime(ds.LastTestedAt), formatTime(ds.CreatedAt), formatTime(ds.UpdatedAt))
	if err != nil {
		return fmt.Errorf("repository: create data source: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetDataSource(ctx context.Context, id string) (*models.DataSource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, db_type, host, port, database, username, password, ssl_enabled,
			connection_status, last_tested_at, created_at, updated_at
		FROM data_sources WHERE id = ?`, id)
	return scanDataSource(row)
}

func (r *SQLiteRepository) ListDataSources(ctx context.Context) ([]models.DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, db_type, host, port, database, username, password, ssl_enabled,
			connection_status, last_tested_at, created_at, updated_at
		FROM data_sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("repository: list data sources: %w", err)
	}
	defer rows.Close()

	var out []models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateDataSource(ctx context.Context, ds *models.DataSource) error {
	ds.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE data_sources SET db_type = ?, host = ?, port = ?, database = ?, username = ?,
			password = ?, ssl_enabled = ?, connection_status = ?, last_tested_at = ?, updated_at = ?
		WHERE id = ?`,
		ds.DBType, ds.Host, ds.Port, ds.Database, ds.Username, ds.Password,
		ds.SSLEnabled, ds.ConnectionStatus, nullTime(ds.LastTestedAt), formatTime(ds.UpdatedAt), ds.ID)
	if err != nil {
		return fmt.Errorf("repository: update data source: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteDataSource(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM data_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: delete data source: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataSource(row rowScanner) (*models.DataSource, error) {
	var ds models.DataSource
	var lastTested sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&ds.ID, &ds.DBType, &ds.Host, &ds.Port, &ds.Database, &ds.Username,
		&ds.Password, &ds.SSLEnabled, &ds.ConnectionStatus, &lastTested, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan data source: %w", err)
	}

	ds.LastTestedAt, err = parseNullTime(lastTested)
	if err != nil {
		return nil, err
	}
	if ds.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ds.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &ds, nil
}
