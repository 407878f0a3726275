package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

func (r *SQLiteRepository) CreateWebSource(ctx context.Context, ws *models.WebSource) error {
	if ws.ID == "" {
		ws.ID = newID()
	}
	now := time.Now()
	ws.CreatedAt, ws.UpdatedAt = now, now

	urlListJSON, paginationJSON, err := encodeWebSourceJSON(ws)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO web_sources (id, base_url, is_list_mode, url_list, scraper_type, auth_type,
			auth_config, request_delay_ms, max_concurrent, pagination_type, pagination_config,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.BaseURL, ws.IsListMode, urlListJSON, ws.ScraperType, ws.AuthType,
		nullableRaw(ws.AuthConfig), ws.RequestDelayMs, ws.MaxConcurrent, ws.PaginationType, paginationJSON,
		formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt))
	if err != nil {
		return fmt.Errorf("repository: create web source: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetWebSource(ctx context.Context, id string) (*models.WebSource, error) {
	row := r.db.QueryRowContext(ctx, webSourceSelectColumns+" FROM web_sources WHERE id = ?", id)
	return scanWebSource(row)
}

func (r *SQLiteRepository) ListWebSources(ctx context.Context) ([]models.WebSource, error) {
	rows, err := r.db.QueryContext(ctx, webSourceSelectColumns+" FROM web_sources ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("repository: list web sources: %w", err)
	}
	defer rows.Close()

	var out []models.WebSource
	for rows.Next() {
		ws, err := scanWebSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateWebSource(ctx context.Context, ws *models.WebSource) error {
	ws.UpdatedAt = time.Now()
	urlListJSON, paginationJSON, err := encodeWebSourceJSON(ws)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE web_sources SET base_url = ?, is_list_mode = ?, url_list = ?, scraper_type = ?,
			auth_type = ?, auth_config = ?, request_delay_ms = ?, max_concurrent = ?,
			pagination_type = ?, pagination_config = ?, updated_at = ?
		WHERE id = ?`,
		ws.BaseURL, ws.IsListMode, urlListJSON, ws.ScraperType, ws.AuthType,
		nullableRaw(ws.AuthConfig), ws.RequestDelayMs, ws.MaxConcurrent, ws.PaginationType, paginationJSON,
		formatTime(ws.UpdatedAt), ws.ID)
	if err != nil {
		return fmt.Errorf("repository: update web source: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteWebSource(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM web_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: delete web source: %w", err)
	}
	return nil
}

const webSourceSelectColumns = `SELECT id, base_url, is_list_mode, url_list, scraper_type, auth_type,
	auth_config, request_delay_ms, max_concurrent, pagination_type, pagination_config, created_at, updated_at`

func encodeWebSourceJSON(ws *models.WebSource) (urlListJSON, paginationJSON string, err error) {
	urlListBytes, err := json.Marshal(ws.URLList)
	if err != nil {
		return "", "", fmt.Errorf("repository: marshal url list: %w", err)
	}
	paginationBytes, err := json.Marshal(ws.Pagination)
	if err != nil {
		return "", "", fmt.Errorf("repository: marshal pagination config: %w", err)
	}
	return string(urlListBytes), string(paginationBytes), nil
}

func scanWebSource(row rowScanner) (*models.WebSource, error) {
	var ws models.WebSource
	var urlListJSON, paginationJSON string
	var authConfig sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&ws.ID, &ws.BaseURL, &ws.IsListMode, &urlListJSON, &ws.ScraperType, &ws.AuthType,
		&authConfig, &ws.RequestDelayMs, &ws.MaxConcurrent, &ws.PaginationType, &paginationJSON,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan web source: %w", err)
	}

	if err := json.Unmarshal([]byte(urlListJSON), &ws.URLList); err != nil {
		return nil, fmt.Errorf("repository: decode url list: %w", err)
	}
	if paginationJSON != "" {
		if err := json.Unmarshal([]byte(paginationJSON), &ws.Pagination); err != nil {
			return nil, fmt.Errorf("repository: decode pagination config: %w", err)
		}
	}
	if authConfig.Valid {
		ws.AuthConfig = json.RawMessage(authConfig.String)
	}
	if ws.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &ws, nil
}

func nullableRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(string(raw)), Valid: true}
}
