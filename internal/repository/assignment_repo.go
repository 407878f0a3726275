package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Fazmin/syncengine/internal/models"
)

func (r *SQLiteRepository) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	captureJSON, err := encodeCaptureConfig(a.LLMCaptureConfig)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assignments (id, name, data_source_id, web_source_id, start_url, target_schema,
			target_table, sync_mode, schedule_type, cron_expression, status, extraction_method,
			llm_capture_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.DataSourceID, a.WebSourceID, a.StartURL, a.TargetSchema, a.TargetTable,
		a.SyncMode, a.ScheduleType, a.CronExpression, a.Status, a.ExtractionMethod, captureJSON,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("repository: create assignment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	row := r.db.QueryRowContext(ctx, assignmentSelectColumns+" FROM assignments WHERE id = ?", id)
	return scanAssignment(row)
}

func (r *SQLiteRepository) ListAssignments(ctx context.Context) ([]models.Assignment, error) {
	return r.queryAssignments(ctx, assignmentSelectColumns+" FROM assignments ORDER BY created_at")
}

func (r *SQLiteRepository) ListActiveAssignments(ctx context.Context) ([]models.Assignment, error) {
	return r.queryAssignments(ctx, assignmentSelectColumns+" FROM assignments WHERE status = 'active' ORDER BY created_at")
}

func (r *SQLiteRepository) queryAssignments(ctx context.Context, query string) ([]models.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: list assignments: %w", err)
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateAssignment(ctx context.Context, a *models.Assignment) error {
	a.UpdatedAt = time.Now()
	captureJSON, err := encodeCaptureConfig(a.LLMCaptureConfig)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE assignments SET name = ?, data_source_id = ?, web_source_id = ?, start_url = ?,
			target_schema = ?, target_table = ?, sync_mode = ?, schedule_type = ?, cron_expression = ?,
			status = ?, extraction_method = ?, llm_capture_config = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.DataSourceID, a.WebSourceID, a.StartURL, a.TargetSchema, a.TargetTable,
		a.SyncMode, a.ScheduleType, a.CronExpression, a.Status, a.ExtractionMethod, captureJSON,
		formatTime(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("repository: update assignment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAssignment(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: delete assignment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReplaceExtractionRules(ctx context.Context, assignmentID string, rules []models.ExtractionRule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_rules WHERE assignment_id = ?`, assignmentID); err != nil {
		return fmt.Errorf("repository: clear extraction rules: %w", err)
	}

	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = newID()
		}
		rule.AssignmentID = assignmentID

		_, err := tx.ExecContext(ctx, `
			INSERT INTO extraction_rules (id, assignment_id, sort_order, target_column, selector,
				selector_type, attribute, transform_type, transform_config, default_value, data_type,
				is_required, validation_regex, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.AssignmentID, rule.SortOrder, rule.TargetColumn, rule.Selector,
			rule.SelectorType, rule.Attribute, rule.TransformType, nullableRaw(rule.TransformConfig),
			nullableStringPtr(rule.DefaultValue), rule.DataType, rule.IsRequired, rule.ValidationRegex, rule.IsActive)
		if err != nil {
			return fmt.Errorf("repository: insert extraction rule: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListExtractionRules(ctx context.Context, assignmentID string) ([]models.ExtractionRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, assignment_id, sort_order, target_column, selector, selector_type, attribute,
			transform_type, transform_config, default_value, data_type, is_required, validation_regex, is_active
		FROM extraction_rules WHERE assignment_id = ? ORDER BY sort_order`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("repository: list extraction rules: %w", err)
	}
	defer rows.Close()

	var out []models.ExtractionRule
	for rows.Next() {
		var rule models.ExtractionRule
		var transformConfig, defaultValue sql.NullString

		err := rows.Scan(&rule.ID, &rule.AssignmentID, &rule.SortOrder, &rule.TargetColumn, &rule.Selector,
			&rule.SelectorType, &rule.Attribute, &rule.TransformType, &transformConfig, &defaultValue,
			&rule.DataType, &rule.IsRequired, &rule.ValidationRegex, &rule.IsActive)
		if err != nil {
			return nil, fmt.Errorf("repository: scan extraction rule: %w", err)
		}

		if transformConfig.Valid {
			rule.TransformConfig = json.RawMessage(transformConfig.String)
		}
		if defaultValue.Valid {
			v := defaultValue.String
			rule.DefaultValue = &v
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

const assignmentSelectColumns = `SELECT id, name, data_source_id, web_source_id, start_url, target_schema,
	target_table, sync_mode, schedule_type, cron_expression, status, extraction_method,
	llm_capture_config, created_at, updated_at`

func encodeCaptureConfig(cfg *models.LLMCaptureConfig) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("repository: marshal llm capture config: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	var captureJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.Name, &a.DataSourceID, &a.WebSourceID, &a.StartURL, &a.TargetSchema,
		&a.TargetTable, &a.SyncMode, &a.ScheduleType, &a.CronExpression, &a.Status, &a.ExtractionMethod,
		&captureJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan assignment: %w", err)
	}

	if captureJSON.Valid {
		var cfg models.LLMCaptureConfig
		if err := json.Unmarshal([]byte(captureJSON.String), &cfg); err != nil {
			return nil, fmt.Errorf("repository: decode llm capture config: %w", err)
		}
		a.LLMCaptureConfig = &cfg
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &a, nil
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
