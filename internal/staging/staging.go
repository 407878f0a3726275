// Package staging implements the Staging Store: a holding area for rows
// extracted by a job but not yet committed to the target database,
// keeping small payloads inline in the job record and spilling large
// ones to disk so the control-plane database never grows unbounded.
package staging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store puts, gets, and deletes staged row payloads for a job, choosing
// between returning data inline (small payloads) or a file path (large
// payloads) based on spillThreshold.
type Store struct {
	dir            string
	spillThreshold int
}

// New builds a Store rooted at dir, spilling any payload larger than
// spillThreshold bytes to a file instead of returning it inline.
func New(dir string, spillThreshold int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create dir: %w", err)
	}
	return &Store{dir: dir, spillThreshold: spillThreshold}, nil
}

// Result is what Put returns: either Inline is populated (payload
// small enough to store in the job row) or Path is (payload spilled to
// disk under the store's dir).
type Result struct {
	Inline json.RawMessage
	Path   string
}

// Put serializes rows and returns where it should live. Callers persist
// the returned Result onto the job's StagedDataInline/StagedDataPath
// fields.
func (s *Store) Put(jobID string, rows []map[string]any) (*Result, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("staging: marshal rows: %w", err)
	}

	if len(payload) <= s.spillThreshold {
		return &Result{Inline: payload}, nil
	}

	path := s.pathFor(jobID)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("staging: write spill file: %w", err)
	}
	return &Result{Path: path}, nil
}

// Get reads back rows staged for a job, given the job's StagedDataInline
// and StagedDataPath fields (exactly one should be non-empty).
func (s *Store) Get(inline json.RawMessage, path string) ([]map[string]any, error) {
	payload, err := s.payload(inline, path)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("staging: decode rows: %w", err)
	}
	return rows, nil
}

// Columns returns the union of column names across a staged payload's
// rows, in first-seen order: the order keys appear in the serialized
// JSON, scanning rows front to back. The order is stable across repeated
// reads of the same payload, so a UI paging through staged rows renders
// a consistent column header.
func (s *Store) Columns(inline json.RawMessage, path string) ([]string, error) {
	payload, err := s.payload(inline, path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	if _, err := dec.Token(); err != nil { // opening [
		return nil, fmt.Errorf("staging: decode rows: %w", err)
	}

	seen := make(map[string]bool)
	var columns []string
	for dec.More() {
		if _, err := dec.Token(); err != nil { // opening {
			return nil, fmt.Errorf("staging: decode row: %w", err)
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("staging: decode key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("staging: unexpected token %v for object key", keyTok)
			}
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("staging: skip value: %w", err)
			}
		}
		if _, err := dec.Token(); err != nil { // closing }
			return nil, fmt.Errorf("staging: decode row end: %w", err)
		}
	}

	return columns, nil
}

func (s *Store) payload(inline json.RawMessage, path string) ([]byte, error) {
	switch {
	case len(inline) > 0:
		return inline, nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("staging: read spill file: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("staging: neither inline data nor spill path set")
	}
}

// Delete removes a job's spill file, if any. Deleting a job with only
// inline data is a no-op since there's nothing on disk to clean up.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("staging: delete spill file: %w", err)
	}
	return nil
}

func (s *Store) pathFor(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}
