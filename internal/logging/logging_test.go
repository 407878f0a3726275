package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextHandlerInjectsJobID(t *testing.T) {
	var buf bytes.Buffer
	handler := &contextHandler{Handler: slog.NewTextHandler(&buf, nil)}
	logger := slog.New(handler)

	ctx := WithJobID(context.Background(), "job-123")
	logger.InfoContext(ctx, "extracted page")

	if !strings.Contains(buf.String(), "job_id=job-123") {
		t.Errorf("expected log line to contain job_id=job-123, got %q", buf.String())
	}
}

func TestContextHandlerOmitsMissingIDs(t *testing.T) {
	var buf bytes.Buffer
	handler := &contextHandler{Handler: slog.NewTextHandler(&buf, nil)}
	logger := slog.New(handler)

	logger.InfoContext(context.Background(), "no ids here")

	if strings.Contains(buf.String(), "job_id=") {
		t.Errorf("expected no job_id attr, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
