package staging

import (
	"testing"
)

func TestPutSmallPayloadStaysInline(t *testing.T) {
	store, err := New(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := store.Put("job-1", []map[string]any{{"name": "a"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Inline == nil || result.Path != "" {
		t.Errorf("expected inline result, got %+v", result)
	}
}

func TestPutLargePayloadSpillsToDisk(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows := make([]map[string]any, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, map[string]any{"name": "widget-with-a-long-name", "index": i})
	}

	result, err := store.Put("job-2", rows)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Path == "" || result.Inline != nil {
		t.Errorf("expected spilled result, got %+v", result)
	}
}

func TestGetRoundTripsInlineAndSpilled(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows := []map[string]any{{"name": "a"}, {"name": "b"}}
	result, err := store.Put("job-3", rows)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(result.Inline, result.Path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0]["name"] != "a" {
		t.Errorf("got = %+v", got)
	}
}

func TestDeleteRemovesSpillFile(t *testing.T) {
	store, err := New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows := []map[string]any{{"name": "a-fairly-long-value-to-force-a-spill"}}
	result, err := store.Put("job-4", rows)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Path == "" {
		t.Fatal("expected payload to spill")
	}

	if err := store.Delete(result.Path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(nil, result.Path); err == nil {
		t.Fatal("expected error reading deleted spill file")
	}
}

func TestColumnsPreserveFirstSeenOrder(t *testing.T) {
	store, err := New(t.TempDir(), 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// the payload is built from raw JSON so the key order is exact;
	// "extra" appears only on the second row and must sort last
	inline := []byte(`[
		{"zebra": 1, "apple": 2},
		{"zebra": 3, "apple": 4, "extra": 5}
	]`)

	first, err := store.Columns(inline, "")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	want := []string{"zebra", "apple", "extra"}
	if len(first) != len(want) {
		t.Fatalf("columns = %v, want %v", first, want)
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("columns = %v, want %v (first-seen order, not sorted)", first, want)
		}
	}

	second, err := store.Columns(inline, "")
	if err != nil {
		t.Fatalf("Columns second read: %v", err)
	}
	for i := range first {
		if second[i] != first[i] {
			t.Fatalf("column order changed across reads: %v vs %v", first, second)
		}
	}
}

func TestColumnsReadsSpilledPayload(t *testing.T) {
	store, err := New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := store.Put("job-5", []map[string]any{{"name": "a"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Path == "" {
		t.Fatal("expected payload to spill")
	}

	columns, err := store.Columns(nil, result.Path)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(columns) != 1 || columns[0] != "name" {
		t.Errorf("columns = %v, want [name]", columns)
	}
}

func TestDeleteNoopForEmptyPath(t *testing.T) {
	store, err := New(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Delete(""); err != nil {
		t.Errorf("Delete(\"\") = %v, want nil", err)
	}
}
