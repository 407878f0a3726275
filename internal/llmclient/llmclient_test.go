package llmclient

import (
	"context"
	"testing"
)

// fakeClient is a minimal LLMClient used by this package's own tests.
type fakeClient struct {
	result *CallResult
	err    error
	calls  []CallOptions
}

func (f *fakeClient) Call(ctx context.Context, opts CallOptions) (*CallResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestErrRateLimitedMessage(t *testing.T) {
	err := &ErrRateLimited{Provider: "anthropic"}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestFakeClientRecordsCalls(t *testing.T) {
	fake := &fakeClient{result: &CallResult{Content: "ok"}}

	result, err := fake.Call(context.Background(), CallOptions{Model: "test-model"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Content != "ok" {
		t.Errorf("Content = %q, want ok", result.Content)
	}
	if len(fake.calls) != 1 || fake.calls[0].Model != "test-model" {
		t.Errorf("calls = %+v", fake.calls)
	}
}
