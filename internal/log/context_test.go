package log

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestContextWithRunID_RoundTrip(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-123")
	if got := RunIDFromContext(ctx); got != "run-123" {
		t.Fatalf("RunIDFromContext = %q, want %q", got, "run-123")
	}
}

func TestRunIDFromContext_NilAndMissing(t *testing.T) {
	if got := RunIDFromContext(nil); got != "" { //nolint:staticcheck // nil-context tolerance is part of the contract
		t.Fatalf("nil context: got %q, want empty", got)
	}
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context: got %q, want empty", got)
	}
}

func TestWithContext_AddsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := Base().Output(&buf)

	ctx := ContextWithRunID(context.Background(), "abc")
	enriched := WithContext(ctx, logger)
	enriched.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"run_id":"abc"`) {
		t.Fatalf("log output missing run_id field: %s", buf.String())
	}
}
