package log

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	logger := New(DefaultConfig()).WithComponent(ComponentHTTP)
	ctx := NewContext(context.Background(), logger)

	got := FromContext(ctx)
	if got != logger {
		t.Fatal("logger stored in context must come back unchanged")
	}
	if got.Component() != ComponentHTTP {
		t.Fatalf("component = %q, want %q", got.Component(), ComponentHTTP)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	got := FromContext(context.Background())
	if got == nil {
		t.Fatal("empty context must yield the default logger")
	}
	if got.Component() != ComponentApp {
		t.Fatalf("component = %q, want %q", got.Component(), ComponentApp)
	}
}
