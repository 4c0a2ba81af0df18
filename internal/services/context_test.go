package services

import (
	"context"
	"testing"
)

func TestItemKeyRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := ItemKeyFromContext(ctx); ok {
		t.Fatal("empty context should carry no item key")
	}

	ctx = WithItemKey(ctx, "frame_001.nef")
	key, ok := ItemKeyFromContext(ctx)
	if !ok || key != "frame_001.nef" {
		t.Fatalf("got %q ok=%v", key, ok)
	}

	if same := WithItemKey(ctx, ""); same != ctx {
		t.Error("empty key should not wrap the context")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "run-42")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "run-42" {
		t.Fatalf("got %q ok=%v", id, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Error("empty context should carry no request id")
	}
}
