package hook

import (
	"context"
	"errors"
	"testing"
)

func TestPublishFansOutToEveryHandler(t *testing.T) {
	r := NewRunner()
	count := 0
	_, err := r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		count++
		return Decision{}, nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Publish(context.Background(), Event{Name: SessionStart}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := r.Publish(context.Background(), Event{Name: SessionEnd}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestRegisterNilHandlerErrors(t *testing.T) {
	r := NewRunner()
	if _, err := r.Register(nil); err == nil {
		t.Fatal("expected error registering a nil handler")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	r := NewRunner()
	count := 0
	sub, err := r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		count++
		return Decision{}, nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Publish(context.Background(), Event{Name: SessionStart}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if _, err := r.Publish(context.Background(), Event{Name: SessionEnd}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (subscription was closed before the second publish)", count)
	}
}

func TestPublishStopsAtFirstError(t *testing.T) {
	r := NewRunner()
	var order []int
	failing := errors.New("boom")

	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		order = append(order, 1)
		return Decision{}, failing
	}))
	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		order = append(order, 2)
		return Decision{}, nil
	}))

	if _, err := r.Publish(context.Background(), Event{Name: ToolPre}); !errors.Is(err, failing) {
		t.Fatalf("expected the first handler's error to propagate, got %v", err)
	}
}

func TestPublishStopsAtFirstBlock(t *testing.T) {
	r := NewRunner()
	secondCalled := false

	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		return Decision{Block: true, Reason: "not allowed"}, nil
	}))
	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		secondCalled = true
		return Decision{}, nil
	}))

	d, err := r.Publish(context.Background(), Event{Name: ToolPre, ToolName: "bash"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !d.Block || d.Reason != "not allowed" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if secondCalled {
		t.Fatal("second handler should not run once the first blocks")
	}
}

func TestContextHandlerRewriteCarriesToNextHandler(t *testing.T) {
	r := NewRunner()
	var seenByrSecond any

	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		return Decision{Messages: []string{"rewritten"}}, nil
	}))
	r.Register(HandlerFunc(func(ctx context.Context, e Event) (Decision, error) {
		seenByrSecond = e.Messages
		return Decision{}, nil
	}))

	d, err := r.Publish(context.Background(), Event{Name: Context})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	rewritten, ok := seenByrSecond.([]string)
	if !ok || len(rewritten) != 1 || rewritten[0] != "rewritten" {
		t.Fatalf("second handler did not see the rewrite: %+v", seenByrSecond)
	}
	if final, ok := d.Messages.([]string); !ok || len(final) != 1 {
		t.Fatalf("final decision did not carry the rewrite: %+v", d.Messages)
	}
}
