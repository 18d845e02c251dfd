package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// fakeProvider returns canned completions and counts calls.
type fakeProvider struct {
	calls      int
	completion models.Completion
	err        error
}

func (p *fakeProvider) Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error) {
	p.calls++
	if p.err != nil {
		return models.Completion{}, p.err
	}
	return p.completion, nil
}

func testGateway(t *testing.T, p Provider) *Gateway {
	t.Helper()
	g, err := New(p, Config{
		Limiter: LimiterConfig{
			MaxConcurrent: 4,
			Reservoir:     10,
			RefillEvery:   time.Hour,
		},
		Cache:       CacheConfig{TTL: time.Minute, MaxEntries: 10},
		CallTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestGateway_CacheIdempotence(t *testing.T) {
	p := &fakeProvider{completion: models.Completion{
		Kind:    models.CompletionFinal,
		Role:    models.RoleAssistant,
		Content: "hi",
	}}
	g := testGateway(t, p)

	req := testRequest("hello")
	req.UseCache = true

	first, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	permitsAfterFirst := g.limiter.available()

	second, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if p.calls != 1 {
		t.Errorf("Expected 1 provider call for identical cached requests, got %d", p.calls)
	}
	if first.Content != second.Content {
		t.Errorf("Expected identical cached responses, got %q vs %q", first.Content, second.Content)
	}
	if got := g.limiter.available(); got != permitsAfterFirst {
		t.Errorf("Expected the cache hit to consume no permit, reservoir went %d -> %d", permitsAfterFirst, got)
	}
}

func TestGateway_NoCachingWhenToolsOffered(t *testing.T) {
	p := &fakeProvider{completion: models.Completion{Kind: models.CompletionFinal, Content: "hi"}}
	g := testGateway(t, p)

	req := testRequest("hello")
	req.UseCache = true
	req.Tools = []models.ToolDeclaration{{Name: "churn_risk"}}

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(context.Background(), req); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	if p.calls != 2 {
		t.Errorf("Expected tool-bearing requests to bypass the cache, got %d provider calls", p.calls)
	}
}

func TestGateway_NoCachingWithoutOptIn(t *testing.T) {
	p := &fakeProvider{completion: models.Completion{Kind: models.CompletionFinal, Content: "hi"}}
	g := testGateway(t, p)

	req := testRequest("hello")

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(context.Background(), req); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	if p.calls != 2 {
		t.Errorf("Expected uncached requests to reach the provider each time, got %d calls", p.calls)
	}
}

func TestGateway_ThrottledErrorPropagates(t *testing.T) {
	p := &fakeProvider{err: fmt.Errorf("%w: quota exceeded", ErrThrottled)}
	g := testGateway(t, p)

	_, err := g.Complete(context.Background(), testRequest("hello"))
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("Expected ErrThrottled, got %v", err)
	}
}

func TestGateway_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	p := &fakeProvider{err: boom}
	g := testGateway(t, p)

	_, err := g.Complete(context.Background(), testRequest("hello"))
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped provider error, got %v", err)
	}
	if errors.Is(err, ErrThrottled) {
		t.Error("Non-throttle provider errors must not look throttled")
	}
}

func TestGateway_LogsUsage(t *testing.T) {
	p := &fakeProvider{completion: models.Completion{
		Kind:  models.CompletionFinal,
		Usage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	g := testGateway(t, p)

	var buf bytes.Buffer
	g.Logger = log.New(&buf, "", 0)

	if _, err := g.Complete(context.Background(), testRequest("hello")); err != nil {
		t.Fatalf("call failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "usage") || !strings.Contains(out, "total=15") {
		t.Errorf("Expected a token-usage log line, got %q", out)
	}
}

// blockingProvider waits for its context to expire.
type blockingProvider struct{}

func (blockingProvider) Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error) {
	<-ctx.Done()
	return models.Completion{}, ctx.Err()
}

func TestGateway_EnforcesCallTimeout(t *testing.T) {
	g, err := New(blockingProvider{}, Config{
		Limiter:     LimiterConfig{MaxConcurrent: 1, Reservoir: 1, RefillEvery: time.Hour},
		Cache:       CacheConfig{TTL: time.Minute, MaxEntries: 10},
		CallTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer g.Close()

	start := time.Now()
	_, err = g.Complete(context.Background(), testRequest("hello"))
	if err == nil {
		t.Fatal("Expected a timeout error from the provider call")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline expiry to surface as a provider error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected the call to be bounded by the configured timeout")
	}
}
