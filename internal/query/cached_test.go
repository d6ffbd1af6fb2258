package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askdb/askdb/internal/cache"
)

type countingRunner struct {
	calls   int
	outcome Outcome
}

func (r *countingRunner) Run(_ context.Context, _ string, _ ...any) Outcome {
	r.calls++
	return r.outcome
}

type fakeRedis struct {
	data   map[string]string
	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if value, ok := f.data[key]; ok {
		return redis.NewStringResult(value, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	if raw, ok := value.([]byte); ok {
		f.data[key] = string(raw)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func successOutcome() Outcome {
	return Success(Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"Ada"}},
	})
}

func TestCachedRunnerPassthroughWithoutStore(t *testing.T) {
	inner := &countingRunner{outcome: successOutcome()}
	runner, err := NewCachedRunner(inner, nil, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewCachedRunner() error = %v", err)
	}

	outcome := runner.Run(context.Background(), "SELECT name FROM info.customers")
	if outcome.IsError() {
		t.Fatalf("unexpected error outcome: %+v", outcome.Err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
	if !reflect.DeepEqual(outcome.Result.Rows, [][]any{{"Ada"}}) {
		t.Fatalf("Rows = %v", outcome.Result.Rows)
	}
}

func TestCachedRunnerServesSecondCallFromCache(t *testing.T) {
	inner := &countingRunner{outcome: successOutcome()}
	store := cache.NewFromClient(newFakeRedis(), testLogger())
	runner, err := NewCachedRunner(inner, store, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewCachedRunner() error = %v", err)
	}

	first := runner.Run(context.Background(), "SELECT name FROM info.customers")
	second := runner.Run(context.Background(), "SELECT name FROM info.customers")
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
	if second.IsError() {
		t.Fatalf("cached outcome is error: %+v", second.Err)
	}
	if !reflect.DeepEqual(first.Result.Columns, second.Result.Columns) {
		t.Fatalf("columns differ: %v vs %v", first.Result.Columns, second.Result.Columns)
	}
	if len(second.Result.Rows) != 1 || second.Result.Rows[0][0] != "Ada" {
		t.Fatalf("cached rows = %v", second.Result.Rows)
	}
}

func TestCachedRunnerNeverCachesErrors(t *testing.T) {
	inner := &countingRunner{outcome: Failure(KindExecution, "relation does not exist")}
	store := cache.NewFromClient(newFakeRedis(), testLogger())
	runner, err := NewCachedRunner(inner, store, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewCachedRunner() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		outcome := runner.Run(context.Background(), "SELECT broken FROM info.nope")
		if !outcome.IsError() {
			t.Fatal("expected error outcome")
		}
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2 (failed queries must always re-execute)", inner.calls)
	}
}

func TestCachedRunnerIdenticalResultsWithBrokenBackend(t *testing.T) {
	inner := &countingRunner{outcome: successOutcome()}
	broken := newFakeRedis()
	broken.getErr = errors.New("connection refused")
	broken.setErr = errors.New("connection refused")
	store := cache.NewFromClient(broken, testLogger())
	runner, err := NewCachedRunner(inner, store, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewCachedRunner() error = %v", err)
	}

	outcome := runner.Run(context.Background(), "SELECT name FROM info.customers")
	if outcome.IsError() {
		t.Fatalf("broken cache surfaced an error: %+v", outcome.Err)
	}
	if !reflect.DeepEqual(outcome.Result.Rows, [][]any{{"Ada"}}) {
		t.Fatalf("Rows = %v, want identical to direct execution", outcome.Result.Rows)
	}
}

func TestCachedRunnerBypassesCacheForParameterizedQueries(t *testing.T) {
	inner := &countingRunner{outcome: successOutcome()}
	store := cache.NewFromClient(newFakeRedis(), testLogger())
	runner, err := NewCachedRunner(inner, store, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewCachedRunner() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		runner.Run(context.Background(), "SELECT name FROM info.customers WHERE id = $1", 7)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2 (parameterized queries bypass the cache)", inner.calls)
	}
}

func TestIsErrorString(t *testing.T) {
	if !IsErrorString("Error: something broke") {
		t.Fatal("IsErrorString() = false for sentinel")
	}
	if !IsErrorString("  Error: padded") {
		t.Fatal("IsErrorString() should trim leading whitespace")
	}
	if IsErrorString(`[{"name":"Ada"}]`) {
		t.Fatal("IsErrorString() = true for row data")
	}
}
