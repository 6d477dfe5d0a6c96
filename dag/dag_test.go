package dag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/humblenginr/sentence_slicer/failure"
)

type testTask struct {
	id        string
	deps      []string
	retries   uint64
	timeout   time.Duration
	cacheable bool
	run       func(ctx context.Context, in Artifacts) (Artifacts, error)
}

func (t testTask) ID() string             { return t.id }
func (t testTask) Deps() []string         { return t.deps }
func (t testTask) MaxRetries() uint64     { return t.retries }
func (t testTask) Timeout() time.Duration { return t.timeout }
func (t testTask) Cacheable() bool        { return t.cacheable }
func (t testTask) Run(ctx context.Context, in Artifacts) (Artifacts, error) {
	if t.run == nil {
		return nil, nil
	}
	return t.run(ctx, in)
}

type restorableTask struct {
	testTask
	restore func(ctx context.Context, in Artifacts) (Artifacts, error)
}

func (t restorableTask) Restore(ctx context.Context, in Artifacts) (Artifacts, error) {
	return t.restore(ctx, in)
}

func noBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) task(id string, deps ...string) testTask {
	return testTask{id: id, deps: deps, run: func(_ context.Context, in Artifacts) (Artifacts, error) {
		r.mu.Lock()
		r.order = append(r.order, id)
		r.mu.Unlock()
		return Artifacts{id: len(in)}, nil
	}}
}

func (r *recorder) position(id string) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRunRespectsDependencies(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine([]Task{
		rec.task("d", "b", "c"),
		rec.task("b", "a"),
		rec.task("c", "a"),
		rec.task("a"),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.Run(context.Background(), Artifacts{"root": true}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.order) != 4 {
		t.Fatalf("ran %v", rec.order)
	}
	if rec.position("a") != 0 || rec.position("d") != 3 {
		t.Fatalf("bad order %v", rec.order)
	}
	for _, k := range []string{"root", "a", "b", "c", "d"} {
		if _, ok := out[k]; !ok {
			t.Fatalf("artifact %q missing from %v", k, out)
		}
	}
	// d sees root, a, b and c
	if out["d"] != 4 {
		t.Fatalf("d saw %v artifacts", out["d"])
	}
	if e.State("d") != "success" {
		t.Fatalf("state %s", e.State("d"))
	}
}

func TestNewEngineValidates(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		want  string
	}{
		{"duplicate", []Task{testTask{id: "a"}, testTask{id: "a"}}, "duplicate"},
		{"unknown dep", []Task{testTask{id: "a", deps: []string{"nope"}}}, "unknown"},
		{"cycle", []Task{
			testTask{id: "a", deps: []string{"c"}},
			testTask{id: "b", deps: []string{"a"}},
			testTask{id: "c", deps: []string{"b"}},
		}, "cycle"},
		{"self", []Task{testTask{id: "a", deps: []string{"a"}}}, "cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.tasks)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	task := testTask{id: "fetch", retries: 3, run: func(context.Context, Artifacts) (Artifacts, error) {
		if attempts.Add(1) < 3 {
			return nil, failure.Tool("yt-dlp", errors.New("HTTP 503"), nil)
		}
		return Artifacts{"ok": true}, nil
	}}
	e, err := NewEngine([]Task{task}, WithBackOff(noBackOff), WithRetryable(failure.Retryable))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), nil, 1); err != nil {
		t.Fatal(err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	task := testTask{id: "fetch", retries: 2, run: func(context.Context, Artifacts) (Artifacts, error) {
		attempts.Add(1)
		return nil, failure.Tool("yt-dlp", errors.New("HTTP 503"), nil)
	}}
	e, _ := NewEngine([]Task{task}, WithBackOff(noBackOff), WithRetryable(failure.Retryable))
	_, err := e.Run(context.Background(), nil, 1)
	if !errors.Is(err, failure.ErrExternalTool) {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(err.Error(), "fetch: ") {
		t.Fatalf("error not prefixed with task id: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	var attempts atomic.Int32
	task := testTask{id: "parse", retries: 5, run: func(context.Context, Artifacts) (Artifacts, error) {
		attempts.Add(1)
		return nil, failure.Parse(3, "bad timestamp")
	}}
	e, _ := NewEngine([]Task{task}, WithBackOff(noBackOff), WithRetryable(failure.Retryable))
	_, err := e.Run(context.Background(), nil, 1)
	if !errors.Is(err, failure.ErrParse) {
		t.Fatalf("err = %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
}

func TestFailureStopsDependents(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	e, _ := NewEngine([]Task{
		testTask{id: "a", run: func(context.Context, Artifacts) (Artifacts, error) { return nil, boom }},
		rec.task("b", "a"),
		rec.task("c", "b"),
	}, WithBackOff(noBackOff))
	_, err := e.Run(context.Background(), nil, 2)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.order) != 0 {
		t.Fatalf("dependents ran: %v", rec.order)
	}
	if e.State("a") != "failed" || e.State("b") != "pending" {
		t.Fatalf("states a=%s b=%s", e.State("a"), e.State("b"))
	}
}

func TestTimeoutPerAttempt(t *testing.T) {
	task := testTask{id: "slow", timeout: 20 * time.Millisecond, run: func(ctx context.Context, _ Artifacts) (Artifacts, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e, _ := NewEngine([]Task{task}, WithBackOff(noBackOff))
	_, err := e.Run(context.Background(), nil, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMarkersRestoreCachedTasks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".markers")
	var runs, restores atomic.Int32
	build := func() []Task {
		return []Task{
			restorableTask{
				testTask: testTask{id: "download", cacheable: true, run: func(context.Context, Artifacts) (Artifacts, error) {
					runs.Add(1)
					return Artifacts{"audio": "a.mp3"}, nil
				}},
				restore: func(context.Context, Artifacts) (Artifacts, error) {
					restores.Add(1)
					return Artifacts{"audio": "a.mp3"}, nil
				},
			},
			testTask{id: "parse", deps: []string{"download"}, run: func(_ context.Context, in Artifacts) (Artifacts, error) {
				if in["audio"] != "a.mp3" {
					return nil, errors.New("audio artifact missing")
				}
				return nil, nil
			}},
		}
	}

	e, _ := NewEngine(build(), WithMarkerDir(dir), WithRunID("run-1"))
	if _, err := e.Run(context.Background(), nil, 1); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"download", "parse"} {
		if _, err := os.Stat(filepath.Join(dir, id+".done")); err != nil {
			t.Fatalf("marker for %s: %v", id, err)
		}
	}

	e, _ = NewEngine(build(), WithMarkerDir(dir), WithRunID("run-2"))
	if _, err := e.Run(context.Background(), nil, 1); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 || restores.Load() != 1 {
		t.Fatalf("runs=%d restores=%d, want 1 and 1", runs.Load(), restores.Load())
	}
}

func TestRerunInvalidatesDependentMarkers(t *testing.T) {
	dir := t.TempDir()
	var transcribeRuns atomic.Int32
	build := func(restoreDownload bool) []Task {
		return []Task{
			restorableTask{
				testTask: testTask{id: "download", cacheable: true},
				restore: func(context.Context, Artifacts) (Artifacts, error) {
					if !restoreDownload {
						return nil, errors.New("audio missing")
					}
					return nil, nil
				},
			},
			restorableTask{
				testTask: testTask{id: "transcribe", deps: []string{"download"}, cacheable: true, run: func(context.Context, Artifacts) (Artifacts, error) {
					transcribeRuns.Add(1)
					return nil, nil
				}},
				restore: func(context.Context, Artifacts) (Artifacts, error) { return nil, nil },
			},
		}
	}

	for _, restore := range []bool{true, true, false} {
		e, _ := NewEngine(build(restore), WithMarkerDir(dir))
		if _, err := e.Run(context.Background(), nil, 1); err != nil {
			t.Fatal(err)
		}
	}
	// first run computes, second restores, third reruns because its input changed
	if transcribeRuns.Load() != 2 {
		t.Fatalf("transcribe ran %d times, want 2", transcribeRuns.Load())
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	e, _ := NewEngine([]Task{rec.task("a")})
	if _, err := e.Run(ctx, nil, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.order) != 0 {
		t.Fatalf("ran %v", rec.order)
	}
}

func TestGet(t *testing.T) {
	in := Artifacts{"n": 3, "s": "x"}
	if n, err := Get[int](in, "n"); err != nil || n != 3 {
		t.Fatalf("Get int = %v, %v", n, err)
	}
	if _, err := Get[int](in, "s"); err == nil {
		t.Fatal("expected type error")
	}
	if _, err := Get[string](in, "missing"); err == nil {
		t.Fatal("expected missing error")
	}
}
