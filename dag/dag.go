package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/humblenginr/sentence_slicer/fileutil"
)

type nodeState int

const (
	pending nodeState = iota
	running
	success
	failed
)

// Marker is the content of a task's completion marker file.
type Marker struct {
	RunID      string    `json:"run_id"`
	Task       string    `json:"task"`
	FinishedAt time.Time `json:"finished_at"`
}

type Option func(*Engine)

// WithMarkerDir enables completion markers (<dir>/<task>.done).
func WithMarkerDir(dir string) Option {
	return func(e *Engine) { e.markerDir = dir }
}

func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetryable limits retries to errors for which fn returns true. By
// default every error is retried up to the task's MaxRetries.
func WithRetryable(fn func(error) bool) Option {
	return func(e *Engine) { e.retryable = fn }
}

// WithBackOff replaces the exponential backoff between attempts.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBackOff = fn }
}

type Engine struct {
	order []string
	nodes map[string]Task
	edges map[string][]string
	state map[string]nodeState
	errs  map[string]error

	markerDir  string
	runID      string
	logger     *slog.Logger
	retryable  func(error) bool
	newBackOff func() backoff.BackOff
}

// NewEngine validates the task graph: unique IDs, known dependencies and no
// cycles.
func NewEngine(tasks []Task, opts ...Option) (*Engine, error) {
	e := &Engine{
		nodes:      make(map[string]Task),
		edges:      make(map[string][]string),
		state:      make(map[string]nodeState),
		errs:       make(map[string]error),
		logger:     slog.Default(),
		retryable:  func(error) bool { return true },
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, t := range tasks {
		id := t.ID()
		if _, dup := e.nodes[id]; dup {
			return nil, fmt.Errorf("dag: duplicate task %q", id)
		}
		e.order = append(e.order, id)
		e.nodes[id] = t
		e.edges[id] = t.Deps()
		e.state[id] = pending
	}
	for _, id := range e.order {
		for _, d := range e.edges[id] {
			if _, ok := e.nodes[d]; !ok {
				return nil, fmt.Errorf("dag: task %q depends on unknown task %q", id, d)
			}
		}
	}
	if err := e.checkCycles(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type result struct {
	id  string
	out Artifacts
	err error
}

// Run executes every task once its dependencies succeeded, at most workers
// at a time, and returns the merged artifacts. After the first failure no
// new task is started; the tasks in flight finish and the first error is
// returned.
func (e *Engine) Run(ctx context.Context, rootCtxArtifacts Artifacts, workers int) (Artifacts, error) {
	if workers < 1 {
		workers = 1
	}
	artifacts := make(Artifacts, len(rootCtxArtifacts))
	for k, v := range rootCtxArtifacts {
		artifacts[k] = v
	}

	done := make(chan result)
	inFlight := 0
	var firstErr error

	for {
		if firstErr == nil && ctx.Err() == nil {
			for _, id := range e.ready() {
				if inFlight >= workers {
					break
				}
				e.state[id] = running
				inFlight++

				// merge parent artifacts
				in := make(Artifacts, len(artifacts))
				for k, v := range artifacts {
					in[k] = v
				}
				go func(id string) {
					out, err := e.execute(ctx, e.nodes[id], in)
					done <- result{id: id, out: out, err: err}
				}(id)
			}
		}
		if inFlight == 0 {
			break
		}

		r := <-done
		inFlight--
		if r.err != nil {
			e.state[r.id] = failed
			e.errs[r.id] = r.err
			e.logger.Error("task failed", "task", r.id, "error", r.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.id, r.err)
			}
			continue
		}
		for k, v := range r.out {
			artifacts[k] = v
		}
		e.state[r.id] = success
		if err := e.writeMarker(r.id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, id := range e.order {
		if e.state[id] != success {
			return nil, fmt.Errorf("dag: task %q never ran", id)
		}
	}
	return artifacts, nil
}

func (e *Engine) execute(ctx context.Context, task Task, in Artifacts) (Artifacts, error) {
	id := task.ID()
	logger := e.logger.With("task", id)

	if task.Cacheable() && e.hasMarker(id) {
		if r, ok := task.(Restorer); ok {
			out, err := r.Restore(ctx, in)
			if err == nil {
				logger.Info("cache hit")
				return out, nil
			}
			logger.Warn("cached output unusable, rerunning", "error", err)
		}
	}
	// Whatever depends on this task must not trust its old markers.
	e.invalidateDependents(id)

	// retry with backoff
	var out Artifacts
	attempt := 0
	operation := func() error {
		attempt++
		childCtx, cancel := ctx, context.CancelFunc(func() {})
		if t := task.Timeout(); t > 0 {
			childCtx, cancel = context.WithTimeout(ctx, t)
		}
		defer cancel()

		logger.Info("task started", "attempt", attempt)
		var err error
		out, err = task.Run(childCtx, in)
		if err == nil {
			return nil
		}
		if !e.retryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.Warn("task attempt failed", "attempt", attempt, "error", err)
		return err
	}

	b := backoff.WithMaxRetries(e.newBackOff(), task.MaxRetries())
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	logger.Info("task finished", "attempts", attempt)
	return out, nil
}

func (e *Engine) ready() []string {
	var list []string
	for _, id := range e.order {
		if e.state[id] != pending {
			continue
		}
		ok := true
		for _, d := range e.edges[id] {
			if e.state[d] != success {
				ok = false
				break
			}
		}
		if ok {
			list = append(list, id)
		}
	}
	return list
}

func (e *Engine) checkCycles() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	marks := make(map[string]int, len(e.order))
	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case visiting:
			return fmt.Errorf("dag: cycle through task %q", id)
		case visited:
			return nil
		}
		marks[id] = visiting
		for _, d := range e.edges[id] {
			if err := visit(d); err != nil {
				return err
			}
		}
		marks[id] = visited
		return nil
	}
	for _, id := range e.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) markerPath(id string) string {
	return filepath.Join(e.markerDir, id+".done")
}

func (e *Engine) hasMarker(id string) bool {
	return e.markerDir != "" && fileutil.Exists(e.markerPath(id))
}

func (e *Engine) writeMarker(id string) error {
	if e.markerDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.markerDir, 0o755); err != nil {
		return fmt.Errorf("marker dir: %w", err)
	}
	return fileutil.WriteJSON(e.markerPath(id), Marker{RunID: e.runID, Task: id, FinishedAt: time.Now().UTC()})
}

func (e *Engine) invalidateDependents(id string) {
	if e.markerDir == "" {
		return
	}
	for _, other := range e.order {
		if other != id && e.dependsOn(other, id) {
			if err := os.Remove(e.markerPath(other)); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn("could not remove stale marker", "task", other, "error", err)
			}
		}
	}
}

func (e *Engine) dependsOn(id, target string) bool {
	for _, d := range e.edges[id] {
		if d == target || e.dependsOn(d, target) {
			return true
		}
	}
	return false
}

// State reports the final state of a task after Run: "pending", "running",
// "success" or "failed".
func (e *Engine) State(id string) string {
	switch e.state[id] {
	case running:
		return "running"
	case success:
		return "success"
	case failed:
		return "failed"
	default:
		return "pending"
	}
}
