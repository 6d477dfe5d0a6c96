// Package catalog keeps a SQLite index of every run and the sentences it
// produced, so a dataset can be assembled across many source videos.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/humblenginr/sentence_slicer/slicer"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	video_id   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	output_dir TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sentences (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx           INTEGER NOT NULL,
	start_s       REAL NOT NULL,
	end_s         REAL NOT NULL,
	text          TEXT NOT NULL,
	audio_path    TEXT NOT NULL,
	subtitle_path TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_runs_video ON runs(video_id);
`

// Run describes one pipeline run.
type Run struct {
	ID        string
	VideoID   string
	Title     string
	SourceURL string
	Model     string
	OutputDir string
	CreatedAt time.Time
}

type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordRun stores run and its kept sentences in one transaction. Recording
// the same run ID again replaces the earlier rows.
func (c *Catalog) RecordRun(ctx context.Context, run Run, kept []slicer.KeptSentence) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sentences WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear sentences: %w", err)
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, video_id, title, source_url, model, output_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			video_id = excluded.video_id,
			title = excluded.title,
			source_url = excluded.source_url,
			model = excluded.model,
			output_dir = excluded.output_dir,
			created_at = excluded.created_at`,
		run.ID, run.VideoID, run.Title, run.SourceURL, run.Model, run.OutputDir,
		created.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sentences (run_id, idx, start_s, end_s, text, audio_path, subtitle_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sentence insert: %w", err)
	}
	defer stmt.Close()
	for _, k := range kept {
		if _, err := stmt.ExecContext(ctx, run.ID, k.Index, k.Start, k.End, k.Text, k.AudioPath, k.SubtitlePath); err != nil {
			return fmt.Errorf("insert sentence %03d: %w", k.Index, err)
		}
	}
	return tx.Commit()
}

// Sentences returns a run's sentences ordered by index.
func (c *Catalog) Sentences(ctx context.Context, runID string) ([]slicer.KeptSentence, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT idx, start_s, end_s, text, audio_path, subtitle_path
		FROM sentences WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query sentences: %w", err)
	}
	defer rows.Close()

	var out []slicer.KeptSentence
	for rows.Next() {
		var k slicer.KeptSentence
		if err := rows.Scan(&k.Index, &k.Start, &k.End, &k.Text, &k.AudioPath, &k.SubtitlePath); err != nil {
			return nil, fmt.Errorf("scan sentence: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Runs returns the runs recorded for a video, newest first.
func (c *Catalog) Runs(ctx context.Context, videoID string) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, video_id, title, source_url, model, output_dir, created_at
		FROM runs WHERE video_id = ? ORDER BY created_at DESC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			created string
		)
		if err := rows.Scan(&r.ID, &r.VideoID, &r.Title, &r.SourceURL, &r.Model, &r.OutputDir, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
