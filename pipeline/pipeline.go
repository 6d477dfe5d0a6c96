// Package pipeline wires the fetch, transcribe, parse, slice and label
// stages into a task graph and runs it for one video or one local
// recording.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/humblenginr/sentence_slicer/align"
	"github.com/humblenginr/sentence_slicer/catalog"
	"github.com/humblenginr/sentence_slicer/dag"
	"github.com/humblenginr/sentence_slicer/failure"
	"github.com/humblenginr/sentence_slicer/labels"
	"github.com/humblenginr/sentence_slicer/scraper"
	"github.com/humblenginr/sentence_slicer/slicer"
)

const (
	SentenceDir = "sentences"
	markerDir   = ".markers"
	lockFile    = ".lock"
)

type Fetcher interface {
	Probe(ctx context.Context, locator string) (*scraper.Info, error)
	DownloadAudio(ctx context.Context, info *scraper.Info, r *scraper.TimeRange, outputPath string) (*scraper.Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio *scraper.Audio, model, dir string) (string, error)
}

type VocalIsolator interface {
	IsolateVocals(ctx context.Context, src *scraper.Audio, artifactDir string) (*scraper.Audio, error)
}

// Config is everything one run needs to know. It is built once by the
// caller; the pipeline never reads configuration from anywhere else.
type Config struct {
	Locator    string
	Range      *scraper.TimeRange
	ModelRef   string
	OutputRoot string

	Policy         slicer.Policy
	Workers        int
	OnError        slicer.OnError
	RangeTolerance float64
	IsolateVocals  bool

	MaxRetries        uint64
	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration

	// CatalogPath enables the SQLite catalog when set.
	CatalogPath string
	RunID       string
}

// Deps are the collaborators a run shells out to. Vocals is only needed
// with IsolateVocals.
type Deps struct {
	Fetcher     Fetcher
	Transcriber Transcriber
	Extractor   slicer.Extractor
	Vocals      VocalIsolator
	Aligner     align.Aligner
	Logger      *slog.Logger
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Aligner == nil {
		d.Aligner = align.Uniform{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Result points at everything a run produced.
type Result struct {
	RunID          string
	Info           *scraper.Info
	Dir            string
	SentenceDir    string
	Kept           []slicer.KeptSentence
	LabelsPath     string
	MetadataPath   string
	TranscriptPath string
}

// Run fetches the video named by cfg.Locator and turns it into sentence
// clips under <OutputRoot>/<video id>. Stages that completed in an earlier
// run of the same directory are restored from disk instead of rerun.
func Run(ctx context.Context, cfg Config, deps Deps) (*Result, error) {
	if cfg.Locator == "" {
		return nil, errors.New("pipeline: no video locator")
	}
	if deps.Fetcher == nil || deps.Transcriber == nil || deps.Extractor == nil {
		return nil, errors.New("pipeline: fetcher, transcriber and extractor are required")
	}
	if cfg.IsolateVocals && deps.Vocals == nil {
		return nil, errors.New("pipeline: vocal isolation requested without an isolator")
	}
	deps = deps.withDefaults()
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := deps.Logger.With("run_id", runID)

	// The output directory is named after the video, so metadata comes first.
	probe, err := dag.NewEngine([]dag.Task{
		ProbeTask{fetcher: deps.Fetcher, url: cfg.Locator, retries: cfg.MaxRetries, timeout: cfg.FetchTimeout},
	}, dag.WithLogger(logger), dag.WithRunID(runID), dag.WithRetryable(failure.Retryable))
	if err != nil {
		return nil, err
	}
	probed, err := probe.Run(ctx, nil, 1)
	if err != nil {
		return nil, err
	}
	info, err := dag.Get[*scraper.Info](probed, keyInfo)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.OutputRoot, info.ID)
	var rng *scraper.TimeRange
	if cfg.Range != nil {
		r, clamped, err := scraper.ClampRange(*cfg.Range, info.Duration)
		if err != nil {
			return nil, failure.Range(0, "%w", err)
		}
		if clamped {
			logger.Warn("end time beyond video duration, adjusting",
				"requested_end", cfg.Range.End, "duration", info.Duration)
		}
		rng = &r
		info.Range = &r
		dir = filepath.Join(dir, fmt.Sprintf("segment_%.0f-%.0f", r.Start, r.End))
	}
	unlock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()
	logger = logger.With("video_id", info.ID)
	logger.Info("processing video", "title", info.Title, "dir", dir)

	sentenceDir := filepath.Join(dir, SentenceDir)
	metadataPath := filepath.Join(dir, MetadataFile)
	labelsPath := filepath.Join(sentenceDir, labels.FileName)

	transcribeFrom := "download"
	tasks := []dag.Task{
		DownloadTask{
			fetcher:  deps.Fetcher,
			rng:      rng,
			outFile:  filepath.Join(dir, info.ID+".mp3"),
			infoFile: filepath.Join(dir, info.ID+".info.json"),
			retries:  cfg.MaxRetries,
			timeout:  cfg.FetchTimeout,
		},
		MetadataTask{path: metadataPath, runID: runID, model: cfg.ModelRef, now: deps.Now},
	}
	if cfg.IsolateVocals {
		transcribeFrom = "vocals"
		tasks = append(tasks, VocalsTask{
			isolator: deps.Vocals,
			dir:      dir,
			retries:  cfg.MaxRetries,
			timeout:  cfg.TranscribeTimeout,
		})
	}
	tasks = append(tasks,
		TranscribeTask{
			transcriber: deps.Transcriber,
			model:       cfg.ModelRef,
			dir:         dir,
			deps:        []string{transcribeFrom},
			retries:     cfg.MaxRetries,
			timeout:     cfg.TranscribeTimeout,
		},
		ParseTask{deps: []string{"transcribe"}},
		SliceTask{slicer: cfg.slicer(deps, logger), dir: sentenceDir},
		LabelsTask{path: labelsPath},
	)
	if cfg.CatalogPath != "" {
		tasks = append(tasks, CatalogTask{path: cfg.CatalogPath, run: catalog.Run{
			ID:        runID,
			Model:     filepath.Base(cfg.ModelRef),
			OutputDir: dir,
			CreatedAt: deps.Now(),
		}})
	}

	engine, err := dag.NewEngine(tasks,
		dag.WithLogger(logger),
		dag.WithRunID(runID),
		dag.WithMarkerDir(filepath.Join(dir, markerDir)),
		dag.WithRetryable(failure.Retryable),
	)
	if err != nil {
		return nil, err
	}
	out, err := engine.Run(ctx, dag.Artifacts{keyInfo: info}, 2)
	if err != nil {
		return nil, err
	}
	kept, err := dag.Get[[]slicer.KeptSentence](out, keyKept)
	if err != nil {
		return nil, err
	}
	transcript, _ := dag.Get[string](out, keyTranscript)

	logger.Info("run complete", "kept", len(kept), "dir", dir)
	return &Result{
		RunID:          runID,
		Info:           info,
		Dir:            dir,
		SentenceDir:    sentenceDir,
		Kept:           kept,
		LabelsPath:     labelsPath,
		MetadataPath:   metadataPath,
		TranscriptPath: transcript,
	}, nil
}

// SliceLocal runs parse, slice and labels on a recording and transcript
// already on disk. Output goes to <OutputRoot>/<audio file stem>.
func SliceLocal(ctx context.Context, cfg Config, deps Deps, audioPath, srtPath string) (*Result, error) {
	if deps.Extractor == nil {
		return nil, errors.New("pipeline: extractor is required")
	}
	deps = deps.withDefaults()
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	audio, err := scraper.LocalAudio(audioPath)
	if err != nil {
		return nil, failure.IO("open audio", err)
	}
	transcript, err := filepath.Abs(srtPath)
	if err != nil {
		return nil, failure.IO("resolve transcript path", err)
	}
	stem := strings.TrimSuffix(filepath.Base(audio.Path), filepath.Ext(audio.Path))
	dir := filepath.Join(cfg.OutputRoot, stem)
	unlock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := deps.Logger.With("run_id", runID, "audio", filepath.Base(audio.Path))
	if audio.Duration == 0 {
		logger.Warn("audio duration unknown, range check left to the extractor", "format", audio.Format)
	}

	sentenceDir := filepath.Join(dir, SentenceDir)
	labelsPath := filepath.Join(sentenceDir, labels.FileName)
	tasks := []dag.Task{
		ParseTask{},
		SliceTask{slicer: cfg.slicer(deps, logger), dir: sentenceDir},
		LabelsTask{path: labelsPath},
	}
	if cfg.CatalogPath != "" {
		tasks = append(tasks, CatalogTask{path: cfg.CatalogPath, run: catalog.Run{
			ID:        runID,
			VideoID:   stem,
			Title:     stem,
			SourceURL: audio.Path,
			OutputDir: dir,
			CreatedAt: deps.Now(),
		}})
	}
	engine, err := dag.NewEngine(tasks, dag.WithLogger(logger), dag.WithRunID(runID))
	if err != nil {
		return nil, err
	}
	out, err := engine.Run(ctx, dag.Artifacts{keyAudio: audio, keyTranscript: transcript}, 1)
	if err != nil {
		return nil, err
	}
	kept, err := dag.Get[[]slicer.KeptSentence](out, keyKept)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:          runID,
		Dir:            dir,
		SentenceDir:    sentenceDir,
		Kept:           kept,
		LabelsPath:     labelsPath,
		TranscriptPath: transcript,
	}, nil
}

func (cfg Config) slicer(deps Deps, logger *slog.Logger) *slicer.Slicer {
	onError := cfg.OnError
	if onError == "" {
		onError = slicer.Abort
	}
	return &slicer.Slicer{
		Extractor:      deps.Extractor,
		Aligner:        deps.Aligner,
		Policy:         cfg.Policy,
		Workers:        cfg.Workers,
		OnError:        onError,
		RangeTolerance: cfg.RangeTolerance,
		Logger:         logger,
	}
}

// lockDir creates dir and holds an exclusive lock on it until the returned
// func is called.
func lockDir(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, failure.IO("create output dir", err)
	}
	lock := flock.New(filepath.Join(dir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, failure.IO("lock output dir", err)
	}
	if !ok {
		return nil, fmt.Errorf("output directory %s is in use by another run", dir)
	}
	return func() { _ = lock.Unlock() }, nil
}
