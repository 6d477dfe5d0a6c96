package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/humblenginr/sentence_slicer/catalog"
	"github.com/humblenginr/sentence_slicer/failure"
	"github.com/humblenginr/sentence_slicer/scraper"
)

const transcript = `1
00:00:01,000 --> 00:00:04,000
the quick fox

2
00:00:05,000 --> 00:00:05,500
hi

3
00:00:06,000 --> 00:00:17,000
a very long sentence
`

type fakeFetcher struct {
	probes      atomic.Int32
	downloads   atomic.Int32
	probeErrors int32
	duration    float64
}

func (f *fakeFetcher) Probe(_ context.Context, locator string) (*scraper.Info, error) {
	if n := f.probes.Add(1); n <= f.probeErrors {
		return nil, failure.Tool("yt-dlp", errors.New("exit status 1"), []byte("HTTP Error 503"))
	}
	return &scraper.Info{
		ID:         "vid123",
		Title:      "Demo & Friends",
		Uploader:   "someone",
		UploadDate: "20240102",
		Duration:   f.duration,
		ViewCount:  42,
		WebpageURL: locator,
	}, nil
}

func (f *fakeFetcher) DownloadAudio(_ context.Context, info *scraper.Info, r *scraper.TimeRange, out string) (*scraper.Audio, error) {
	f.downloads.Add(1)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		return nil, err
	}
	seconds := info.Duration
	if r != nil {
		seconds = r.Duration()
	}
	return &scraper.Audio{Path: out, Duration: time.Duration(seconds * float64(time.Second)), Format: scraper.FormatMP3}, nil
}

type fakeTranscriber struct {
	calls atomic.Int32
	body  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ *scraper.Audio, _ string, dir string) (string, error) {
	f.calls.Add(1)
	path := filepath.Join(dir, scraper.TranscriptName)
	return path, os.WriteFile(path, []byte(f.body), 0o644)
}

type fakeExtractor struct {
	mu    sync.Mutex
	spans [][2]float64
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, start, end float64, dst string) error {
	f.mu.Lock()
	f.spans = append(f.spans, [2]float64{start, end})
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("RIFF"), 0o644)
}

type fixture struct {
	root        string
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	extractor   *fakeExtractor
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		root:        t.TempDir(),
		fetcher:     &fakeFetcher{duration: 60},
		transcriber: &fakeTranscriber{body: transcript},
		extractor:   &fakeExtractor{},
	}
}

func (f *fixture) config() Config {
	return Config{
		Locator:    "https://www.youtube.com/watch?v=vid123",
		ModelRef:   "/models/ggml-large-v3.bin",
		OutputRoot: f.root,
		RunID:      "run-1",
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Fetcher:     f.fetcher,
		Transcriber: f.transcriber,
		Extractor:   f.extractor,
		Now:         func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	res, err := Run(context.Background(), f.config(), f.deps())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Dir != filepath.Join(f.root, "vid123") || res.RunID != "run-1" {
		t.Fatalf("result %+v", res)
	}
	if len(res.Kept) != 1 {
		t.Fatalf("kept %d sentences, want 1", len(res.Kept))
	}
	k := res.Kept[0]
	if k.Index != 1 || k.Duration() != 3 || k.AudioPath != filepath.Join(res.SentenceDir, "sentence_001.wav") {
		t.Fatalf("kept %+v", k)
	}
	if len(f.extractor.spans) != 1 || f.extractor.spans[0] != [2]float64{1, 4} {
		t.Fatalf("extracted %v", f.extractor.spans)
	}

	wantSRT := "1\n00:00:00,000 --> 00:00:01,000\nthe\n\n" +
		"2\n00:00:01,000 --> 00:00:02,000\nquick\n\n" +
		"3\n00:00:02,000 --> 00:00:03,000\nfox\n\n"
	if got := readFile(t, k.SubtitlePath); got != wantSRT {
		t.Fatalf("subtitle %q", got)
	}
	if got := readFile(t, res.LabelsPath); got != "1.00\t4.00\tthe quick fox\n" {
		t.Fatalf("labels %q", got)
	}

	var md map[string]any
	if err := json.Unmarshal([]byte(readFile(t, res.MetadataPath)), &md); err != nil {
		t.Fatal(err)
	}
	if md["video_id"] != "vid123" || md["run_id"] != "run-1" || md["model_used"] != "ggml-large-v3.bin" {
		t.Fatalf("metadata %v", md)
	}
	if md["processed_date"] != "2026-03-04T05:06:07Z" || md["title"] != "Demo & Friends" {
		t.Fatalf("metadata %v", md)
	}
	if _, ok := md["segment_start"]; ok {
		t.Fatal("segment fields written for a full-video run")
	}
	if _, err := os.Stat(filepath.Join(res.Dir, "vid123.info.json")); err != nil {
		t.Fatalf("info file: %v", err)
	}
	if res.TranscriptPath != filepath.Join(res.Dir, scraper.TranscriptName) {
		t.Fatalf("transcript path %s", res.TranscriptPath)
	}
}

func TestRunRestoresCompletedStages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), f.config(), f.deps()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if f.fetcher.downloads.Load() != 1 || f.transcriber.calls.Load() != 1 {
		t.Fatalf("downloads=%d transcriptions=%d, want 1 each",
			f.fetcher.downloads.Load(), f.transcriber.calls.Load())
	}
	if f.fetcher.probes.Load() != 2 {
		t.Fatalf("probes=%d", f.fetcher.probes.Load())
	}
}

func TestRunSegment(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.Range = &scraper.TimeRange{Start: 10, End: 100}
	res, err := Run(context.Background(), cfg, f.deps())
	if err != nil {
		t.Fatal(err)
	}
	if res.Dir != filepath.Join(f.root, "vid123", "segment_10-60") {
		t.Fatalf("dir %s", res.Dir)
	}
	var md Metadata
	if err := json.Unmarshal([]byte(readFile(t, res.MetadataPath)), &md); err != nil {
		t.Fatal(err)
	}
	if md.SegmentStart == nil || *md.SegmentStart != 10 || *md.SegmentEnd != 60 || *md.SegmentDuration != 50 {
		t.Fatalf("segment metadata %+v", md)
	}
}

func TestRunSegmentStartPastEnd(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.Range = &scraper.TimeRange{Start: 90, End: 120}
	_, err := Run(context.Background(), cfg, f.deps())
	if !errors.Is(err, failure.ErrRange) || !errors.Is(err, scraper.ErrRangeStart) {
		t.Fatalf("err = %v", err)
	}
	if f.fetcher.downloads.Load() != 0 {
		t.Fatal("downloaded despite invalid range")
	}
}

func TestRunRetriesTransientProbeFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.probeErrors = 1
	cfg := f.config()
	cfg.MaxRetries = 2
	if _, err := Run(context.Background(), cfg, f.deps()); err != nil {
		t.Fatal(err)
	}
	if f.fetcher.probes.Load() != 2 {
		t.Fatalf("probes=%d, want 2", f.fetcher.probes.Load())
	}
}

func TestRunParseErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.transcriber.body = "1\n00:00:01,000 --> later\nhello\n"
	cfg := f.config()
	cfg.MaxRetries = 3
	_, err := Run(context.Background(), cfg, f.deps())
	if !errors.Is(err, failure.ErrParse) {
		t.Fatalf("err = %v", err)
	}
	if failure.ExitCode(err) != 3 {
		t.Fatalf("exit code %d", failure.ExitCode(err))
	}
	if len(f.extractor.spans) != 0 {
		t.Fatal("sliced after parse failure")
	}
}

func TestRunRecordsCatalog(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.db")
	if _, err := Run(context.Background(), cfg, f.deps()); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	runs, err := c.Runs(context.Background(), "vid123")
	if err != nil || len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Model != "ggml-large-v3.bin" {
		t.Fatalf("runs %+v err %v", runs, err)
	}
	kept, err := c.Sentences(context.Background(), "run-1")
	if err != nil || len(kept) != 1 || kept[0].Text != "the quick fox" {
		t.Fatalf("sentences %+v err %v", kept, err)
	}
}

func TestRunRefusesLockedDirectory(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "vid123")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(dir, ".lock"))
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	defer lock.Unlock()

	_, err := Run(context.Background(), f.config(), f.deps())
	if err == nil || !strings.Contains(err.Error(), "in use") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	deps := f.deps()
	deps.Transcriber = nil
	if _, err := Run(context.Background(), f.config(), deps); err == nil {
		t.Fatal("expected error")
	}
	cfg := f.config()
	cfg.IsolateVocals = true
	if _, err := Run(context.Background(), cfg, f.deps()); err == nil {
		t.Fatal("expected error without isolator")
	}
}

type fakeIsolator struct{ calls atomic.Int32 }

func (f *fakeIsolator) IsolateVocals(_ context.Context, src *scraper.Audio, dir string) (*scraper.Audio, error) {
	f.calls.Add(1)
	out := filepath.Join(dir, "vocals.mp3")
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		return nil, err
	}
	return &scraper.Audio{Path: out, Duration: src.Duration, Format: scraper.FormatMP3}, nil
}

func TestRunIsolatesVocals(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.IsolateVocals = true
	deps := f.deps()
	iso := &fakeIsolator{}
	deps.Vocals = iso
	res, err := Run(context.Background(), cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	if iso.calls.Load() != 1 || len(res.Kept) != 1 {
		t.Fatalf("isolator calls %d, kept %d", iso.calls.Load(), len(res.Kept))
	}
}

func TestSliceLocal(t *testing.T) {
	f := newFixture(t)
	in := t.TempDir()
	audio := filepath.Join(in, "lecture.wav")
	srtPath := filepath.Join(in, "lecture.srt")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(srtPath, []byte(transcript), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := SliceLocal(context.Background(), f.config(), f.deps(), audio, srtPath)
	if err != nil {
		t.Fatal(err)
	}
	if res.Dir != filepath.Join(f.root, "lecture") || len(res.Kept) != 1 {
		t.Fatalf("result %+v", res)
	}
	if got := readFile(t, res.LabelsPath); got != "1.00\t4.00\tthe quick fox\n" {
		t.Fatalf("labels %q", got)
	}
	if f.fetcher.probes.Load() != 0 || f.transcriber.calls.Load() != 0 {
		t.Fatal("offline slicing touched the network collaborators")
	}
}

func TestSliceLocalMissingTranscript(t *testing.T) {
	f := newFixture(t)
	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := SliceLocal(context.Background(), f.config(), f.deps(), audio, filepath.Join(t.TempDir(), "none.srt"))
	if !errors.Is(err, failure.ErrIO) {
		t.Fatalf("err = %v", err)
	}
}
