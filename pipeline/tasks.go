package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/humblenginr/sentence_slicer/catalog"
	"github.com/humblenginr/sentence_slicer/dag"
	"github.com/humblenginr/sentence_slicer/fileutil"
	"github.com/humblenginr/sentence_slicer/labels"
	"github.com/humblenginr/sentence_slicer/scraper"
	"github.com/humblenginr/sentence_slicer/slicer"
	"github.com/humblenginr/sentence_slicer/srt"
)

// Artifact keys.
const (
	keyInfo       = "info"
	keyAudio      = "audio"
	keySource     = "source"
	keyMetadata   = "metadata"
	keyTranscript = "transcript"
	keySentences  = "sentences"
	keyKept       = "kept"
	keyLabels     = "labels"
)

// sourceAudio is the audio transcribed and sliced: the vocal stem when one
// was isolated, otherwise the download.
func sourceAudio(in dag.Artifacts) (*scraper.Audio, error) {
	if _, ok := in[keySource]; ok {
		return dag.Get[*scraper.Audio](in, keySource)
	}
	return dag.Get[*scraper.Audio](in, keyAudio)
}

type ProbeTask struct {
	fetcher Fetcher
	url     string
	retries uint64
	timeout time.Duration
}

func (t ProbeTask) ID() string             { return "probe" }
func (t ProbeTask) Deps() []string         { return nil }
func (t ProbeTask) MaxRetries() uint64     { return t.retries }
func (t ProbeTask) Timeout() time.Duration { return t.timeout }
func (t ProbeTask) Cacheable() bool        { return false }
func (t ProbeTask) Run(ctx context.Context, _ dag.Artifacts) (dag.Artifacts, error) {
	info, err := t.fetcher.Probe(ctx, t.url)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keyInfo: info}, nil
}

type DownloadTask struct {
	fetcher  Fetcher
	rng      *scraper.TimeRange
	outFile  string
	infoFile string
	retries  uint64
	timeout  time.Duration
}

func (t DownloadTask) ID() string             { return "download" }
func (t DownloadTask) Deps() []string         { return nil }
func (t DownloadTask) MaxRetries() uint64     { return t.retries }
func (t DownloadTask) Timeout() time.Duration { return t.timeout }
func (t DownloadTask) Cacheable() bool        { return true }
func (t DownloadTask) Run(ctx context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	info, err := dag.Get[*scraper.Info](in, keyInfo)
	if err != nil {
		return nil, err
	}
	var rng *scraper.TimeRange
	if t.rng != nil {
		r := *t.rng
		rng = &r
	}
	a, err := t.fetcher.DownloadAudio(ctx, info, rng, t.outFile)
	if err != nil {
		return nil, err
	}
	if t.infoFile != "" {
		if err := fileutil.WriteJSON(t.infoFile, info); err != nil {
			return nil, err
		}
	}
	return dag.Artifacts{keyAudio: a}, nil
}

func (t DownloadTask) Restore(_ context.Context, _ dag.Artifacts) (dag.Artifacts, error) {
	a, err := scraper.LocalAudio(t.outFile)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keyAudio: a}, nil
}

type VocalsTask struct {
	isolator VocalIsolator
	dir      string
	retries  uint64
	timeout  time.Duration
}

func (t VocalsTask) ID() string             { return "vocals" }
func (t VocalsTask) Deps() []string         { return []string{"download"} }
func (t VocalsTask) MaxRetries() uint64     { return t.retries }
func (t VocalsTask) Timeout() time.Duration { return t.timeout }
func (t VocalsTask) Cacheable() bool        { return true }
func (t VocalsTask) Run(ctx context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	audio, err := dag.Get[*scraper.Audio](in, keyAudio)
	if err != nil {
		return nil, err
	}
	vocals, err := t.isolator.IsolateVocals(ctx, audio, t.dir)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keySource: vocals}, nil
}

func (t VocalsTask) Restore(_ context.Context, _ dag.Artifacts) (dag.Artifacts, error) {
	a, err := scraper.LocalAudio(filepath.Join(t.dir, "vocals.mp3"))
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keySource: a}, nil
}

type MetadataTask struct {
	path  string
	runID string
	model string
	now   func() time.Time
}

func (t MetadataTask) ID() string             { return "metadata" }
func (t MetadataTask) Deps() []string         { return []string{"download"} }
func (t MetadataTask) MaxRetries() uint64     { return 0 }
func (t MetadataTask) Timeout() time.Duration { return 0 }
func (t MetadataTask) Cacheable() bool        { return false }
func (t MetadataTask) Run(_ context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	info, err := dag.Get[*scraper.Info](in, keyInfo)
	if err != nil {
		return nil, err
	}
	md := NewMetadata(info, t.runID, t.model, t.now())
	if err := fileutil.WriteJSON(t.path, md); err != nil {
		return nil, err
	}
	return dag.Artifacts{keyMetadata: t.path}, nil
}

type TranscribeTask struct {
	transcriber Transcriber
	model       string
	dir         string
	deps        []string
	retries     uint64
	timeout     time.Duration
}

func (t TranscribeTask) ID() string             { return "transcribe" }
func (t TranscribeTask) Deps() []string         { return t.deps }
func (t TranscribeTask) MaxRetries() uint64     { return t.retries }
func (t TranscribeTask) Timeout() time.Duration { return t.timeout }
func (t TranscribeTask) Cacheable() bool        { return true }
func (t TranscribeTask) Run(ctx context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	audio, err := sourceAudio(in)
	if err != nil {
		return nil, err
	}
	path, err := t.transcriber.Transcribe(ctx, audio, t.model, t.dir)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keyTranscript: path}, nil
}

func (t TranscribeTask) Restore(_ context.Context, _ dag.Artifacts) (dag.Artifacts, error) {
	path := filepath.Join(t.dir, scraper.TranscriptName)
	if !fileutil.Exists(path) {
		return nil, errors.New("transcript missing")
	}
	return dag.Artifacts{keyTranscript: path}, nil
}

type ParseTask struct {
	deps []string
}

func (t ParseTask) ID() string             { return "parse" }
func (t ParseTask) Deps() []string         { return t.deps }
func (t ParseTask) MaxRetries() uint64     { return 0 }
func (t ParseTask) Timeout() time.Duration { return 0 }
func (t ParseTask) Cacheable() bool        { return false }
func (t ParseTask) Run(_ context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	path, err := dag.Get[string](in, keyTranscript)
	if err != nil {
		return nil, err
	}
	sentences, err := srt.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keySentences: sentences}, nil
}

type SliceTask struct {
	slicer *slicer.Slicer
	dir    string
}

func (t SliceTask) ID() string             { return "slice" }
func (t SliceTask) Deps() []string         { return []string{"parse"} }
func (t SliceTask) MaxRetries() uint64     { return 0 }
func (t SliceTask) Timeout() time.Duration { return 0 }
func (t SliceTask) Cacheable() bool        { return false }
func (t SliceTask) Run(ctx context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	audio, err := sourceAudio(in)
	if err != nil {
		return nil, err
	}
	sentences, err := dag.Get[[]srt.Sentence](in, keySentences)
	if err != nil {
		return nil, err
	}
	kept, err := t.slicer.Slice(ctx, audio, sentences, t.dir)
	if err != nil {
		return nil, err
	}
	return dag.Artifacts{keyKept: kept}, nil
}

type LabelsTask struct {
	path string
}

func (t LabelsTask) ID() string             { return "labels" }
func (t LabelsTask) Deps() []string         { return []string{"slice"} }
func (t LabelsTask) MaxRetries() uint64     { return 0 }
func (t LabelsTask) Timeout() time.Duration { return 0 }
func (t LabelsTask) Cacheable() bool        { return false }
func (t LabelsTask) Run(_ context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	kept, err := dag.Get[[]slicer.KeptSentence](in, keyKept)
	if err != nil {
		return nil, err
	}
	if err := labels.WriteFile(t.path, kept); err != nil {
		return nil, err
	}
	return dag.Artifacts{keyLabels: t.path}, nil
}

type CatalogTask struct {
	path string
	run  catalog.Run
}

func (t CatalogTask) ID() string             { return "catalog" }
func (t CatalogTask) Deps() []string         { return []string{"labels"} }
func (t CatalogTask) MaxRetries() uint64     { return 0 }
func (t CatalogTask) Timeout() time.Duration { return 0 }
func (t CatalogTask) Cacheable() bool        { return false }
func (t CatalogTask) Run(ctx context.Context, in dag.Artifacts) (dag.Artifacts, error) {
	kept, err := dag.Get[[]slicer.KeptSentence](in, keyKept)
	if err != nil {
		return nil, err
	}
	run := t.run
	if info, err := dag.Get[*scraper.Info](in, keyInfo); err == nil {
		run.VideoID, run.Title, run.SourceURL = info.ID, info.Title, info.WebpageURL
	}
	c, err := catalog.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if err := c.RecordRun(ctx, run, kept); err != nil {
		return nil, err
	}
	return nil, nil
}
