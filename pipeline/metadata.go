package pipeline

import (
	"path/filepath"
	"time"

	"github.com/humblenginr/sentence_slicer/scraper"
)

// MetadataFile is the per-run description written next to the audio.
const MetadataFile = "metadata.json"

// Metadata is the document stored in metadata.json.
type Metadata struct {
	RunID           string   `json:"run_id"`
	VideoID         string   `json:"video_id"`
	Title           string   `json:"title"`
	Uploader        string   `json:"uploader"`
	UploadDate      string   `json:"upload_date"`
	Duration        float64  `json:"duration"`
	ViewCount       int64    `json:"view_count"`
	LikeCount       int64    `json:"like_count"`
	Description     string   `json:"description"`
	SourceURL       string   `json:"source_url"`
	ModelUsed       string   `json:"model_used"`
	ProcessedDate   string   `json:"processed_date"`
	SegmentStart    *float64 `json:"segment_start,omitempty"`
	SegmentEnd      *float64 `json:"segment_end,omitempty"`
	SegmentDuration *float64 `json:"segment_duration,omitempty"`
}

func NewMetadata(info *scraper.Info, runID, model string, now time.Time) Metadata {
	md := Metadata{
		RunID:         runID,
		VideoID:       info.ID,
		Title:         info.Title,
		Uploader:      info.Uploader,
		UploadDate:    info.UploadDate,
		Duration:      info.Duration,
		ViewCount:     info.ViewCount,
		LikeCount:     info.LikeCount,
		Description:   info.Description,
		SourceURL:     info.WebpageURL,
		ProcessedDate: now.Format(time.RFC3339),
	}
	if model != "" {
		md.ModelUsed = filepath.Base(model)
	}
	if r := info.Range; r != nil {
		start, end, dur := r.Start, r.End, r.Duration()
		md.SegmentStart, md.SegmentEnd, md.SegmentDuration = &start, &end, &dur
	}
	return md
}
