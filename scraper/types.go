package scraper

import "time"

type Format string

const (
	FormatMP3 Format = "mp3"
	FormatM4A Format = "m4a"
	FormatWAV Format = "wav"
)

// Audio describes an audio file on disk. Duration is zero when it could not
// be measured.
type Audio struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Format   Format        `json:"format"`
}

// Seconds returns the duration in floating seconds.
func (a *Audio) Seconds() float64 {
	return a.Duration.Seconds()
}

// TimeRange selects part of a remote video, in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Info is the descriptive metadata yt-dlp reports for a video.
type Info struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Uploader    string     `json:"uploader"`
	UploadDate  string     `json:"upload_date"`
	Duration    float64    `json:"duration"`
	ViewCount   int64      `json:"view_count"`
	LikeCount   int64      `json:"like_count"`
	Description string     `json:"description"`
	WebpageURL  string     `json:"webpage_url"`
	Range       *TimeRange `json:"range,omitempty"`
}
