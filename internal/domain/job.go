package domain

import "time"

// JobID is an opaque unique job identifier, assigned at creation, immutable.
type JobID string

// Quality is the requested preferred vertical resolution, or one of the
// sentinel values "best"/"worst".
type Quality string

const (
	QualityBest  Quality = "best"
	QualityWorst Quality = "worst"
)

// OutputFormat is the requested output container.
type OutputFormat string

const (
	FormatMP4  OutputFormat = "mp4"
	FormatWebM OutputFormat = "webm"
	FormatMKV  OutputFormat = "mkv"
)

// Options are the recognized, validated per-request fields.
type Options struct {
	Quality           Quality      `json:"quality" validate:"omitempty"`
	OutputFormat      OutputFormat `json:"output_format" validate:"omitempty,oneof=mp4 webm mkv"`
	AudioOnly         bool         `json:"audio_only"`
	IncludeSubtitles  bool         `json:"include_subtitles"`
	SubtitleLanguages []string     `json:"subtitle_languages,omitempty"`
	UseCredentials    bool         `json:"use_credentials"`
}

// Metadata holds platform-extracted fields, populated post-extraction.
type Metadata struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration_seconds"`
	Uploader   string  `json:"uploader"`
	UploadDate string  `json:"upload_date"`
	ViewCount  int64   `json:"view_count"`
	LikeCount  int64   `json:"like_count"`
}

// Artifact describes one produced, stored file.
type Artifact struct {
	StorageKey  string `json:"storage_key"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// Artifacts holds the optional produced files for a job.
type Artifacts struct {
	Video     *Artifact            `json:"video,omitempty"`
	Subtitles map[string]*Artifact `json:"subtitles,omitempty"`
	Thumbnail *Artifact            `json:"thumbnail,omitempty"`
}

// Timestamps tracks the lifecycle milestones of a job.
type Timestamps struct {
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobError is present only when Status == StatusFailed.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is the central entity of the system.
type Job struct {
	ID          JobID      `json:"id"`
	SourceURL   string     `json:"source_url"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Options     Options    `json:"options"`
	Metadata    *Metadata  `json:"metadata,omitempty"`
	Artifacts   Artifacts  `json:"artifacts"`
	Timestamps  Timestamps `json:"timestamps"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       *JobError  `json:"error,omitempty"`
	Caller      string     `json:"caller,omitempty"`
}

// SortOrder controls list() ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter selects jobs for list(); only Status is indexed, the
// rest (pagination) rides alongside it.
type Filter struct {
	Status *Status
}

// Page is a stable cursor-pagination request/response pair.
type Page struct {
	Limit  int
	Cursor string
}

// PageResult carries the next cursor, empty when there are no more rows.
type PageResult struct {
	Jobs       []Job
	NextCursor string
}
