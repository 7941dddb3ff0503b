package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"liuweiq/snsworker/internal/crawler"
)

// Job is one crawl request popped off the queue. The enqueueing HTTP
// layer validates its own surface; the worker re-validates here because
// the queue accepts raw bytes from anywhere.
type Job struct {
	JobID          string         `json:"job_id"`
	TraceID        string         `json:"trace_id"`
	UserID         string         `json:"user_id"`
	Query          string         `json:"query"`
	Platforms      []string       `json:"platforms"`
	Mode           string         `json:"mode"`
	Limits         crawler.Limits `json:"limits"`
	FreshnessDays  int            `json:"freshness_days"`
	TimeoutMS      int            `json:"timeout_ms"`
	CallbackURL    string         `json:"callback_url,omitempty"`
	CallbackSecret string         `json:"callback_secret,omitempty"`
}

// ParseJob decodes and validates a queued payload.
func ParseJob(payload []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("job missing job_id")
	}
	if strings.TrimSpace(job.Query) == "" {
		return nil, fmt.Errorf("job %s missing query", job.JobID)
	}
	if len(job.Platforms) == 0 {
		return nil, fmt.Errorf("job %s missing platforms", job.JobID)
	}
	if job.Mode != "deep" {
		job.Mode = "quick"
	}
	if job.UserID == "" {
		job.UserID = "default"
	}
	return &job, nil
}

// estimateUnits prices a job for the daily budget gate. Deep mode
// roughly doubles the per-note work.
func (j *Job) estimateUnits() int {
	notes := j.Limits.Notes
	if notes < 1 {
		notes = 1
	}
	comments := j.Limits.CommentsPerNote
	if comments > 12 {
		comments = 12
	}
	if comments < 1 {
		comments = 1
	}
	units := notes + notes*comments
	if j.Mode == "deep" {
		units *= 2
	}
	if units < 8 {
		units = 8
	}
	return units * len(j.Platforms)
}

// Quality summarizes how usable a job's sample is.
type Quality struct {
	SampleCount    int     `json:"sample_count"`
	CommentCount   int     `json:"comment_count"`
	FreshnessScore float64 `json:"freshness_score"`
	DupRatio       float64 `json:"dup_ratio"`
}

// Result is the full job outcome published downstream.
type Result struct {
	JobID     string                   `json:"job_id"`
	TraceID   string                   `json:"trace_id"`
	Success   bool                     `json:"success"`
	Platforms []crawler.PlatformResult `json:"platforms"`
	Quality   Quality                  `json:"quality"`
	Cost      crawler.Cost             `json:"cost"`
	LatencyMS int                      `json:"latency_ms"`
	Error     string                   `json:"error,omitempty"`
}
