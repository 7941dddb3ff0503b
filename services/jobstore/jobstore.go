// Package jobstore provides the crawl job queue, the job status store
// read by the HTTP layer, and the optional per-user daily budget
// counter. Redis is the system of record; an in-memory store stands in
// when Redis is unreachable at startup.
package jobstore

import "context"

// Job states as stored in the status record.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// statusKey is the per-job status record key.
func statusKey(jobID string) string {
	return "crawler:job:" + jobID
}

// budgetKey is the day-scoped per-user budget counter key.
func budgetKey(userID, day string) string {
	return "crawler:budget:" + userID + ":" + day
}

// Store is the queue plus status plus budget surface the worker needs.
type Store interface {
	// Enqueue pushes a job payload onto the queue.
	Enqueue(ctx context.Context, payload []byte) error

	// Dequeue pops the next job, blocking up to wait. A nil payload
	// with a nil error means the wait elapsed with an empty queue.
	Dequeue(ctx context.Context, wait int) ([]byte, error)

	// SetStatus merges fields into the job's status record.
	SetStatus(ctx context.Context, jobID string, fields map[string]string) error

	// GetStatus returns the job's status record, or nil when unknown.
	GetStatus(ctx context.Context, jobID string) (map[string]string, error)

	// ConsumeBudget atomically charges units against the user's daily
	// budget. Denied consumption leaves the counter untouched and
	// reports the units already used today.
	ConsumeBudget(ctx context.Context, userID string, units, limit int) (bool, int, error)

	// Close releases backend connections.
	Close() error
}
