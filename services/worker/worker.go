package worker

import (
	"context"
	"time"

	"liuweiq/snsworker/logger"
	"liuweiq/snsworker/services/jobstore"
)

// dequeueWaitSeconds is the blocking-pop window; short enough that a
// shutdown signal is noticed promptly.
const dequeueWaitSeconds = 5

// trimInterval paces stream housekeeping from the consume loop.
const trimInterval = 5 * time.Minute

// Worker consumes crawl jobs from the queue until its context ends.
type Worker struct {
	store     jobstore.Store
	processor *Processor
	idleSleep time.Duration
	log       *logger.Logger
}

// NewWorker creates a new worker
func NewWorker(store jobstore.Store, processor *Processor, idleSleep time.Duration) *Worker {
	return &Worker{
		store:     store,
		processor: processor,
		idleSleep: idleSleep,
		log:       logger.ForWorker(),
	}
}

// Start runs the consume loop until ctx is cancelled. Each job runs
// under panic recovery so one bad payload cannot take the worker down.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("worker consume loop started")
	lastTrim := time.Now()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping")
			return
		default:
		}

		payload, err := w.store.Dequeue(ctx, dequeueWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("worker stopping")
				return
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			w.sleep(ctx)
			continue
		}
		if payload == nil {
			w.housekeep(&lastTrim)
			continue
		}

		w.process(ctx, payload)
		w.housekeep(&lastTrim)
	}
}

func (w *Worker) process(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("job processing panicked")
		}
	}()
	w.processor.Process(ctx, payload)
}

func (w *Worker) housekeep(lastTrim *time.Time) {
	if w.processor.publisher == nil || time.Since(*lastTrim) < trimInterval {
		return
	}
	*lastTrim = time.Now()
	if err := w.processor.publisher.TrimStreams(); err != nil {
		w.log.Warn().Err(err).Msg("stream trim failed")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	d := w.idleSleep
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
