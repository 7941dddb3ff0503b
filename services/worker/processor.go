package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"liuweiq/snsworker/internal/crawler"
	"liuweiq/snsworker/logger"
	"liuweiq/snsworker/services/jobstore"
	"liuweiq/snsworker/services/publisher"
)

// Engine is the crawl surface the processor drives; the real
// implementation is crawler.Engine.
type Engine interface {
	Crawl(ctx context.Context, platform string, req crawler.Request) (crawler.PlatformResult, crawler.Cost)
}

// BudgetConfig is the optional daily per-user budget gate.
type BudgetConfig struct {
	Enabled bool
	Units   int
}

// Processor turns one queued job into a published result.
type Processor struct {
	engine    Engine
	store     jobstore.Store
	publisher publisher.Publisher
	callback  *publisher.CallbackSender
	budget    BudgetConfig
	log       *logger.Logger
}

// NewProcessor wires a processor. callback may be nil when callbacks
// are disabled.
func NewProcessor(engine Engine, store jobstore.Store, pub publisher.Publisher,
	callback *publisher.CallbackSender, budget BudgetConfig) *Processor {
	return &Processor{
		engine:    engine,
		store:     store,
		publisher: pub,
		callback:  callback,
		budget:    budget,
		log:       logger.ForWorker(),
	}
}

// Process handles one queued payload end to end: validate, budget gate,
// platform fan-out, aggregation, status, publish, callback. Platform
// crawls for one job run concurrently; each platform stays sequential
// inside the engine.
func (p *Processor) Process(ctx context.Context, payload []byte) {
	start := time.Now()
	job, err := ParseJob(payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed job payload")
		return
	}
	log := p.log.WithField("job_id", job.JobID)

	_ = p.store.SetStatus(ctx, job.JobID, map[string]string{
		"state":    jobstore.StateRunning,
		"trace_id": job.TraceID,
		"query":    job.Query,
	})

	if p.budget.Enabled {
		ok, used, berr := p.store.ConsumeBudget(ctx, job.UserID, job.estimateUnits(), p.budget.Units)
		if berr != nil {
			log.Warn().Err(berr).Msg("budget check failed, letting the job through")
		} else if !ok {
			log.Info().Int("used", used).Msg("daily budget exhausted")
			p.finish(ctx, job, &Result{
				JobID:     job.JobID,
				TraceID:   job.TraceID,
				Error:     "daily_budget_exhausted",
				Platforms: []crawler.PlatformResult{},
				LatencyMS: int(time.Since(start).Milliseconds()),
			})
			return
		}
	}

	req := crawler.Request{
		ValidationID:  job.JobID,
		TraceID:       job.TraceID,
		UserID:        job.UserID,
		Query:         job.Query,
		Mode:          job.Mode,
		Limits:        job.Limits,
		FreshnessDays: job.FreshnessDays,
		TimeoutMS:     job.TimeoutMS,
	}

	results := make([]crawler.PlatformResult, len(job.Platforms))
	costs := make([]crawler.Cost, len(job.Platforms))
	g, gctx := errgroup.WithContext(ctx)
	for i, platform := range job.Platforms {
		i, platform := i, platform
		g.Go(func() error {
			results[i], costs[i] = p.engine.Crawl(gctx, platform, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		JobID:     job.JobID,
		TraceID:   job.TraceID,
		Platforms: results,
		Quality:   scoreQuality(results, time.Now()),
		LatencyMS: int(time.Since(start).Milliseconds()),
	}
	for i, pr := range results {
		result.Cost.Add(costs[i])
		if pr.Success {
			result.Success = true
		} else if result.Error == "" && pr.Error != "" {
			result.Error = pr.Platform + ":" + pr.Error
		}
	}
	if result.Success {
		result.Error = ""
	}

	p.finish(ctx, job, result)
	log.Info().
		Bool("success", result.Success).
		Int("notes", result.Quality.SampleCount).
		Int("comments", result.Quality.CommentCount).
		Int("latency_ms", result.LatencyMS).
		Msg("job finished")
}

// finish records the terminal status, publishes the result and fires
// the callback. Publish and callback failures are recorded against the
// job but never undo its completion.
func (p *Processor) finish(ctx context.Context, job *Job, result *Result) {
	body, err := json.Marshal(result)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.JobID).Msg("result marshal failed")
		return
	}

	state := jobstore.StateCompleted
	if !result.Success {
		state = jobstore.StateFailed
	}
	fields := map[string]string{
		"state":      state,
		"success":    strconv.FormatBool(result.Success),
		"latency_ms": strconv.Itoa(result.LatencyMS),
		"result":     string(body),
	}
	if result.Error != "" {
		fields["error"] = result.Error
	}

	if p.publisher != nil {
		if perr := p.publisher.Publish("result", body); perr != nil {
			p.log.Error().Err(perr).Str("job_id", job.JobID).Msg("result publish failed")
		}
	}

	if p.callback != nil && job.CallbackURL != "" {
		if cerr := p.callback.Send(ctx, job.CallbackURL, job.CallbackSecret, body); cerr != nil {
			fields["callback_error"] = cerr.Error()
			p.log.Warn().Err(cerr).Str("job_id", job.JobID).Msg("callback delivery failed")
		}
	}

	if serr := p.store.SetStatus(ctx, job.JobID, fields); serr != nil {
		p.log.Error().Err(serr).Str("job_id", job.JobID).Msg("status update failed")
	}
}
