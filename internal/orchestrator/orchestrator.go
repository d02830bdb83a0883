// Package orchestrator turns extraction requests into durable tasks
// and drives them to a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/IgnatG/langextract-api/internal/cache"
	"github.com/IgnatG/langextract-api/internal/common/config"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/common/metrics"
	"github.com/IgnatG/langextract-api/internal/extraction"
	"github.com/IgnatG/langextract-api/internal/provider"
	"github.com/IgnatG/langextract-api/internal/task"
)

// Fetcher resolves a document URL to its text. Satisfied by
// downloader.Downloader.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (text string, finalURL string, err error)
}

// Deliverer posts completion callbacks. Satisfied by
// webhook.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, callbackURL string, headers map[string]string, payload interface{}) error
}

// Orchestrator owns the task lifecycle: submission, execution,
// cancellation and status.
type Orchestrator struct {
	store      *task.Store
	cache      cache.Cache
	registry   *provider.Registry
	fetcher    Fetcher
	dispatcher Deliverer
	pool       *Pool
	cfg        config.ExtractionConfig
	log        logger.Logger

	retryBackoff time.Duration
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRetryBackoff overrides the initial provider retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.retryBackoff = d }
}

// New wires an Orchestrator. The caller starts the returned pool via
// StartPool and stops it on shutdown.
func New(
	store *task.Store,
	resultCache cache.Cache,
	registry *provider.Registry,
	fetcher Fetcher,
	dispatcher Deliverer,
	cfg config.ExtractionConfig,
	queueSize int,
	log logger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		cache:        resultCache,
		registry:     registry,
		fetcher:      fetcher,
		dispatcher:   dispatcher,
		cfg:          cfg,
		log:          log,
		retryBackoff: time.Second,
	}
	o.pool = NewPool(queueSize, o.Execute, log)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartPool launches the worker goroutines.
func (o *Orchestrator) StartPool(ctx context.Context, workers int) {
	o.pool.Start(ctx, workers)
}

// StopPool drains in-flight work.
func (o *Orchestrator) StopPool() {
	o.pool.Stop()
}

// ==========================
// Submission
// ==========================

// Submit validates the request, creates a PENDING task and hands it to
// the worker pool. Submission is synchronous and fast; extraction runs
// asynchronously. With an idempotency key, resubmission returns the
// original task ID without side effects.
func (o *Orchestrator) Submit(ctx context.Context, req task.Request) (string, error) {
	return o.submit(ctx, req, true)
}

func (o *Orchestrator) submit(ctx context.Context, req task.Request, enqueue bool) (string, error) {
	if req.IdempotencyKey != "" {
		if existing, found, err := o.store.LookupIdempotencyKey(ctx, req.IdempotencyKey); err == nil && found {
			return existing, nil
		}
	}

	o.applyDefaults(&req)
	if err := o.validate(req); err != nil {
		return "", err
	}

	taskID := uuid.New().String()

	if req.IdempotencyKey != "" {
		winner, won, err := o.store.PutIdempotencyKey(ctx, req.IdempotencyKey, taskID)
		if err != nil {
			return "", err
		}
		if !won {
			// Lost the creation race; the winner's task serves both
			// submissions.
			return winner, nil
		}
	}

	t := &task.Task{
		ID:        taskID,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.Create(ctx, t); err != nil {
		return "", err
	}

	if enqueue {
		if err := o.pool.Enqueue(taskID); err != nil {
			// No worker will ever pick this task up; roll back its
			// records so a resubmission starts clean.
			o.store.Delete(ctx, taskID)
			if req.IdempotencyKey != "" {
				o.store.DeleteIdempotencyKey(ctx, req.IdempotencyKey)
			}
			return "", err
		}
	}

	metrics.TasksSubmitted.Inc()
	o.log.Info("task submitted", map[string]interface{}{
		"task_id":   taskID,
		"providers": req.EffectiveProviders(),
		"passes":    req.Passes,
	})
	return taskID, nil
}

func (o *Orchestrator) applyDefaults(req *task.Request) {
	if req.Model == "" && len(req.Providers) == 0 {
		req.Model = o.cfg.DefaultModel
	}
	if req.Passes == 0 {
		req.Passes = 1
	}
	if req.Temperature == 0 {
		req.Temperature = o.cfg.Temperature
	}
	if req.ConsensusThreshold == nil {
		// Nil means unset; an explicit 0 is a valid threshold that
		// retains everything.
		v := o.cfg.ConsensusThreshold
		req.ConsensusThreshold = &v
	}
	if req.MaxCharBuffer == 0 {
		req.MaxCharBuffer = o.cfg.MaxCharBuffer
	}
	if req.MaxWorkers == 0 {
		req.MaxWorkers = o.cfg.MaxWorkers
	}
}

func (o *Orchestrator) validate(req task.Request) error {
	hasText := req.RawText != ""
	hasURL := req.DocumentURL != ""
	if hasText == hasURL {
		return apperrors.NewValidationError("exactly one of raw_text and document_url must be set")
	}
	if req.Prompt == "" {
		return apperrors.NewValidationError("prompt_description must not be empty")
	}
	if req.Passes < 1 || req.Passes > 5 {
		return apperrors.NewValidationError("passes must be between 1 and 5")
	}
	if *req.ConsensusThreshold < 0 || *req.ConsensusThreshold > 1 {
		return apperrors.NewValidationError("consensus_threshold must be in [0, 1]")
	}
	for _, id := range req.EffectiveProviders() {
		if _, err := o.registry.Get(id); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("unknown provider %q", id))
		}
	}
	return nil
}

// ==========================
// Execution
// ==========================

// Execute claims the task and drives it to a terminal state. A lost
// claim (already claimed, or revoked while queued) is a no-op.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) {
	claimed, err := o.store.Transition(ctx, taskID, task.StateStarted, task.StatePending)
	if err != nil {
		o.log.WithError(err).Error("claim failed", map[string]interface{}{"task_id": taskID})
		return
	}
	if !claimed {
		return
	}

	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		o.log.WithError(err).Error("loading claimed task failed", map[string]interface{}{"task_id": taskID})
		return
	}

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	runCtx, cancel := context.WithTimeout(ctx, config.GetDuration(o.cfg.TaskTimeLimit))
	defer cancel()

	start := time.Now()
	result, err := o.run(runCtx, t)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = apperrors.NewTaskTimeoutError(config.GetDuration(o.cfg.TaskTimeLimit))
		}
		o.fail(taskID, t, err)
		return
	}
	result.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()

	o.succeed(taskID, t, result)
}

// run resolves the input, consults the cache and performs the
// extraction fan-out.
func (o *Orchestrator) run(ctx context.Context, t *task.Task) (extraction.Result, error) {
	req := t.Request

	text := req.RawText
	if req.DocumentURL != "" {
		var err error
		text, _, err = o.fetcher.Fetch(ctx, req.DocumentURL)
		if err != nil {
			return extraction.Result{}, err
		}
	}

	providers := req.EffectiveProviders()
	key := cache.Key(cache.KeyInput{
		Text:               text,
		Prompt:             req.Prompt,
		Examples:           req.Examples,
		Model:              req.Model,
		Providers:          req.Providers,
		Temperature:        req.Temperature,
		Passes:             req.Passes,
		ConsensusThreshold: *req.ConsensusThreshold,
	})

	if cached, hit, err := o.cache.Get(ctx, key); err == nil && hit {
		metrics.CacheHits.WithLabelValues(o.cache.Backend()).Inc()
		cached.Metadata.CacheHit = true
		return cached, nil
	} else if err != nil {
		// Backend trouble is a forced miss, never a task failure.
		o.log.WithError(err).Warn("cache lookup failed", map[string]interface{}{"task_id": t.ID})
	}
	metrics.CacheMisses.WithLabelValues(o.cache.Backend()).Inc()

	perProvider := make([]extraction.Result, 0, len(providers))
	for _, id := range providers {
		p, err := o.registry.Get(id)
		if err != nil {
			return extraction.Result{}, apperrors.NewValidationError(err.Error())
		}
		merged, err := o.runPasses(ctx, p, req, text)
		if err != nil {
			return extraction.Result{}, err
		}
		perProvider = append(perProvider, merged)
	}

	var final extraction.Result
	if len(providers) >= 2 {
		var err error
		final, err = extraction.MergeConsensus(providers, perProvider, *req.ConsensusThreshold)
		if err != nil {
			return extraction.Result{}, err
		}
	} else {
		final = perProvider[0]
	}

	if err := o.cache.Put(ctx, key, final, time.Duration(o.cfg.ResultTTL)*time.Second); err != nil {
		o.log.WithError(err).Warn("cache store failed", map[string]interface{}{"task_id": t.ID})
	}
	return final, nil
}

// runPasses runs up to req.Passes sequential extractions against one
// provider, stopping early once two consecutive outputs are equal as
// entity sets, and merges them.
func (o *Orchestrator) runPasses(ctx context.Context, p provider.Provider, req task.Request, text string) (extraction.Result, error) {
	preq := provider.Request{
		Text:          text,
		Prompt:        req.Prompt,
		Examples:      req.Examples,
		Model:         p.ID(),
		Temperature:   req.Temperature,
		MaxCharBuffer: req.MaxCharBuffer,
	}

	passResults := make([]extraction.Result, 0, req.Passes)
	for i := 0; i < req.Passes; i++ {
		res, err := o.extractWithRetry(ctx, p, preq)
		if err != nil {
			return extraction.Result{}, err
		}
		passResults = append(passResults, res)

		// Stable output means more passes would not change the merge.
		if i > 0 && extraction.SameEntitySet(passResults[i-1], passResults[i]) {
			break
		}
	}

	// The denominator reflects executed passes so early stopping never
	// deflates confidence.
	return extraction.MergePasses(passResults, len(passResults)), nil
}

// extractWithRetry retries transient provider failures with bounded
// exponential backoff. The retry budget comes from the error taxonomy.
func (o *Orchestrator) extractWithRetry(ctx context.Context, p provider.Provider, preq provider.Request) (extraction.Result, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		res, err := p.Extract(ctx, preq)
		if err == nil {
			return res, nil
		}
		lastErr = err

		budget := apperrors.GetRetryCount(apperrors.Normalize(err).Code)
		if !apperrors.IsRetryable(err) || attempt >= budget {
			return extraction.Result{}, lastErr
		}

		delay := o.retryBackoff << attempt
		o.log.Warn("provider call failed, retrying", map[string]interface{}{
			"provider": p.ID(),
			"attempt":  attempt + 1,
			"delay":    delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return extraction.Result{}, lastErr
		}
	}
}

func (o *Orchestrator) succeed(taskID string, t *task.Task, result extraction.Result) {
	// Store access after the run uses a fresh context so a task-level
	// timeout cannot strand a finished result.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.store.SetResult(ctx, taskID, result); err != nil {
		o.log.WithError(err).Error("storing result failed", map[string]interface{}{"task_id": taskID})
	}

	ok, err := o.store.Transition(ctx, taskID, task.StateSuccess, task.StateStarted)
	if err != nil || !ok {
		// Revoked mid-flight; the result is discarded.
		o.store.ClearResult(ctx, taskID)
		return
	}

	metrics.TasksCompleted.WithLabelValues(result.Metadata.Provider).Inc()
	metrics.TaskDuration.WithLabelValues(result.Metadata.Provider).
		Observe(float64(result.Metadata.ProcessingTimeMs) / 1000)

	o.notify(taskID, t, task.StateSuccess, &result, "")
}

func (o *Orchestrator) fail(taskID string, t *task.Task, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stdErr := apperrors.Normalize(cause)

	ok, err := o.store.Transition(ctx, taskID, task.StateFailure, task.StateStarted)
	if err != nil || !ok {
		// Revoked mid-flight; leave the record as the revoker set it.
		return
	}

	// UserMessage excludes Details: provider output and internal URLs
	// stay out of the task record.
	if err := o.store.SetError(ctx, taskID, stdErr.UserMessage()); err != nil {
		o.log.WithError(err).Error("storing error failed", map[string]interface{}{"task_id": taskID})
	}

	providerLabel := t.Request.Model
	if len(t.Request.Providers) > 0 {
		providerLabel = extraction.ConsensusLabel(t.Request.Providers)
	}
	metrics.TasksFailed.WithLabelValues(providerLabel, string(stdErr.Code)).Inc()

	o.log.WithError(cause).Error("task failed", map[string]interface{}{
		"task_id": taskID,
		"code":    string(stdErr.Code),
	})
	o.notify(taskID, t, task.StateFailure, nil, stdErr.UserMessage())
}

// notify hands the terminal task to the webhook dispatcher without
// blocking the transition. Delivery failure never reopens the task.
func (o *Orchestrator) notify(taskID string, t *task.Task, state task.State, result *extraction.Result, errorDetail string) {
	if t.Request.CallbackURL == "" {
		return
	}

	payload := map[string]interface{}{
		"task_id": taskID,
		"status":  string(state),
	}
	if result != nil {
		payload["result"] = result
	}
	if errorDetail != "" {
		payload["error_detail"] = errorDetail
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := o.dispatcher.Deliver(ctx, t.Request.CallbackURL, t.Request.CallbackHeaders, payload); err != nil {
			o.log.WithError(err).Error("webhook delivery failed", map[string]interface{}{"task_id": taskID})
		}
	}()
}

// ==========================
// Cancellation and status
// ==========================

// Cancel moves a PENDING or STARTED task to REVOKED and signals the
// worker pool. Terminal tasks are untouched.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (bool, error) {
	if _, err := o.store.Get(ctx, taskID); err != nil {
		return false, err
	}

	ok, err := o.store.Transition(ctx, taskID, task.StateRevoked, task.StatePending, task.StateStarted)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	o.pool.Cancel(taskID)
	metrics.TasksRevoked.Inc()
	o.log.Info("task revoked", map[string]interface{}{"task_id": taskID})
	return true, nil
}

// GetStatus returns the task record.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*task.Task, error) {
	return o.store.Get(ctx, taskID)
}

// ==========================
// Batch submission
// ==========================

// BatchItem reports one task of a batch in the completion callback.
type BatchItem struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SubmitBatch creates one task per request and executes them with
// bounded concurrency. When every task is terminal and a callback URL
// was given, a single aggregated webhook reports the batch outcome.
// Returns the created task IDs in request order.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []task.Request, callbackURL string, headers map[string]string) (string, []string, error) {
	if len(reqs) == 0 {
		return "", nil, apperrors.NewValidationError("batch must contain at least one request")
	}

	batchID := uuid.New().String()
	taskIDs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		// Batch tasks bypass the shared queue; the semaphore below
		// bounds their concurrency.
		id, err := o.submit(ctx, req, false)
		if err != nil {
			return "", nil, err
		}
		taskIDs = append(taskIDs, id)
	}

	sem := semaphore.NewWeighted(int64(o.cfg.MaxWorkers))
	go func() {
		var wg sync.WaitGroup
		execCtx := context.Background()
		for _, id := range taskIDs {
			if err := sem.Acquire(execCtx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(taskID string) {
				defer wg.Done()
				defer sem.Release(1)
				o.Execute(execCtx, taskID)
			}(id)
		}
		wg.Wait()
		o.notifyBatch(batchID, taskIDs, callbackURL, headers)
	}()

	return batchID, taskIDs, nil
}

func (o *Orchestrator) notifyBatch(batchID string, taskIDs []string, callbackURL string, headers map[string]string) {
	if callbackURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	items := make([]BatchItem, 0, len(taskIDs))
	succeeded := 0
	for _, id := range taskIDs {
		status := string(task.StateFailure)
		if t, err := o.store.Get(ctx, id); err == nil {
			status = string(t.State)
			if t.State == task.StateSuccess {
				succeeded++
			}
		}
		items = append(items, BatchItem{TaskID: id, Status: status})
	}

	payload := map[string]interface{}{
		"batch_id":  batchID,
		"total":     len(taskIDs),
		"succeeded": succeeded,
		"failed":    len(taskIDs) - succeeded,
		"tasks":     items,
	}
	if err := o.dispatcher.Deliver(ctx, callbackURL, headers, payload); err != nil {
		o.log.WithError(err).Error("batch webhook delivery failed", map[string]interface{}{"batch_id": batchID})
	}
}
