// Package notify implements the matching and dispatch engine: it
// consumes committed entity change events, matches them against the
// subscription registry, and delivers notifications over HTTP with
// throttling and failure accounting.
package notify

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/internal/httpclient"
	"github.com/junctive/contexd/logger"
	"github.com/junctive/contexd/query"
	"github.com/junctive/contexd/store"
	"github.com/junctive/contexd/subs"
)

// Config tunes the dispatch engine.
type Config struct {
	// Workers is the number of concurrent dispatch goroutines.
	Workers int
	// Timeout bounds each delivery HTTP call.
	Timeout time.Duration
	// MaxFailures is the consecutive-failure threshold after which a
	// subscription's computed status becomes failed.
	MaxFailures int
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		Timeout:     10 * time.Second,
		MaxFailures: 3,
	}
}

// Engine owns the in-memory view of all subscriptions and the worker
// pool that delivers notifications. Subscription CRUD goes through the
// engine so the matching cache and throttling limiters stay current.
type Engine struct {
	cfg    Config
	subs   *subs.Store
	client *httpclient.SaferClient

	mu       sync.RWMutex
	byID     map[string]*subs.Subscription
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

// NewEngine loads all persisted subscriptions into memory.
func NewEngine(subStore *subs.Store, cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}

	e := &Engine{
		cfg:      cfg,
		subs:     subStore,
		client:   httpclient.New(cfg.Timeout),
		byID:     make(map[string]*subs.Subscription),
		limiters: make(map[string]*rate.Limiter),
	}

	loaded, _, err := subStore.List(0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "load subscriptions")
	}
	for _, sub := range loaded {
		e.cache(sub)
	}
	if len(loaded) > 0 {
		logger.Infow("Subscriptions loaded", "count", len(loaded))
	}
	return e, nil
}

// Start spawns the worker pool over the given event stream. Workers
// exit when the channel closes; Stop waits for them.
func (e *Engine) Start(events <-chan store.ChangeEvent) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range events {
				e.handleEvent(ev)
			}
		}()
	}
	logger.Infow("Dispatch engine started", "workers", e.cfg.Workers)
}

// Stop waits for in-flight dispatches to finish. The event channel
// must be closed first.
func (e *Engine) Stop() {
	e.wg.Wait()
}

// FailThreshold returns the configured consecutive-failure threshold.
func (e *Engine) FailThreshold() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.MaxFailures
}

// Reconfigure applies the runtime-tunable settings: delivery timeout
// and the failure threshold. Worker count is fixed at startup and
// needs a restart.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	if cfg.Timeout > 0 && cfg.Timeout != e.cfg.Timeout {
		e.cfg.Timeout = cfg.Timeout
		e.client = httpclient.New(cfg.Timeout)
	}
	if cfg.MaxFailures > 0 {
		e.cfg.MaxFailures = cfg.MaxFailures
	}
	timeout, maxFailures := e.cfg.Timeout, e.cfg.MaxFailures
	e.mu.Unlock()
	logger.Infow("Dispatch engine reconfigured",
		"timeout", timeout,
		"max_failures", maxFailures,
	)
}

// Create registers a new subscription.
func (e *Engine) Create(sub *subs.Subscription) error {
	if err := e.subs.Create(sub); err != nil {
		return err
	}
	e.mu.Lock()
	e.cache(sub.Clone())
	e.mu.Unlock()
	logger.Infow("Subscription created", "subscription_id", sub.ID, "url", sub.Notification.HTTP.URL)
	return nil
}

// Get returns one subscription with current delivery accounting.
func (e *Engine) Get(id string) (*subs.Subscription, error) {
	return e.subs.Get(id)
}

// List returns a page of subscriptions plus the total count.
func (e *Engine) List(limit, offset int) ([]*subs.Subscription, int, error) {
	return e.subs.List(limit, offset)
}

// Patch merges a partial update into an existing subscription. An
// update resets the throttling limiter so the new interval takes
// effect immediately, and clears the failure counter so a failed
// subscription resumes dispatching.
func (e *Engine) Patch(id string, body []byte) error {
	sub, err := e.subs.Get(id)
	if err != nil {
		return err
	}
	if err := sub.Patch(body); err != nil {
		return err
	}
	if err := e.subs.Update(sub); err != nil {
		return err
	}
	sub.FailsCounter = 0

	e.mu.Lock()
	delete(e.limiters, id)
	e.cache(sub)
	e.mu.Unlock()
	logger.Infow("Subscription updated", "subscription_id", id)
	return nil
}

// Delete removes a subscription.
func (e *Engine) Delete(id string) error {
	if err := e.subs.Delete(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.byID, id)
	delete(e.limiters, id)
	e.mu.Unlock()
	logger.Infow("Subscription deleted", "subscription_id", id)
	return nil
}

// cache installs a subscription in the matching view. Caller holds
// the lock except during initial load.
func (e *Engine) cache(sub *subs.Subscription) {
	e.byID[sub.ID] = sub
	if sub.Throttling > 0 {
		if _, ok := e.limiters[sub.ID]; !ok {
			interval := time.Duration(sub.Throttling) * time.Second
			e.limiters[sub.ID] = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

func (e *Engine) handleEvent(ev store.ChangeEvent) {
	eventsProcessed.Inc()

	// Deletes are tombstones with no post-state to notify
	if ev.Type == store.ChangeDelete || ev.Entity == nil {
		return
	}

	// Snapshot under the lock; workers evaluate against clones so
	// concurrent accounting updates never race
	e.mu.RLock()
	candidates := make([]*subs.Subscription, 0, len(e.byID))
	for _, sub := range e.byID {
		candidates = append(candidates, sub.Clone())
	}
	threshold := e.cfg.MaxFailures
	e.mu.RUnlock()

	now := time.Now()
	for _, sub := range candidates {
		if !query.AnyFilterAccepts(sub.EntityFilters(), ev.EntityID, ev.EntityType) {
			continue
		}
		if !sub.ConditionMatches(ev.ChangedAttrs) {
			continue
		}
		if status := sub.Status(threshold, now); status != subs.StatusActive {
			notificationsSkipped.Inc()
			logger.Debugw("Dispatch skipped",
				"subscription_id", sub.ID,
				"status", status,
			)
			continue
		}
		if !e.allow(sub) {
			notificationsThrottled.Inc()
			logger.Debugw("Notification throttled", "subscription_id", sub.ID)
			continue
		}
		e.dispatch(sub, ev)
	}
}

// allow consults the subscription's throttling limiter.
func (e *Engine) allow(sub *subs.Subscription) bool {
	if sub.Throttling <= 0 {
		return true
	}
	e.mu.RLock()
	limiter := e.limiters[sub.ID]
	e.mu.RUnlock()
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (e *Engine) dispatch(sub *subs.Subscription, ev store.ChangeEvent) {
	payload, err := buildPayload(sub, ev.Entity)
	if err != nil {
		logger.Errorw("Failed to build notification payload",
			"subscription_id", sub.ID,
			"entity_id", ev.EntityID,
			"error", err,
		)
		return
	}

	req, err := http.NewRequest(http.MethodPost, sub.Notification.HTTP.URL, bytes.NewReader(payload))
	if err != nil {
		e.recordFailure(sub)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ngsiv2-AttrsFormat", formatHeader(sub))
	req.Header.Set("Fiware-Correlator", uuid.NewString())

	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()

	resp, err := client.Do(req)
	if err != nil {
		logger.Warnw("Notification delivery failed",
			"subscription_id", sub.ID,
			"url", sub.Notification.HTTP.URL,
			"error", err,
		)
		e.recordFailure(sub)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnw("Notification rejected by receiver",
			"subscription_id", sub.ID,
			"url", sub.Notification.HTTP.URL,
			"status", resp.StatusCode,
		)
		e.recordFailure(sub)
		return
	}

	e.recordSuccess(sub)
	logger.Debugw("Notification delivered",
		"subscription_id", sub.ID,
		"entity_id", ev.EntityID,
	)
}

func formatHeader(sub *subs.Subscription) string {
	if sub.Notification.AttrsFormat == subs.FormatKeyValues {
		return subs.FormatKeyValues
	}
	return subs.FormatNormalized
}

func (e *Engine) recordSuccess(sub *subs.Subscription) {
	notificationsSent.Inc()
	now := time.Now()
	if err := e.subs.RecordNotification(sub.ID, now); err != nil && !errors.IsNotFound(err) {
		logger.Errorw("Failed to record notification", "subscription_id", sub.ID, "error", err)
	}
	e.mu.Lock()
	if cached, ok := e.byID[sub.ID]; ok {
		cached.TimesSent++
		cached.FailsCounter = 0
		cached.LastNotification = &now
		cached.LastSuccess = &now
	}
	e.mu.Unlock()
}

func (e *Engine) recordFailure(sub *subs.Subscription) {
	notificationsFailed.Inc()
	now := time.Now()
	if err := e.subs.RecordFailure(sub.ID, now); err != nil && !errors.IsNotFound(err) {
		logger.Errorw("Failed to record delivery failure", "subscription_id", sub.ID, "error", err)
	}
	e.mu.Lock()
	if cached, ok := e.byID[sub.ID]; ok {
		cached.FailsCounter++
		cached.LastFailure = &now
	}
	e.mu.Unlock()
}
