package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/shellquest/telemetry/pkg/observability"
)

// Config tunes the engine. Zero values fall back to the defaults noted
// on each field.
type Config struct {
	// BufferSize triggers a synchronous flush once the in-memory buffer
	// reaches it. Default 50.
	BufferSize int

	// FlushInterval is the background flush period. Default 5 minutes.
	FlushInterval time.Duration

	// MaxPendingEvents bounds the buffer after a failed flush re-queues
	// its batch. Events beyond the bound are dropped and counted.
	// Default 10x BufferSize.
	MaxPendingEvents int

	// Salt feeds the anonymizer. Empty means a random per-process salt.
	Salt string

	// Retention controls CleanupOldData.
	Retention RetentionPolicy

	// InsightsCacheSize and InsightsCacheTTL bound the computed-insights
	// cache. Defaults 1024 entries, 1 minute.
	InsightsCacheSize int
	InsightsCacheTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Minute
	}
	if c.MaxPendingEvents <= 0 {
		c.MaxPendingEvents = 10 * c.BufferSize
	}
	if c.Retention.RetentionDays <= 0 {
		c.Retention.RetentionDays = DefaultRetentionPolicy().RetentionDays
	}
	if c.InsightsCacheSize <= 0 {
		c.InsightsCacheSize = 1024
	}
	if c.InsightsCacheTTL <= 0 {
		c.InsightsCacheTTL = time.Minute
	}
}

// Engine is the telemetry pipeline. Construct exactly one per process
// with NewEngine and hand it to every consumer; it owns the event
// buffer, the in-memory session and profile state, and one background
// flush goroutine.
type Engine struct {
	cfg        Config
	store      Store
	archiver   Archiver
	anonymizer *Anonymizer
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer

	// bufMu guards buffer; flushMu serializes drained-batch writes so
	// two triggers can never interleave inserts.
	bufMu   sync.Mutex
	buffer  []*Event
	flushMu sync.Mutex

	sessMu   sync.RWMutex
	sessions map[string]*SessionAggregate

	profMu   sync.RWMutex
	profiles map[string]*UserProfile

	insightsCache *expirable.LRU[string, *UserInsights]
	styleGroup    singleflight.Group

	done      chan struct{}
	workerWG  sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine builds the engine, seeds the profile cache from the store,
// and starts the background flush worker. logger and metrics may be
// nil.
func NewEngine(ctx context.Context, store Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		anonymizer: NewAnonymizer(cfg.Salt),
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("shellquest/telemetry"),
		buffer:     make([]*Event, 0, cfg.BufferSize),
		sessions:   make(map[string]*SessionAggregate),
		profiles:   make(map[string]*UserProfile),
		done:       make(chan struct{}),
	}
	e.insightsCache = expirable.NewLRU[string, *UserInsights](cfg.InsightsCacheSize, nil, cfg.InsightsCacheTTL)

	profiles, err := store.LoadProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	for _, p := range profiles {
		e.profiles[p.UserID] = p
	}
	metrics.ProfilesCached.Set(float64(len(e.profiles)))
	logger.Infof("analytics engine started: %d profiles loaded, buffer size %d, flush interval %s",
		len(e.profiles), cfg.BufferSize, cfg.FlushInterval)

	e.workerWG.Add(1)
	go e.flushWorker()

	return e, nil
}

// SetArchiver wires an archive sink for retention cleanup. Call before
// the first CleanupOldData; typically right after NewEngine.
func (e *Engine) SetArchiver(a Archiver) {
	e.archiver = a
}

// Anonymize exposes the engine's identifier transform so callers can
// correlate externally-held references with exported analytics.
func (e *Engine) Anonymize(rawID string) string {
	return e.anonymizer.Anonymize(rawID)
}

// Track records one gameplay event. It anonymizes the raw user id,
// appends the event to the buffer (flushing synchronously when the
// buffer is full), and updates the in-memory session aggregate.
//
// Track never returns an error and never panics: telemetry failures
// are logged and swallowed so game logic is never interrupted.
func (e *Engine) Track(kind EventKind, rawUserID, sessionID string, data, contextData map[string]interface{}) {
	defer observability.RecoverPanic(e.logger, "track")

	ev := &Event{
		Type:       kind,
		UserID:     e.anonymizer.Anonymize(rawUserID),
		Timestamp:  unixNow(),
		SessionID:  sessionID,
		Data:       data,
		Context:    contextData,
		Anonymized: true,
	}

	e.bufMu.Lock()
	e.buffer = append(e.buffer, ev)
	full := len(e.buffer) >= e.cfg.BufferSize
	e.metrics.BufferedEvents.Set(float64(len(e.buffer)))
	e.bufMu.Unlock()

	e.metrics.EventsTrackedTotal.WithLabelValues(string(kind)).Inc()

	e.updateSession(ev)
	e.updateProfileCounters(ev)

	if full {
		if err := e.flush(context.Background(), "size"); err != nil {
			e.logger.WithError(err).WithSession(sessionID).Warn("size-triggered flush failed")
		}
	}
}

// StartSession emits a session-start event and returns the session id,
// generating one when the caller passes an empty string. The session
// aggregate itself is created lazily by ingestion.
func (e *Engine) StartSession(rawUserID, sessionID string, contextData map[string]interface{}) string {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	e.Track(EventSessionStart, rawUserID, sessionID, nil, contextData)
	return sessionID
}

// EndSession finalizes the in-memory aggregate for sessionID (when one
// exists): it stamps end time and duration, persists the session row,
// folds the session into the player's profile and persists that too,
// then evicts the aggregate and emits a session-end event.
//
// Session and profile writes are independently best-effort; a failure
// in one is logged and does not roll back the other.
func (e *Engine) EndSession(ctx context.Context, rawUserID, sessionID string) {
	defer observability.RecoverPanic(e.logger, "end_session")

	userID := e.anonymizer.Anonymize(rawUserID)
	now := unixNow()

	e.sessMu.Lock()
	agg, ok := e.sessions[sessionID]
	if ok {
		end := now
		agg.EndTime = &end
		dur := end - agg.StartTime
		agg.Duration = &dur
		delete(e.sessions, sessionID)
	}
	active := len(e.sessions)
	e.sessMu.Unlock()
	e.metrics.ActiveSessions.Set(float64(active))

	if ok {
		if err := e.observeStore("upsert_session", func() error {
			return e.store.UpsertSession(ctx, agg)
		}); err != nil {
			e.logger.WithError(err).WithSession(sessionID).Error("failed to persist session")
		}
		e.metrics.SessionsEndedTotal.Inc()

		e.profMu.Lock()
		p := e.profiles[userID]
		if p == nil {
			p = &UserProfile{
				UserID:       userID,
				CurrentLevel: 1,
				CreatedAt:    now,
			}
			e.profiles[userID] = p
		}
		p.TotalSessions++
		if agg.Duration != nil {
			p.TotalPlaytime += *agg.Duration
		}
		p.LastActive = now
		snapshot := p.clone()
		cached := len(e.profiles)
		e.profMu.Unlock()
		e.metrics.ProfilesCached.Set(float64(cached))

		if err := e.observeStore("upsert_profile", func() error {
			return e.store.UpsertProfile(ctx, snapshot)
		}); err != nil {
			e.logger.WithError(err).WithField("user_id", userID).Error("failed to persist profile")
		}
		e.insightsCache.Remove(userID)
	}

	e.Track(EventSessionEnd, rawUserID, sessionID, nil, nil)
}

// Flush drains the buffer and writes it to the store immediately.
// Exposed for the maintenance daemon and for tests; the engine calls
// it internally on the size and interval triggers.
func (e *Engine) Flush(ctx context.Context) error {
	return e.flush(ctx, "manual")
}

// BufferLen reports the number of events awaiting durable write.
func (e *Engine) BufferLen() int {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return len(e.buffer)
}

// Session returns a copy of the in-memory aggregate for sessionID, or
// false when no session with that id is active.
func (e *Engine) Session(sessionID string) (SessionAggregate, bool) {
	e.sessMu.RLock()
	defer e.sessMu.RUnlock()
	agg, ok := e.sessions[sessionID]
	if !ok {
		return SessionAggregate{}, false
	}
	cp := *agg
	cp.CommandsUsed = append([]string(nil), agg.CommandsUsed...)
	return cp, true
}

// Close stops the background worker, performs a final flush, and
// returns the final flush's error, if any. Safe to call more than
// once.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.workerWG.Wait()
		err = e.flush(ctx, "shutdown")
		e.logger.Info("analytics engine stopped")
	})
	return err
}

// flushWorker is the single background goroutine owned by the engine.
// It flushes on every tick until Close.
func (e *Engine) flushWorker() {
	defer e.workerWG.Done()
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.flush(context.Background(), "interval"); err != nil {
				e.logger.WithError(err).Warn("interval flush failed")
			}
		case <-e.done:
			return
		}
	}
}

// flush drains the buffer under bufMu, then writes the drained batch
// outside it. On failure the batch is re-queued at the front of the
// buffer, bounded by MaxPendingEvents; overflow is dropped and counted
// rather than lost silently.
func (e *Engine) flush(ctx context.Context, trigger string) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.bufMu.Lock()
	if len(e.buffer) == 0 {
		e.bufMu.Unlock()
		return nil
	}
	batch := e.buffer
	e.buffer = make([]*Event, 0, e.cfg.BufferSize)
	e.metrics.BufferedEvents.Set(0)
	e.bufMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "telemetry.flush",
		trace.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.Int("batch.size", len(batch)),
		))
	defer span.End()

	start := time.Now()
	err := e.observeStore("insert_events", func() error {
		return e.store.InsertEvents(ctx, batch)
	})
	e.metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch insert failed")
		e.metrics.FlushesTotal.WithLabelValues(trigger, "error").Inc()
		e.requeue(batch)
		return fmt.Errorf("failed to flush %d events: %w", len(batch), err)
	}

	e.metrics.FlushesTotal.WithLabelValues(trigger, "ok").Inc()
	e.metrics.FlushedEvents.Add(float64(len(batch)))
	return nil
}

// requeue puts a failed batch back at the front of the buffer so the
// next flush retries it ahead of newer events. The combined buffer is
// capped at MaxPendingEvents; the newest overflow is dropped.
func (e *Engine) requeue(batch []*Event) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()

	combined := append(batch, e.buffer...)
	if over := len(combined) - e.cfg.MaxPendingEvents; over > 0 {
		e.logger.Warnf("event buffer over capacity after failed flush, dropping %d events", over)
		e.metrics.EventsDroppedTotal.WithLabelValues("requeue_overflow").Add(float64(over))
		combined = combined[:e.cfg.MaxPendingEvents]
	}
	e.buffer = combined
	e.metrics.BufferedEvents.Set(float64(len(e.buffer)))
}

// updateSession applies one event to its in-memory session aggregate,
// creating the aggregate on first sight of the session id.
func (e *Engine) updateSession(ev *Event) {
	if ev.SessionID == "" {
		return
	}

	e.sessMu.Lock()
	defer e.sessMu.Unlock()

	agg, ok := e.sessions[ev.SessionID]
	if !ok {
		// A session-end event arrives after EndSession already evicted
		// the aggregate; it must not resurrect one.
		if ev.Type == EventSessionEnd {
			return
		}
		agg = &SessionAggregate{
			SessionID: ev.SessionID,
			UserID:    ev.UserID,
			StartTime: ev.Timestamp,
		}
		e.sessions[ev.SessionID] = agg
		e.metrics.ActiveSessions.Set(float64(len(e.sessions)))
	}

	agg.EventsCount++
	switch ev.Type {
	case EventMissionStart:
		agg.MissionsAttempted++
	case EventGameStart:
		agg.GamesPlayed++
	case EventCommandExecuted:
		if cmd, ok := ev.Data["command"].(string); ok {
			agg.recordCommand(cmd)
		}
	}
}

// updateProfileCounters folds progression events into an existing
// in-memory profile. Profiles are only created at session end, so
// progression before a player's first completed session is not
// counted; the durable write happens with the next profile upsert.
func (e *Engine) updateProfileCounters(ev *Event) {
	switch ev.Type {
	case EventMissionComplete, EventGameComplete, EventBadgeEarned, EventLevelUp:
	default:
		return
	}

	e.profMu.Lock()
	defer e.profMu.Unlock()

	p := e.profiles[ev.UserID]
	if p == nil {
		return
	}

	switch ev.Type {
	case EventMissionComplete:
		p.MissionsCompleted++
	case EventGameComplete:
		p.GamesCompleted++
	case EventBadgeEarned:
		p.BadgesEarned++
	case EventLevelUp:
		if lvl, ok := numericField(ev.Data, "level"); ok {
			p.CurrentLevel = int(lvl)
		} else {
			p.CurrentLevel++
		}
	}
}

// observeStore times a store call and records its outcome.
func (e *Engine) observeStore(operation string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.StoreOperationsTotal.WithLabelValues(operation, "primary", status).Inc()
	e.metrics.StoreOperationDuration.WithLabelValues(operation, "primary").Observe(time.Since(start).Seconds())
	return err
}

// numericField reads a float-ish value out of an untyped payload map.
func numericField(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// unixNow is the event clock: unix seconds with sub-second precision.
func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
