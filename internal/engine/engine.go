// Package engine evaluates free-text rules against every loaded appointment.
//
// Each Evaluate call parses the rule once, fans the appointments out over a bounded
// worker pool, ranks the matches by confidence and memoizes the result. Results are
// deterministic for a fixed dataset and clock: every appointment is always evaluated
// and ties keep appointment load order.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/RuleNotify/internal/evalctx"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/predicate"
	"github.com/BTreeMap/RuleNotify/internal/render"
	"github.com/BTreeMap/RuleNotify/internal/rules"
	"github.com/BTreeMap/RuleNotify/internal/store"
)

const (
	// DefaultWorkers is the size of the evaluation worker pool.
	DefaultWorkers = 4
	// DefaultLimit is used when a caller passes a limit of zero or less.
	DefaultLimit = 10
)

// Opts holds configuration for an Engine.
type Opts struct {
	Workers      int
	Clock        Clock
	DefaultLimit int
}

// Option defines a configuration option for an Engine.
type Option func(*Opts)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// WithClock sets the reference clock.
func WithClock(c Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithDefaultLimit sets the limit used for non-positive limits.
func WithDefaultLimit(n int) Option {
	return func(o *Opts) { o.DefaultLimit = n }
}

type cacheKey struct {
	text    string
	limit   int
	asOf    int64
	version string
}

// Engine is safe for concurrent use.
type Engine struct {
	opts Opts

	mu      sync.RWMutex
	store   *store.RecordStore
	builder *evalctx.Builder
	cache   map[cacheKey][]models.RuleMatch
}

// NewEngine creates an engine over s.
func NewEngine(s *store.RecordStore, opts ...Option) *Engine {
	cfg := Opts{Workers: DefaultWorkers, Clock: FixedClock{T: DefaultAsOf}, DefaultLimit: DefaultLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = FixedClock{T: DefaultAsOf}
	}
	slog.Debug("NewEngine", "workers", cfg.Workers, "default_limit", cfg.DefaultLimit, "dataset_version", s.Version())
	return &Engine{
		opts:    cfg,
		store:   s,
		builder: evalctx.NewBuilder(s),
		cache:   make(map[cacheKey][]models.RuleMatch),
	}
}

// Clock returns the engine's reference clock.
func (e *Engine) Clock() Clock {
	return e.opts.Clock
}

// SetStore swaps the dataset and drops every cached result.
func (e *Engine) SetStore(s *store.RecordStore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = s
	e.builder = evalctx.NewBuilder(s)
	e.cache = make(map[cacheKey][]models.RuleMatch)
	slog.Info("Engine.SetStore: dataset replaced", "dataset_version", s.Version())
}

// DatasetVersion reports the version of the dataset currently evaluated against.
func (e *Engine) DatasetVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Version()
}

// Invalidate drops every cached result.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[cacheKey][]models.RuleMatch)
}

// Evaluate returns the top matches for text, at most limit of them. A rule that fails
// to parse yields an empty result and the *rules.ParseError.
func (e *Engine) Evaluate(ctx context.Context, text string, limit int) ([]models.RuleMatch, error) {
	matches, _, err := e.evaluate(ctx, text, limit, e.opts.Clock.Now())
	return matches, err
}

// EvaluateRun is Evaluate with a run id and the as-of time attached, for reporting.
func (e *Engine) EvaluateRun(ctx context.Context, text string, limit int) (*models.EvaluateResult, error) {
	asOf := e.opts.Clock.Now()
	runID := uuid.NewString()
	matches, cached, err := e.evaluate(ctx, text, limit, asOf)
	slog.Info("Engine.EvaluateRun", "run_id", runID, "matches", len(matches), "cached", cached, "error", err)
	return &models.EvaluateResult{
		RunID:   runID,
		AsOf:    asOf.Format(time.RFC3339),
		Rule:    text,
		Matches: matches,
	}, err
}

func (e *Engine) evaluate(ctx context.Context, text string, limit int, asOf time.Time) ([]models.RuleMatch, bool, error) {
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}

	e.mu.RLock()
	st, builder := e.store, e.builder
	key := cacheKey{text: text, limit: limit, asOf: asOf.UnixNano(), version: st.Version()}
	cached, hit := e.cache[key]
	e.mu.RUnlock()
	if hit {
		slog.Debug("Engine.Evaluate: cache hit", "limit", limit)
		return cloneMatches(cached), true, nil
	}

	rule, err := rules.Parse(text)
	if err != nil {
		slog.Info("Engine.Evaluate: rule did not parse", "error", err)
		return []models.RuleMatch{}, false, err
	}

	start := time.Now()
	ids := st.AppointmentIDs()
	results := make([]*models.RuleMatch, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = evaluateAppointment(builder, rule, id, asOf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("Engine.Evaluate: cancelled", "error", err)
		return []models.RuleMatch{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return []models.RuleMatch{}, false, err
	}

	matches := make([]models.RuleMatch, 0, len(ids))
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	eligible := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	e.mu.Lock()
	if e.store == st {
		// Entries for an older as-of time or dataset version can never hit again.
		for k := range e.cache {
			if k.asOf != key.asOf || k.version != key.version {
				delete(e.cache, k)
			}
		}
		e.cache[key] = cloneMatches(matches)
	}
	e.mu.Unlock()

	slog.Debug("Engine.Evaluate: completed",
		"rule_id", rule.ID,
		"appointments", len(ids),
		"eligible", eligible,
		"returned", len(matches),
		"duration", time.Since(start))
	return matches, false, nil
}

// cloneMatches copies ms deeply enough that callers cannot reach cached payloads.
func cloneMatches(ms []models.RuleMatch) []models.RuleMatch {
	out := make([]models.RuleMatch, len(ms))
	for i, m := range ms {
		if m.Actions != nil {
			m.Actions = append(make([]models.NotificationPayload, 0, len(m.Actions)), m.Actions...)
		}
		out[i] = m
	}
	return out
}

// evaluateAppointment runs one appointment through context building, scoring and
// rendering. It returns nil when the rule does not match.
func evaluateAppointment(b *evalctx.Builder, rule *models.StructuredRule, apptID string, asOf time.Time) *models.RuleMatch {
	c, ok := b.Build(apptID, asOf)
	if !ok {
		return nil
	}
	confidence, ok := predicate.Score(rule, c)
	if !ok {
		return nil
	}
	return &models.RuleMatch{
		AppointmentID: c.AppointmentID,
		PatientID:     c.PatientID,
		Confidence:    confidence,
		Actions:       render.Render(rule.Actions, c),
		Suppressed:    c.DNC,
	}
}
