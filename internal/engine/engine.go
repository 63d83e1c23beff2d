// Package engine holds the application core: case lifecycle, generation
// dispatch, chat sessions, preferences. HTTP and CLI layers translate in and
// out of it but never touch storage or providers directly.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"heartmend/internal/config"
	"heartmend/internal/domain"
	"heartmend/internal/events"
	"heartmend/internal/generate"
	"heartmend/internal/plan"
	"heartmend/internal/provider"
	"heartmend/internal/ratelimit"
	"heartmend/internal/repo"
)

// RateLimitedError reports an exhausted rate-limit window.
type RateLimitedError struct {
	Action  string
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, resets at %s", e.Action, e.ResetAt.UTC().Format(time.RFC3339))
}

// ErrGenerationInFlight rejects operations that would overlap an active
// generation on the same case.
var ErrGenerationInFlight = errors.New("generation already in progress")

// ErrNoPlanToRegenerate rejects regeneration of a case that has never
// completed a generation.
var ErrNoPlanToRegenerate = errors.New("case has no plan to regenerate")

// ErrEmptyChatMessage rejects chat turns with no content.
var ErrEmptyChatMessage = errors.New("chat message is empty")

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       *events.Writer
	Config       *config.Config
	Providers    *provider.Registry
	Limiter      ratelimit.Limiter
	Orchestrator generate.Orchestrator
	Now          func() time.Time
	Logger       *log.Logger

	// SelectProvider resolves a provider name to a client. Defaults to the
	// registry; tests install stubs here.
	SelectProvider func(name string) (provider.Provider, error)

	// Run executes background work. The default spawns a tracked goroutine;
	// tests install a synchronous runner.
	Run func(fn func())

	wg sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:           db,
		Repo:         repo.Repo{DB: db},
		Events:       events.NewWriter(db, cfg.Analytics.Enabled),
		Config:       cfg,
		Providers:    provider.NewRegistry(cfg),
		Limiter:      ratelimit.NewMemoryLimiter(),
		Orchestrator: generate.New(),
		Now:          time.Now,
	}
	e.SelectProvider = e.Providers.Select
	e.Run = e.spawn
	return e
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Close drains in-flight background generations.
func (e *Engine) Close() {
	e.wg.Wait()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// event appends an analytics event unless the user has opted out.
func (e *Engine) event(ctx context.Context, eventType, userID string, payload map[string]any) {
	prefs, err := e.Repo.GetPreferences(ctx, userID)
	if err == nil && !prefs.EnableAnalytics {
		return
	}
	e.Events.Append(ctx, eventType, userID, payload)
}

func (e *Engine) checkLimit(userID, action string) error {
	if e.Limiter == nil {
		return nil
	}
	res := e.Limiter.Check(userID, action, e.Config.Limit(action))
	if !res.Allowed {
		return &RateLimitedError{Action: action, ResetAt: res.ResetAt}
	}
	return nil
}

func (e *Engine) generationConfig(preferredProvider string) (generate.Config, error) {
	p, err := e.SelectProvider(preferredProvider)
	if err != nil {
		return generate.Config{}, err
	}
	return generate.Config{
		Provider:       p,
		MaxRetries:     e.Config.AI.MaxRetries,
		AttemptTimeout: e.Config.AttemptTimeout(),
		Temperature:    e.Config.Temperature(),
	}, nil
}

// RecentEvents lists the newest analytics events, for operator inspection.
func (e *Engine) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	return e.Events.Recent(ctx, limit)
}

// GetPreferences returns the user's stored preferences or the defaults.
func (e *Engine) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	return e.Repo.GetPreferences(ctx, userID)
}

// PreferencesUpdate carries a partial preferences change; nil fields keep
// their current values.
type PreferencesUpdate struct {
	PreferredProvider *string
	DefaultTone       *string
	SaveRawInputs     *bool
	EnableAnalytics   *bool
}

func (e *Engine) UpdatePreferences(ctx context.Context, userID string, upd PreferencesUpdate) (domain.Preferences, error) {
	if _, err := e.Repo.EnsureUser(ctx, userID); err != nil {
		return domain.Preferences{}, err
	}
	p, err := e.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return domain.Preferences{}, err
	}
	if upd.PreferredProvider != nil {
		if *upd.PreferredProvider != "" {
			if _, ok := e.Config.AI.Providers[*upd.PreferredProvider]; !ok {
				return domain.Preferences{}, &plan.ValidationError{Field: "preferred_provider", Constraint: "unknown provider"}
			}
		}
		p.PreferredProvider = *upd.PreferredProvider
	}
	if upd.DefaultTone != nil {
		valid := false
		for _, t := range plan.Tones {
			if t == *upd.DefaultTone {
				valid = true
			}
		}
		if !valid {
			return domain.Preferences{}, &plan.ValidationError{Field: "default_tone", Constraint: "unknown tone"}
		}
		p.DefaultTone = *upd.DefaultTone
	}
	if upd.SaveRawInputs != nil {
		p.SaveRawInputs = *upd.SaveRawInputs
	}
	if upd.EnableAnalytics != nil {
		p.EnableAnalytics = *upd.EnableAnalytics
	}
	if err := e.Repo.UpsertPreferences(ctx, p); err != nil {
		return domain.Preferences{}, err
	}
	return e.Repo.GetPreferences(ctx, userID)
}

func marshalPlan(p *plan.RepairPlan) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newID() string {
	return uuid.NewString()
}
