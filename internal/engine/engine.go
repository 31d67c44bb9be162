// Package engine orchestrates ingestion, planning, the action lifecycle and
// the background tick loop over the contact store.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/normalize"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/clustercoder/bubbleOne/internal/retrieval"
	"github.com/clustercoder/bubbleOne/internal/scoring"
	"github.com/clustercoder/bubbleOne/internal/store"
)

// autoNudgeBelow is the score under which an auto-nudge contact is eligible
// for an automatic reminder.
const autoNudgeBelow = 72.0

// recentWindow is how many stored events the planner reads sentiment from.
const recentWindow = 10

// Options tune the engine and its worker.
type Options struct {
	AutoTriggerThreshold float64
	Cooldown             time.Duration
	OverdueIgnore        time.Duration
	RecomputeWindow      int
	PlannerTimeout       time.Duration // per planner call, and for indexing summaries on ingest
	Interval             time.Duration
	StripKeys            []string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		AutoTriggerThreshold: 45,
		Cooldown:             12 * time.Hour,
		OverdueIgnore:        24 * time.Hour,
		RecomputeWindow:      60,
		PlannerTimeout:       20 * time.Second,
		Interval:             15 * time.Second,
	}
}

// Engine owns every state transition driven by clients and the worker.
type Engine struct {
	DB        *store.DB
	Planner   planner.Planner
	Retriever *retrieval.Retriever
	Audit     audit.Sink

	log        *slog.Logger
	opts       Options
	normalizer *normalize.Normalizer
	now        func() time.Time
}

// New creates an Engine. sink may be nil.
func New(db *store.DB, p planner.Planner, sink audit.Sink, log *slog.Logger, opts Options) *Engine {
	if sink == nil {
		sink = audit.Nop
	}
	return &Engine{
		DB:         db,
		Planner:    p,
		Audit:      sink,
		log:        log,
		opts:       opts,
		normalizer: normalize.New(opts.StripKeys...),
		now:        time.Now,
	}
}

// SetRetriever makes ingestion index event summaries.
func (e *Engine) SetRetriever(r *retrieval.Retriever) {
	e.Retriever = r
}

// SetClock overrides the engine's notion of now.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// ContactHash derives the default contact identifier from an alias.
func ContactHash(alias string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(alias))))
	return hex.EncodeToString(sum[:])[:16]
}

// IngestRequest is a batch of raw events for one contact.
type IngestRequest struct {
	Alias       string               `json:"alias" yaml:"alias"`
	ContactHash string               `json:"contact_hash,omitempty" yaml:"contact_hash,omitempty"`
	Events      []normalize.RawEvent `json:"events" yaml:"events"`
}

// IngestResult is returned by Ingest. Action is set when the plan produced
// a new pending action.
type IngestResult struct {
	Contact  *store.Contact `json:"contact"`
	Action   *store.Action  `json:"action,omitempty"`
	Inserted int            `json:"inserted"`
}

// Ingest normalizes and appends events, then plans the contact. When the
// planner is unavailable the events stay appended, the contact's score
// fields are untouched and the error wraps core.ErrUpstreamUnavailable.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		return nil, fmt.Errorf("alias is required: %w", core.ErrInvalidInput)
	}
	if len(req.Events) == 0 {
		return nil, fmt.Errorf("events must not be empty: %w", core.ErrInvalidInput)
	}
	hash := strings.TrimSpace(req.ContactHash)
	if hash == "" {
		hash = ContactHash(alias)
	}

	now := e.clock()
	events, err := e.normalizer.NormalizeBatch(req.Events, hash, now)
	if err != nil {
		return nil, err
	}

	before, err := e.DB.GetContact(hash)
	if err != nil {
		return nil, err
	}
	inserted, err := e.DB.AppendEvents(hash, alias, events)
	if err != nil {
		return nil, err
	}
	if e.Retriever != nil {
		rctx, cancel := context.WithTimeout(ctx, e.opts.PlannerTimeout)
		e.Retriever.Remember(rctx, inserted)
		cancel()
	}
	e.Audit.Emit(ctx, audit.EventIngest, map[string]any{
		"contact_hash": hash,
		"received":     len(events),
		"inserted":     len(inserted),
	})

	prev, prevAt, tuning := core.DefaultScore, time.Time{}, core.DefaultTuning()
	if before != nil {
		prev, prevAt, tuning = before.CurrentScore, before.LastUpdatedAt, before.Tuning
	}
	recent, prior, err := e.DB.InteractionCounts(hash, now)
	if err != nil {
		return nil, err
	}
	window, err := e.DB.EventWindow(hash, recentWindow)
	if err != nil {
		return nil, err
	}

	res, err := e.plan(ctx, planner.Request{
		ContactHash:   hash,
		Alias:         alias,
		Events:        inserted,
		Recent:        window,
		PreviousScore: prev,
		PreviousAt:    prevAt,
		Tuning:        tuning,
		Recent7d:      recent,
		Prior7d:       prior,
		AsOf:          now,
	})
	if err != nil {
		return nil, err
	}

	contact, err := e.DB.ApplyOutcome(hash, outcomeFrom(res, false), now)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Contact: contact, Inserted: len(inserted)}
	if nudge := nudgeFromPlan(contact, res, now); nudge != nil {
		created, err := e.DB.AddActionIfNone(nudge, core.NudgeActionTypes...)
		if err != nil {
			return nil, err
		}
		if created {
			if err := e.DB.StampAutoAction(hash, now); err != nil {
				return nil, err
			}
			result.Action = nudge
			e.emitAction(ctx, audit.EventActionCreated, nudge)
		}
	}
	return result, nil
}

// plan calls the planner under the configured timeout.
func (e *Engine) plan(ctx context.Context, req planner.Request) (*planner.Result, error) {
	pctx, cancel := context.WithTimeout(ctx, e.opts.PlannerTimeout)
	defer cancel()

	out := e.Planner.ProcessContact(pctx, req)
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func outcomeFrom(res *planner.Result, retrained bool) store.Outcome {
	o := store.Outcome{
		Score:           res.Score,
		Recommendation:  res.Recommendation,
		DraftMessage:    res.DraftMessage,
		ActionType:      res.ActionType,
		Priority:        res.Priority,
		ScheduledAt:     res.ScheduleAt,
		AnomalyDetected: res.AnomalyDetected,
		AnomalyReason:   res.AnomalyReason,
	}
	if retrained {
		lambda := res.LambdaUsed
		o.LambdaDecay = &lambda
	}
	return o
}

// nudgeFromPlan turns a nudge-type plan into an auto action. Deprioritize
// plans produce nothing.
func nudgeFromPlan(c *store.Contact, res *planner.Result, now time.Time) *store.Action {
	text := res.Recommendation
	switch {
	case res.ActionType.IsDraft():
		text = res.DraftMessage
		if text == "" {
			text = planner.FallbackDraft(c.Alias)
		}
	case res.ActionType == core.ActionReminder:
	default:
		return nil
	}
	return &store.Action{
		ContactHash:  c.ContactHash,
		Type:         res.ActionType,
		Text:         text,
		Origin:       core.OriginAuto,
		ScheduledFor: res.ScheduleAt,
		CreatedAt:    now,
	}
}

// DraftResult is returned by CreateDraft.
type DraftResult struct {
	Draft  string        `json:"draft"`
	Action *store.Action `json:"action"`
}

// CreateDraft returns the contact's current draft and records it as a
// pending user draft action.
func (e *Engine) CreateDraft(ctx context.Context, hash string) (*DraftResult, error) {
	c, err := e.DB.GetContact(hash)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("contact %s: %w", hash, core.ErrNotFound)
	}

	draft := c.DraftMessage
	if draft == "" {
		draft = planner.FallbackDraft(c.Alias)
	}
	a := &store.Action{
		ContactHash: hash,
		Type:        core.ActionDraft,
		Text:        draft,
		Origin:      core.OriginUser,
		CreatedAt:   e.clock(),
	}
	if err := e.DB.AddAction(a); err != nil {
		return nil, err
	}
	e.emitAction(ctx, audit.EventActionCreated, a)
	return &DraftResult{Draft: draft, Action: a}, nil
}

// ActionResult is returned by SendAction and IgnoreAction. Tuning is set
// when the transition produced feedback.
type ActionResult struct {
	Action *store.Action     `json:"action"`
	Tuning *core.TuningState `json:"tuning,omitempty"`
}

// SendAction completes a pending action. Draft-type actions feed positive
// feedback into the contact's tuning.
func (e *Engine) SendAction(ctx context.Context, id string) (*ActionResult, error) {
	return e.resolve(ctx, id, true)
}

// IgnoreAction ignores a pending action. Draft-type actions feed negative
// feedback into the contact's tuning.
func (e *Engine) IgnoreAction(ctx context.Context, id string) (*ActionResult, error) {
	return e.resolve(ctx, id, false)
}

func (e *Engine) resolve(ctx context.Context, id string, completed bool) (*ActionResult, error) {
	existing, err := e.DB.GetAction(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("action %s: %w", id, core.ErrNotFound)
	}
	if existing.Status != core.ActionPending {
		return nil, fmt.Errorf("action %s is %s: %w", id, existing.Status, core.ErrActionTerminal)
	}

	now := e.clock()
	var a *store.Action
	event := audit.EventActionIgnored
	if completed {
		a, err = e.DB.CompleteAction(id, now)
		event = audit.EventActionCompleted
	} else {
		a, err = e.DB.IgnoreAction(id, now)
	}
	if err != nil {
		return nil, err
	}
	if a == nil {
		// Resolved by someone else between the read and the write.
		return nil, fmt.Errorf("action %s: %w", id, core.ErrActionTerminal)
	}
	e.emitAction(ctx, event, a)

	result := &ActionResult{Action: a}
	if a.Type.IsDraft() {
		tuning, err := e.feedback(ctx, a, completed, event)
		if err != nil {
			return nil, err
		}
		result.Tuning = tuning
	}
	return result, nil
}

func (e *Engine) feedback(ctx context.Context, a *store.Action, positive bool, source string) (*core.TuningState, error) {
	tuning, err := e.DB.ApplyFeedback(a.ContactHash, positive)
	if err != nil {
		return nil, err
	}
	e.Audit.Emit(ctx, audit.EventFeedback, map[string]any{
		"contact_hash":           a.ContactHash,
		"action_id":              a.ID,
		"positive":               positive,
		"source":                 source,
		"interaction_multiplier": tuning.InteractionMultiplier,
		"lambda_decay":           tuning.LambdaDecay,
	})
	return tuning, nil
}

// ToggleResult is returned by ToggleAutoNudge.
type ToggleResult struct {
	Contact *store.Contact `json:"contact"`
	Action  *store.Action  `json:"action,omitempty"`
}

// ToggleAutoNudge sets the contact's auto-nudge flag. Enabling it on a
// contact below the auto-nudge score creates an auto reminder unless one
// is already pending.
func (e *Engine) ToggleAutoNudge(ctx context.Context, hash string, enabled bool) (*ToggleResult, error) {
	c, err := e.DB.SetAutoNudge(hash, enabled)
	if err != nil {
		return nil, err
	}
	e.Audit.Emit(ctx, audit.EventAutoNudgeToggled, map[string]any{
		"contact_hash": hash,
		"enabled":      enabled,
	})

	result := &ToggleResult{Contact: c}
	if !enabled || c.CurrentScore >= autoNudgeBelow {
		return result, nil
	}

	now := e.clock()
	a := &store.Action{
		ContactHash: hash,
		Type:        core.ActionReminder,
		Text:        reminderText(c),
		Origin:      core.OriginAuto,
		CreatedAt:   now,
	}
	created, err := e.DB.AddActionIfNone(a, core.NudgeActionTypes...)
	if err != nil {
		return nil, err
	}
	if created {
		if err := e.DB.StampAutoAction(hash, now); err != nil {
			return nil, err
		}
		result.Action = a
		e.emitAction(ctx, audit.EventActionCreated, a)
	}
	return result, nil
}

func reminderText(c *store.Contact) string {
	return fmt.Sprintf("Reach out to %s: relationship score is %.1f (%s).", c.Alias, c.CurrentScore, c.Band)
}

func (e *Engine) emitAction(ctx context.Context, name string, a *store.Action) {
	e.Audit.Emit(ctx, name, map[string]any{
		"action_id":    a.ID,
		"contact_hash": a.ContactHash,
		"action_type":  string(a.Type),
		"origin":       string(a.Origin),
		"status":       string(a.Status),
	})
}

// Metrics are dashboard aggregates.
type Metrics struct {
	Contacts       int     `json:"contacts"`
	MeanScore      float64 `json:"mean_score"`
	Critical       int     `json:"critical"`
	PendingActions int     `json:"pending_actions"`
}

// Dashboard is the read model served to clients.
type Dashboard struct {
	Contacts       []store.Contact  `json:"contacts"`
	PendingActions []store.Action   `json:"pending_actions"`
	Metrics        Metrics          `json:"metrics"`
	Worker         store.WorkerMeta `json:"worker"`
}

// Dashboard returns contacts most at-risk first, pending actions, aggregate
// metrics and worker bookkeeping. It has no side effects.
func (e *Engine) Dashboard() (*Dashboard, error) {
	contacts, err := e.DB.ListContacts()
	if err != nil {
		return nil, err
	}
	pending, err := e.DB.ListPendingActions()
	if err != nil {
		return nil, err
	}
	meta, err := e.DB.GetWorkerMeta()
	if err != nil {
		return nil, err
	}

	if contacts == nil {
		contacts = []store.Contact{}
	}
	if pending == nil {
		pending = []store.Action{}
	}

	m := Metrics{Contacts: len(contacts), PendingActions: len(pending)}
	var sum float64
	for _, c := range contacts {
		sum += c.CurrentScore
		if c.Band == core.BandCritical {
			m.Critical++
		}
	}
	if len(contacts) > 0 {
		m.MeanScore = scoring.Round(sum/float64(len(contacts)), 2)
	}

	return &Dashboard{Contacts: contacts, PendingActions: pending, Metrics: m, Worker: meta}, nil
}
