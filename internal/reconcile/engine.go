// Package reconcile merges newly extracted facts into a company's stored
// facts, keeping every observed value in each fact's changelog.
package reconcile

import (
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
)

// DefaultTolerance is the relative difference below which two amounts are
// considered equal.
const DefaultTolerance = 1e-6

// Conflict reasons.
const (
	ReasonEqualPriority    = "equal_priority"
	ReasonDuplicateInBatch = "duplicate_in_batch"
)

// Engine reconciles facts. The zero value is not usable; use New.
type Engine struct {
	priority  PriorityFunc
	tolerance float64
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPriority sets the file priority function.
func WithPriority(p PriorityFunc) Option {
	return func(e *Engine) { e.priority = p }
}

// WithTolerance sets the relative equality tolerance.
func WithTolerance(tol float64) Option {
	return func(e *Engine) {
		if tol >= 0 {
			e.tolerance = tol
		}
	}
}

// WithClock sets the changelog timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs sets the changelog entry id generator.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New returns an engine using DefaultPriority and DefaultTolerance unless
// overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		priority:  DefaultPriority,
		tolerance: DefaultTolerance,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// With returns a copy of e with opts applied.
func (e *Engine) With(opts ...Option) *Engine {
	c := *e
	for _, o := range opts {
		o(&c)
	}
	return &c
}

// Result is the outcome of one reconciliation.
type Result struct {
	Final     []model.LineItemFact
	Changes   []model.ChangeEntry
	Conflicts []model.ConflictEntry
	Summary   model.ReconcileSummary
}

// Report returns the externally visible part of the result.
func (r Result) Report() model.ReconcileReport {
	return model.ReconcileReport{Summary: r.Summary, Changes: r.Changes, Conflicts: r.Conflicts}
}

type candidate struct {
	fact     model.LineItemFact
	priority int
}

// Reconcile merges newFacts into existing. Neither input is modified.
// Explanations must carry canonical line item ids; an empty period or
// scenario on an explanation matches any.
//
// Final holds one fact per key: untouched existing-only facts, inserted
// facts, and merged facts, sorted by key.
func (e *Engine) Reconcile(newFacts, existing []model.LineItemFact, explanations []model.VarianceExplanation) Result {
	var res Result

	existingByKey := make(map[model.FactKey]model.LineItemFact, len(existing))
	for _, f := range existing {
		k := f.Key()
		if _, dup := existingByKey[k]; dup {
			zap.L().Warn("reconcile: duplicate stored fact, keeping first", zap.String("key", k.String()))
			continue
		}
		existingByKey[k] = f
	}

	newByKey := make(map[model.FactKey]candidate, len(newFacts))
	var order []model.FactKey
	for _, f := range newFacts {
		k := f.Key()
		c := candidate{fact: f, priority: e.priority(f.SourceFile, f.Scenario)}
		prev, seen := newByKey[k]
		if !seen {
			newByKey[k] = c
			order = append(order, k)
			continue
		}
		if e.equal(prev.fact.Amount, c.fact.Amount) {
			continue
		}
		resolution := model.ResolutionKeptExisting
		if c.priority > prev.priority {
			resolution = model.ResolutionKeptNew
			newByKey[k] = c
		}
		res.Conflicts = append(res.Conflicts, conflictEntry(k, prev, c, resolution, ReasonDuplicateInBatch))
		res.Summary.Conflicts++
	}

	final := make([]model.LineItemFact, 0, len(existingByKey)+len(order))
	for k, f := range existingByKey {
		if _, touched := newByKey[k]; !touched {
			final = append(final, f)
		}
	}

	now := e.now()
	for _, k := range order {
		c := newByKey[k]
		expl := findExplanation(explanations, k)

		ex, ok := existingByKey[k]
		if !ok {
			final = append(final, e.insert(c, expl, now))
			res.Changes = append(res.Changes, model.ChangeEntry{
				LineItemID:  k.LineItemID,
				Period:      k.Period,
				Scenario:    k.Scenario,
				Kind:        model.ChangeInitialImport,
				NewValue:    c.fact.Amount,
				SourceFile:  c.fact.SourceFile,
				Explanation: expl,
			})
			res.Summary.Inserted++
			continue
		}

		exP := e.authority(ex)
		if e.equal(ex.Amount, c.fact.Amount) {
			if c.priority <= exP {
				final = append(final, ex)
				res.Summary.Ignored++
				continue
			}
			old := ex.Amount
			final = append(final, e.confirm(ex, c, expl, now))
			res.Changes = append(res.Changes, model.ChangeEntry{
				LineItemID:  k.LineItemID,
				Period:      k.Period,
				Scenario:    k.Scenario,
				Kind:        model.ChangeConfirmed,
				OldValue:    &old,
				NewValue:    ex.Amount,
				SourceFile:  c.fact.SourceFile,
				Explanation: expl,
			})
			res.Summary.Confirmed++
			continue
		}
		if e.alreadyRecorded(ex, c.fact) {
			final = append(final, ex)
			res.Summary.Ignored++
			continue
		}

		old := ex.Amount
		change := model.ChangeEntry{
			LineItemID:  k.LineItemID,
			Period:      k.Period,
			Scenario:    k.Scenario,
			OldValue:    &old,
			NewValue:    c.fact.Amount,
			SourceFile:  c.fact.SourceFile,
			Explanation: expl,
		}

		switch {
		case c.priority > exP:
			final = append(final, e.accept(ex, c, expl, now))
			change.Kind = model.ChangeUpdate
			res.Summary.Updated++
		case c.priority < exP:
			final = append(final, e.reject(ex, c, expl, now))
			change.Kind = model.ChangeRejected
			res.Summary.Rejected++
		default:
			final = append(final, e.accept(ex, c, expl, now))
			change.Kind = model.ChangeUpdate
			res.Summary.Updated++
			res.Conflicts = append(res.Conflicts,
				conflictEntry(k, candidate{fact: ex, priority: exP}, c, model.ResolutionKeptNew, ReasonEqualPriority))
			res.Summary.Conflicts++
		}
		res.Changes = append(res.Changes, change)
	}

	model.SortFacts(final)
	res.Final = final
	return res
}

func (e *Engine) insert(c candidate, expl string, now time.Time) model.LineItemFact {
	f := c.fact
	f.Changelog = nil
	f.Explanation = expl
	return f.WithChange(model.ChangeLogEntry{
		ID:          e.newID(),
		Kind:        model.ChangeInitialImport,
		Value:       f.Amount,
		SourceFile:  f.SourceFile,
		Priority:    c.priority,
		Explanation: expl,
		RecordedAt:  now,
	})
}

// accept returns the new value carrying the existing history.
func (e *Engine) accept(ex model.LineItemFact, c candidate, expl string, now time.Time) model.LineItemFact {
	old := ex.Amount
	f := c.fact
	f.Changelog = ex.Changelog
	f.Explanation = ex.Explanation
	if expl != "" {
		f.Explanation = expl
	}
	if f.SnippetURL == "" && sameLocation(ex, f) {
		f.SnippetURL = ex.SnippetURL
	}
	return f.WithChange(model.ChangeLogEntry{
		ID:            e.newID(),
		Kind:          model.ChangeUpdate,
		Value:         f.Amount,
		PreviousValue: &old,
		SourceFile:    f.SourceFile,
		Priority:      c.priority,
		Explanation:   expl,
		RecordedAt:    now,
	})
}

// reject keeps the existing value and records the losing one.
func (e *Engine) reject(ex model.LineItemFact, c candidate, expl string, now time.Time) model.LineItemFact {
	old := ex.Amount
	return ex.WithChange(model.ChangeLogEntry{
		ID:            e.newID(),
		Kind:          model.ChangeRejected,
		Value:         c.fact.Amount,
		PreviousValue: &old,
		SourceFile:    c.fact.SourceFile,
		Priority:      c.priority,
		Explanation:   expl,
		RecordedAt:    now,
	})
}

// confirm keeps the existing value and moves its provenance to the
// stronger source that reported it again.
func (e *Engine) confirm(ex model.LineItemFact, c candidate, expl string, now time.Time) model.LineItemFact {
	old := ex.Amount
	f := ex
	f.SourceFile = c.fact.SourceFile
	f.SourceLocation = c.fact.SourceLocation
	f.SnippetURL = c.fact.SnippetURL
	if expl != "" {
		f.Explanation = expl
	}
	return f.WithChange(model.ChangeLogEntry{
		ID:            e.newID(),
		Kind:          model.ChangeConfirmed,
		Value:         ex.Amount,
		PreviousValue: &old,
		SourceFile:    c.fact.SourceFile,
		Priority:      c.priority,
		Explanation:   expl,
		RecordedAt:    now,
	})
}

// authority is the strongest priority among the sources that reported the
// fact's current value: its initial import, accepted updates and
// confirmations. Priorities are recomputed from each entry's source file.
func (e *Engine) authority(ex model.LineItemFact) int {
	best := e.priority(ex.SourceFile, ex.Scenario)
	for _, entry := range ex.Changelog {
		switch entry.Kind {
		case model.ChangeInitialImport, model.ChangeUpdate, model.ChangeConfirmed:
		default:
			continue
		}
		if !e.equal(entry.Value, ex.Amount) {
			continue
		}
		if p := e.priority(entry.SourceFile, ex.Scenario); p > best {
			best = p
		}
	}
	return best
}

// alreadyRecorded reports whether the same source already contributed this
// value to the fact's history, so re-ingesting a superseded file is a no-op.
func (e *Engine) alreadyRecorded(ex, nf model.LineItemFact) bool {
	for _, entry := range ex.Changelog {
		if entry.SourceFile == nf.SourceFile && e.equal(entry.Value, nf.Amount) {
			return true
		}
	}
	return false
}

// Equal reports whether two amounts are equal within the relative tolerance.
func (e *Engine) Equal(a, b float64) bool {
	return e.equal(a, b)
}

func (e *Engine) equal(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= e.tolerance*scale
}

func sameLocation(a, b model.LineItemFact) bool {
	if a.SourceFile != b.SourceFile || a.SourceLocation == nil || b.SourceLocation == nil {
		return false
	}
	return a.SourceLocation.Key() == b.SourceLocation.Key()
}

func findExplanation(explanations []model.VarianceExplanation, k model.FactKey) string {
	for _, ve := range explanations {
		if ve.LineItem != k.LineItemID {
			continue
		}
		if ve.Period != "" && ve.Period != k.Period {
			continue
		}
		if ve.Scenario != "" {
			if s, ok := model.ParseScenario(ve.Scenario); ok && s != k.Scenario {
				continue
			}
		}
		return ve.Explanation
	}
	return ""
}

func conflictEntry(k model.FactKey, existing, incoming candidate, resolution, reason string) model.ConflictEntry {
	return model.ConflictEntry{
		LineItemID:       k.LineItemID,
		Period:           k.Period,
		Scenario:         k.Scenario,
		ExistingValue:    existing.fact.Amount,
		NewValue:         incoming.fact.Amount,
		ExistingSource:   existing.fact.SourceFile,
		NewSource:        incoming.fact.SourceFile,
		ExistingPriority: existing.priority,
		NewPriority:      incoming.priority,
		Resolution:       resolution,
		Reason:           reason,
	}
}
