// Package routing decides which model serves the next turn. It folds backend metadata
// snapshots into the store's model entries and picks the active model from the primary,
// the fallback chain and an optional manual pin.
package routing

import (
	"log/slog"
	"strings"

	"github.com/user/dram/internal/modelid"
	"github.com/user/dram/internal/ratelimit"
	"github.com/user/dram/internal/state"
)

// Reason explains why a model was chosen.
type Reason string

const (
	ReasonExplicit    Reason = "explicit"
	ReasonManual      Reason = "manual"
	ReasonContinuity  Reason = "continuity"
	ReasonPrimary     Reason = "primary"
	ReasonFallback    Reason = "fallback"
	ReasonUnavailable Reason = "unavailable"
)

// Decision is the outcome of one reconciliation.
type Decision struct {
	ActiveID   string
	PreviousID string
	Reason     Reason
	Limit      int
	ResetAt    *int64
	// UsingFallback is true when the active model is not the primary.
	UsingFallback bool
}

// Switched reports whether the active model changed.
func (d Decision) Switched() bool {
	return d.ActiveID != d.PreviousID
}

// Reconciler owns the routing half of the store.
type Reconciler struct {
	store  *state.Store
	logger *slog.Logger

	// ManualRoutingEnabled gates manual pinning entirely. When false the manual entry
	// points are no-ops and a stored pin is ignored.
	ManualRoutingEnabled bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for routing changes.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithManualRouting enables or disables manual pinning.
func WithManualRouting(enabled bool) Option {
	return func(r *Reconciler) { r.ManualRoutingEnabled = enabled }
}

// New creates a reconciler over store.
func New(store *state.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds a metadata snapshot into the routing state and recomputes the active
// model. Repeating the same snapshot leaves the state unchanged.
func (r *Reconciler) Apply(snap Snapshot) Decision {
	var d Decision
	r.store.MutateRouting(func(rs *state.RoutingState) {
		d = r.apply(rs, snap)
	})
	if d.Switched() {
		r.logger.Info("active model changed", "from", d.PreviousID, "to", d.ActiveID, "reason", d.Reason)
	} else {
		r.logger.Debug("routing reconciled", "active", d.ActiveID, "reason", d.Reason, "limit", d.Limit)
	}
	return d
}

func (r *Reconciler) apply(rs *state.RoutingState, snap Snapshot) Decision {
	c := canonicalizer{rs: rs, snap: snap}
	previous := c.canonical(rs.CurrentActiveModelID)

	// Primary.
	if rs.Primary.ID != "" {
		refresh(rs, rs.Primary.ID, snap)
	}

	// Fallback chain: canonical, primary excluded, deduplicated, order kept.
	chain := make([]string, 0, len(rs.FallbackChain))
	for _, raw := range rs.FallbackChain {
		id := c.canonical(raw)
		if id == "" || modelid.Equivalent(id, rs.Primary.ID) || modelid.Contains(chain, id) {
			continue
		}
		chain = append(chain, id)
		ensure(rs, id)
		refresh(rs, id, snap)
	}
	rs.FallbackChain = chain

	// Legacy single fallback slot.
	if legacy := c.canonical(rs.LegacyFallback); legacy != "" {
		rs.LegacyFallback = legacy
		if !modelid.Equivalent(legacy, rs.Primary.ID) && !modelid.Contains(chain, legacy) {
			ensure(rs, legacy)
			refresh(rs, legacy, snap)
		}
	}

	next, reason := r.choose(rs, &c, snap, previous)
	if next != "" {
		ensure(rs, next)
		refresh(rs, next, snap)
	}

	markActive(rs, next)

	if snap.Usage != nil && next != "" && usageMatches(snap.Usage, next) {
		e, _ := rs.Entry(next)
		e.Status = ratelimit.MergeUsage(e.Status, snap.Usage)
		if name, ok := snap.Usage["name"].(string); ok && strings.TrimSpace(name) != "" {
			e.Name = strings.TrimSpace(name)
		}
		rs.PutEntry(e)
	}

	publish(rs, next)

	return Decision{
		ActiveID:      next,
		PreviousID:    previous,
		Reason:        reason,
		Limit:         rs.CurrentLimit,
		ResetAt:       rs.CurrentResetAt,
		UsingFallback: rs.UsingFallback(),
	}
}

func (r *Reconciler) choose(rs *state.RoutingState, c *canonicalizer, snap Snapshot, previous string) (string, Reason) {
	if explicit := c.canonical(snap.Model); explicit != "" {
		return explicit, ReasonExplicit
	}

	if r.ManualRoutingEnabled && rs.Mode == state.RoutingManual && rs.ManualTarget != "" {
		if pinned := modelid.FindMatch(selectable(rs), rs.ManualTarget); pinned != "" {
			return pinned, ReasonManual
		}
	}

	primaryUp := rs.Primary.ID != "" && rs.Primary.Available()

	if !primaryUp && modelid.Contains(rs.FallbackChain, previous) {
		if e, ok := rs.Entry(previous); ok && e.Available() {
			return previous, ReasonContinuity
		}
	}

	if primaryUp {
		return rs.Primary.ID, ReasonPrimary
	}

	for _, id := range rs.FallbackChain {
		if e, ok := rs.Entry(id); ok && e.Available() {
			return id, ReasonFallback
		}
	}

	if previous == "" {
		return rs.Primary.ID, ReasonUnavailable
	}
	return previous, ReasonUnavailable
}

// SetManualModelSelection pins id as the active model. It fails without touching state
// when manual routing is disabled or id is not the primary, a chain member or the legacy
// fallback.
func (r *Reconciler) SetManualModelSelection(id string) bool {
	if !r.ManualRoutingEnabled {
		return false
	}
	var pinned string
	r.store.MutateRouting(func(rs *state.RoutingState) {
		pinned = modelid.FindMatch(selectable(rs), id)
		if pinned == "" {
			return
		}
		rs.Mode = state.RoutingManual
		rs.ManualTarget = pinned
		ensure(rs, pinned)
		markActive(rs, pinned)
		publish(rs, pinned)
	})
	if pinned == "" {
		r.logger.Warn("manual model selection rejected", "model", id)
		return false
	}
	r.logger.Info("manual model selected", "model", pinned)
	return true
}

// ClearManualModelSelection returns routing to automatic mode. The next Apply re-derives
// the active model.
func (r *Reconciler) ClearManualModelSelection() {
	if !r.ManualRoutingEnabled {
		return
	}
	r.store.MutateRouting(func(rs *state.RoutingState) {
		rs.Mode = state.RoutingAuto
		rs.ManualTarget = ""
	})
}

// Selectable returns the ids a manual selection may name: primary, chain, legacy.
func (r *Reconciler) Selectable() []string {
	rs := r.store.Routing()
	return selectable(&rs)
}

// SetPrimaryModel replaces the primary model. An entry already tracked for the new id
// moves into the primary slot; the old primary is kept as an entry only if the chain
// still references it.
func (r *Reconciler) SetPrimaryModel(id string) {
	id = modelid.Normalize(id)
	r.store.MutateRouting(func(rs *state.RoutingState) {
		old := rs.Primary
		if old.ID == id {
			return
		}

		next := state.NewModelEntry(id)
		if match := modelid.FindMatch(rs.EntryIDs(), id); match != "" {
			next = rs.Entries[match]
			delete(rs.Entries, match)
			next.ID = id
		}
		rs.Primary = next

		if old.ID != "" && (modelid.Contains(rs.FallbackChain, old.ID) || modelid.Equivalent(old.ID, rs.LegacyFallback)) {
			rs.PutEntry(old)
		}
		rs.FallbackChain = withoutEquivalent(rs.FallbackChain, id)
		if rs.CurrentActiveModelID == old.ID || rs.CurrentActiveModelID == "" {
			rs.CurrentActiveModelID = id
		}
		markActive(rs, rs.CurrentActiveModelID)
		publish(rs, rs.CurrentActiveModelID)
	})
	r.logger.Info("primary model set", "model", id)
}

// SetFallbackChain replaces the fallback chain. Entries no longer referenced by the
// primary, the chain, the legacy slot, the manual pin or the active model are pruned.
func (r *Reconciler) SetFallbackChain(ids []string) {
	r.store.MutateRouting(func(rs *state.RoutingState) {
		chain := withoutEquivalent(modelid.Dedupe(ids), rs.Primary.ID)
		rs.FallbackChain = chain
		for _, id := range chain {
			ensure(rs, id)
		}
		keep := append([]string{rs.LegacyFallback, rs.ManualTarget, rs.CurrentActiveModelID}, chain...)
		for _, id := range rs.EntryIDs() {
			if !modelid.Contains(keep, id) {
				delete(rs.Entries, id)
			}
		}
	})
	r.logger.Info("fallback chain set", "chain", ids)
}

// SetLegacyFallback sets the single legacy fallback slot.
func (r *Reconciler) SetLegacyFallback(id string) {
	r.store.MutateRouting(func(rs *state.RoutingState) {
		rs.LegacyFallback = modelid.Normalize(id)
		if rs.LegacyFallback != "" {
			ensure(rs, rs.LegacyFallback)
		}
	})
}

// canonicalizer resolves raw ids against the primary, the snapshot's model keys and the
// known entries, in that order.
type canonicalizer struct {
	rs   *state.RoutingState
	snap Snapshot
}

func (c *canonicalizer) canonical(raw string) string {
	id := modelid.Normalize(raw)
	if id == "" {
		return ""
	}
	if modelid.Equivalent(id, c.rs.Primary.ID) {
		return c.rs.Primary.ID
	}
	if m := modelid.FindMatch(c.snap.ModelOrder, id); m != "" {
		return m
	}
	if m := modelid.FindMatch(c.rs.EntryIDs(), id); m != "" {
		return m
	}
	return id
}

func selectable(rs *state.RoutingState) []string {
	ids := make([]string, 0, len(rs.FallbackChain)+2)
	if rs.Primary.ID != "" {
		ids = append(ids, rs.Primary.ID)
	}
	ids = append(ids, rs.FallbackChain...)
	if rs.LegacyFallback != "" {
		ids = append(ids, rs.LegacyFallback)
	}
	return modelid.Dedupe(ids)
}

// ensure creates a default entry for id unless one exists. An entry stored under an
// equivalent older id is renamed so its accumulated status carries over.
func ensure(rs *state.RoutingState, id string) {
	if id == "" {
		return
	}
	if _, ok := rs.Entry(id); ok {
		return
	}
	if old := modelid.FindMatch(rs.EntryIDs(), id); old != "" {
		e := rs.Entries[old]
		delete(rs.Entries, old)
		e.ID = id
		if e.Name == old {
			e.Name = id
		}
		rs.PutEntry(e)
		return
	}
	rs.PutEntry(state.NewModelEntry(id))
}

// refresh replaces the entry's status with the snapshot's, if the snapshot has one.
func refresh(rs *state.RoutingState, id string, snap Snapshot) {
	key := modelid.FindMatch(snap.ModelOrder, id)
	raw, ok := snap.status(key)
	if !ok {
		return
	}
	e, found := rs.Entry(id)
	if !found {
		e = state.NewModelEntry(id)
	}
	e.Status = ratelimit.NormalizeStatus(raw)
	if name, ok := raw["name"].(string); ok && strings.TrimSpace(name) != "" {
		e.Name = strings.TrimSpace(name)
	}
	rs.PutEntry(e)
}

func markActive(rs *state.RoutingState, id string) {
	rs.Primary.Active = id != "" && rs.Primary.ID == id
	for key, e := range rs.Entries {
		e.Active = id != "" && key == id
		rs.Entries[key] = e
	}
}

func publish(rs *state.RoutingState, id string) {
	rs.CurrentActiveModelID = id
	e, ok := rs.Entry(id)
	if !ok {
		rs.CurrentLimit = ratelimit.DefaultLimit
		rs.CurrentResetAt = nil
		return
	}
	rs.CurrentLimit = e.Limit
	rs.CurrentResetAt = nil
	if e.ResetAt != nil {
		v := *e.ResetAt
		rs.CurrentResetAt = &v
	}
}

// usageMatches reports whether a usage block describes id. A block naming no model is
// taken to describe the active one.
func usageMatches(usage map[string]any, id string) bool {
	model, ok := usage["model"].(string)
	if !ok || strings.TrimSpace(model) == "" {
		return true
	}
	return modelid.Equivalent(model, id)
}

func withoutEquivalent(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if target != "" && modelid.Equivalent(id, target) {
			continue
		}
		out = append(out, id)
	}
	return out
}
