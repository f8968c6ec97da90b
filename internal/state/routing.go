// internal/state/routing.go
package state

import (
	"maps"
	"slices"

	"github.com/user/dram/internal/ratelimit"
)

// RoutingMode selects whether the reconciler may honor a manually pinned model.
type RoutingMode string

const (
	RoutingAuto   RoutingMode = "auto"
	RoutingManual RoutingMode = "manual"
)

// ModelEntry is the tracked status of one routable model.
type ModelEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ratelimit.Status
	Active bool `json:"active"`
}

// NewModelEntry returns an entry for id with the default status.
func NewModelEntry(id string) ModelEntry {
	return ModelEntry{ID: id, Name: id, Status: ratelimit.Default()}
}

// RoutingState is the session-independent half of the store.
type RoutingState struct {
	Primary ModelEntry `json:"primary"`
	// Entries holds every non-primary model keyed by its canonical id.
	Entries        map[string]ModelEntry `json:"entries"`
	FallbackChain  []string              `json:"fallback_chain"`
	LegacyFallback string                `json:"legacy_fallback,omitempty"`

	Mode         RoutingMode `json:"mode"`
	ManualTarget string      `json:"manual_target,omitempty"`

	CurrentActiveModelID string `json:"current_active_model_id"`
	CurrentLimit         int    `json:"current_limit"`
	CurrentResetAt       *int64 `json:"current_reset_at,omitempty"`
}

func newRoutingState() RoutingState {
	return RoutingState{
		Primary:      NewModelEntry(""),
		Entries:      make(map[string]ModelEntry),
		Mode:         RoutingAuto,
		CurrentLimit: ratelimit.DefaultLimit,
	}
}

// Clone returns a deep copy of the routing state.
func (r *RoutingState) Clone() RoutingState {
	c := *r
	c.Entries = make(map[string]ModelEntry, len(r.Entries))
	for id, e := range r.Entries {
		c.Entries[id] = cloneEntry(e)
	}
	c.Primary = cloneEntry(r.Primary)
	c.FallbackChain = slices.Clone(r.FallbackChain)
	if r.CurrentResetAt != nil {
		v := *r.CurrentResetAt
		c.CurrentResetAt = &v
	}
	return c
}

// Entry returns the entry for id, looking at the primary first.
func (r *RoutingState) Entry(id string) (ModelEntry, bool) {
	if id != "" && r.Primary.ID == id {
		return r.Primary, true
	}
	e, ok := r.Entries[id]
	return e, ok
}

// PutEntry stores e, routing writes for the primary id to the primary slot.
func (r *RoutingState) PutEntry(e ModelEntry) {
	if e.ID != "" && e.ID == r.Primary.ID {
		r.Primary = e
		return
	}
	if r.Entries == nil {
		r.Entries = make(map[string]ModelEntry)
	}
	r.Entries[e.ID] = e
}

// EntryIDs lists the dynamic entry ids in sorted order.
func (r *RoutingState) EntryIDs() []string {
	return slices.Sorted(maps.Keys(r.Entries))
}

// ActiveEntry returns the entry currently marked active.
func (r *RoutingState) ActiveEntry() (ModelEntry, bool) {
	return r.Entry(r.CurrentActiveModelID)
}

func cloneEntry(e ModelEntry) ModelEntry {
	if e.ResetAt != nil {
		v := *e.ResetAt
		e.ResetAt = &v
	}
	return e
}

// UsingFallback reports whether the active model is something other than the primary.
func (r *RoutingState) UsingFallback() bool {
	return r.CurrentActiveModelID != "" && r.CurrentActiveModelID != r.Primary.ID
}
