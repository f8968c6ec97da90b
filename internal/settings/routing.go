package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/user/dram/internal/modelid"
	"github.com/user/dram/internal/routing"
	"github.com/user/dram/internal/state"
)

const (
	KeyPrimaryModel   = "routing.primary_model"
	KeyFallbackChain  = "routing.fallback_chain"
	KeyLegacyFallback = "routing.legacy_fallback"
	KeyManualRouting  = "routing.manual_routing"
	KeyManualTarget   = "routing.manual_target"
)

// Routing is the persisted subset of the routing state.
type Routing struct {
	PrimaryModel   string   `json:"primary_model"`
	FallbackChain  []string `json:"fallback_chain"`
	LegacyFallback string   `json:"legacy_fallback,omitempty"`
	ManualRouting  bool     `json:"manual_routing"`
	ManualTarget   string   `json:"manual_target,omitempty"`
}

// LoadRouting reads routing preferences. Missing keys leave zero values.
func LoadRouting(ctx context.Context, kv KV) (Routing, error) {
	var r Routing
	var err error

	if r.PrimaryModel, err = getString(ctx, kv, KeyPrimaryModel); err != nil {
		return r, err
	}
	if r.LegacyFallback, err = getString(ctx, kv, KeyLegacyFallback); err != nil {
		return r, err
	}
	if r.ManualTarget, err = getString(ctx, kv, KeyManualTarget); err != nil {
		return r, err
	}

	chain, err := getString(ctx, kv, KeyFallbackChain)
	if err != nil {
		return r, err
	}
	if chain != "" {
		if err := json.Unmarshal([]byte(chain), &r.FallbackChain); err != nil {
			return r, fmt.Errorf("decode %s: %w", KeyFallbackChain, err)
		}
	}

	manual, err := getString(ctx, kv, KeyManualRouting)
	if err != nil {
		return r, err
	}
	if manual != "" {
		if r.ManualRouting, err = strconv.ParseBool(manual); err != nil {
			return r, fmt.Errorf("decode %s: %w", KeyManualRouting, err)
		}
	}
	return r, nil
}

func getString(ctx context.Context, kv KV, key string) (string, error) {
	v, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SaveRouting writes every routing preference.
func SaveRouting(ctx context.Context, kv KV, r Routing) error {
	chain := r.FallbackChain
	if chain == nil {
		chain = []string{}
	}
	encoded, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyFallbackChain, err)
	}

	values := []struct{ key, value string }{
		{KeyPrimaryModel, modelid.Normalize(r.PrimaryModel)},
		{KeyFallbackChain, string(encoded)},
		{KeyLegacyFallback, modelid.Normalize(r.LegacyFallback)},
		{KeyManualRouting, strconv.FormatBool(r.ManualRouting)},
		{KeyManualTarget, modelid.Normalize(r.ManualTarget)},
	}
	for _, v := range values {
		if err := kv.Set(ctx, v.key, v.value); err != nil {
			return err
		}
	}
	return nil
}

// Capture extracts the persisted subset from a routing state.
func Capture(rs state.RoutingState, manualRouting bool) Routing {
	r := Routing{
		PrimaryModel:   rs.Primary.ID,
		FallbackChain:  append([]string(nil), rs.FallbackChain...),
		LegacyFallback: rs.LegacyFallback,
		ManualRouting:  manualRouting,
	}
	if rs.Mode == state.RoutingManual {
		r.ManualTarget = rs.ManualTarget
	}
	return r
}

// Apply pushes persisted preferences into the reconciler. The stored manual pin is
// restored only while manual routing is enabled.
func Apply(r Routing, rec *routing.Reconciler) {
	rec.ManualRoutingEnabled = r.ManualRouting
	if r.PrimaryModel != "" {
		rec.SetPrimaryModel(r.PrimaryModel)
	}
	rec.SetLegacyFallback(r.LegacyFallback)
	rec.SetFallbackChain(r.FallbackChain)
	if r.ManualRouting && r.ManualTarget != "" {
		rec.SetManualModelSelection(r.ManualTarget)
	}
}
