package pricing

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"strings"

	"github.com/BurntSushi/toml"
)

// Overrides is the on-disk pricing.toml format:
//
//	[fallback]
//	input_per_mtok = 2.0
//
//	[overrides."claude-sonnet-4"]
//	input_per_mtok = 2.5
//	output_per_mtok = 12.0
type Overrides struct {
	Fallback  *RateOverride           `toml:"fallback,omitempty"`
	Overrides map[string]RateOverride `toml:"overrides,omitempty"`
}

// RateOverride replaces the fields that are set.
type RateOverride struct {
	InputPerMTok  *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok *float64 `toml:"output_per_mtok,omitempty"`
}

func (o RateOverride) apply(r Rate) Rate {
	if o.InputPerMTok != nil {
		r.InputPerMTok = *o.InputPerMTok
	}
	if o.OutputPerMTok != nil {
		r.OutputPerMTok = *o.OutputPerMTok
	}
	return r
}

// LoadOverrides reads a pricing TOML file. A missing file yields empty overrides.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if _, err := toml.DecodeFile(path, &o); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("parse pricing overrides: %w", err)
	}
	return o, nil
}

// WithOverrides returns a copy of t with o applied. Overrides for unknown keys add new
// entries, priced from the fallback rate for any unset field.
func (t *Table) WithOverrides(o Overrides) *Table {
	rates := maps.Clone(t.rates)
	fallback := t.fallback
	if o.Fallback != nil {
		fallback = o.Fallback.apply(fallback)
	}
	for model, ov := range o.Overrides {
		model = strings.ToLower(strings.TrimSpace(model))
		base, ok := rates[model]
		if !ok {
			base = fallback
		}
		rates[model] = ov.apply(base)
	}
	return New(rates, fallback)
}

// Load returns the default table with the overrides at path applied.
func Load(path string) (*Table, error) {
	o, err := LoadOverrides(path)
	if err != nil {
		return nil, err
	}
	return Default().WithOverrides(o), nil
}
