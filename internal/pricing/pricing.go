// Package pricing estimates request cost when the backend does not report one.
package pricing

import (
	"cmp"
	"maps"
	"slices"
	"strings"
)

// Rate holds per-million-token prices in USD.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// FallbackRate prices models no table key matches.
var FallbackRate = Rate{InputPerMTok: 3.00, OutputPerMTok: 15.00}

// DefaultRates maps model name fragments to their pricing. Lookup matches the longest
// fragment contained in the model id, so "claude-3-5-haiku" beats "claude-3".
var DefaultRates = map[string]Rate{
	"claude-opus-4-6":   {InputPerMTok: 5.00, OutputPerMTok: 25.00},
	"claude-opus-4-5":   {InputPerMTok: 5.00, OutputPerMTok: 25.00},
	"claude-opus-4":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-4-5":  {InputPerMTok: 1.00, OutputPerMTok: 5.00},
	"claude-3-7-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-opus":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"claude-3":          {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4.1-nano":      {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"gpt-4.1":           {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"o4-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"o3-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"gemini-2.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gemini-2.5-flash":  {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.0-flash":  {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// Table is an immutable price list.
type Table struct {
	rates    map[string]Rate
	keys     []string
	fallback Rate
}

// New builds a table from rates. Keys are matched case-insensitively.
func New(rates map[string]Rate, fallback Rate) *Table {
	t := &Table{rates: make(map[string]Rate, len(rates)), fallback: fallback}
	for k, r := range rates {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		t.rates[k] = r
	}
	t.keys = slices.SortedFunc(maps.Keys(t.rates), func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return t
}

// Default returns the built-in table.
func Default() *Table {
	return New(DefaultRates, FallbackRate)
}

// Lookup returns the rate of the longest table key contained in model. The second
// result is false when the fallback rate was used.
func (t *Table) Lookup(model string) (Rate, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m != "" {
		for _, k := range t.keys {
			if strings.Contains(m, k) {
				return t.rates[k], true
			}
		}
	}
	return t.fallback, false
}

// Cost returns the USD cost of one request.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	r, _ := t.Lookup(model)
	return float64(inputTokens)*r.InputPerMTok/1_000_000 + float64(outputTokens)*r.OutputPerMTok/1_000_000
}

// Fallback returns the rate used for unknown models.
func (t *Table) Fallback() Rate {
	return t.fallback
}

// Models lists the table keys in lookup order.
func (t *Table) Models() []string {
	return slices.Clone(t.keys)
}
