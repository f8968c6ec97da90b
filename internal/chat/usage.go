package chat

import (
	"math"

	"github.com/user/dram/internal/modelid"
	"github.com/user/dram/internal/ratelimit"
)

var (
	inputTokenKeys  = []string{"input", "inputTokens", "input_tokens", "promptTokens", "prompt_tokens"}
	outputTokenKeys = []string{"output", "outputTokens", "output_tokens", "completionTokens", "completion_tokens"}
	costKeys        = []string{"cost", "costUsd", "cost_usd", "totalCost", "total_cost"}
)

type usageReport struct {
	model     string
	provider  string
	input     int
	hasInput  bool
	output    int
	hasOutput bool
	cost      float64
	hasCost   bool
}

func parseUsage(u map[string]any) usageReport {
	var rep usageReport
	rep.model = stringField(u, "model", "modelId")
	rep.provider = stringField(u, "provider")
	rep.input, rep.hasInput = tokenCount(u, inputTokenKeys)
	rep.output, rep.hasOutput = tokenCount(u, outputTokenKeys)

	for _, key := range costKeys {
		v, ok := u[key]
		if !ok || v == nil {
			continue
		}
		if obj, isObj := v.(map[string]any); isObj {
			v = obj["total"]
		}
		if f, ok := ratelimit.Number(v); ok && f >= 0 {
			rep.cost, rep.hasCost = f, true
		}
		break
	}
	return rep
}

func tokenCount(u map[string]any, keys []string) (int, bool) {
	for _, key := range keys {
		v, ok := u[key]
		if !ok || v == nil {
			continue
		}
		f, ok := ratelimit.Number(v)
		if !ok || f < 0 {
			return 0, false
		}
		if f > math.MaxInt32 {
			f = math.MaxInt32
		}
		return int(f), true
	}
	return 0, false
}

func providerOf(model string) string {
	if p := modelid.Provider(model); p != "" {
		return p
	}
	return "unknown"
}

// empty reports whether the block carried no token or cost figures at all.
func (u usageReport) empty() bool {
	return !u.hasInput && !u.hasOutput && !u.hasCost
}
