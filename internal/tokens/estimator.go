// Package tokens estimates token counts for usage reports that omit them.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/dram/internal/modelid"
	"github.com/user/dram/internal/types"
)

var _ types.TokenCounter = (*Estimator)(nil)

// Estimator counts tokens with a tiktoken encoding.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// New returns an estimator for model. Unknown models, including every non-OpenAI
// model, use cl100k_base.
func New(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(modelid.Suffix(model))
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{tokenizer: enc}, nil
}

// Count returns the token length of text. A nil estimator falls back to four
// characters per token.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}
