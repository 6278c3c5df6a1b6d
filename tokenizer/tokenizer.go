// Package tokenizer counts tokens for budget decisions. It wraps the
// tiktoken BPE encoder and degrades to a length-based estimate when the
// encoding cannot be initialized (for example with no network access to
// fetch the BPE ranks).
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding is a reasonable cross-model default for budgeting.
const defaultEncoding = "cl100k_base"

// Tokenizer counts tokens using a tiktoken encoding. The zero value and a
// nil Tokenizer are usable; both fall back to Estimate.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New returns a tokenizer backed by the default encoding.
func New() (*Tokenizer, error) {
	return NewWithEncoding(defaultEncoding)
}

// NewWithEncoding returns a tokenizer backed by the named tiktoken
// encoding.
func NewWithEncoding(name string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer %q: %w", name, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// NewForModel returns a tokenizer matching an OpenAI-style model name.
func NewForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer for model %q: %w", model, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count for text. A nil or uninitialized
// tokenizer returns the estimate instead.
func (t *Tokenizer) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimate returns a cheap length-based token count: one token per four
// bytes, never less than 1. It matches the estimate embedded in session
// segments when no tokenizer is available.
func Estimate(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
