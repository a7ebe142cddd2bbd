package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens estimates the number of tokens in text using the cl100k_base
// encoding. When the encoding cannot be loaded it falls back to the common
// four-characters-per-token heuristic so budget math keeps working offline.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return (len(text) + 3) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}
