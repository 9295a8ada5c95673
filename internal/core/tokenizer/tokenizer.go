// Package tokenizer budgets text sizes for chunking. Counts must follow the
// embedding provider's tokenization so chunk sizes are measured the way the
// provider will measure them.
package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Tokenizer is a deterministic text to token function. Pieces returns the
// token boundaries as substrings whose concatenation is the original text.
type Tokenizer interface {
	Count(text string) int
	Pieces(text string) []string
}

// Tiktoken counts with an OpenAI BPE encoding.
type Tiktoken struct {
	encodingName string
	tke          *tiktoken.Tiktoken
	mu           sync.RWMutex
}

var _ Tokenizer = (*Tiktoken)(nil)

// NewTiktoken loads the named encoding, or a model's encoding when the
// name is a model, falling back to cl100k_base.
func NewTiktoken(encodingOrModel string) (*Tiktoken, error) {
	if encodingOrModel == "" {
		encodingOrModel = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encodingOrModel)
	name := encodingOrModel
	if err != nil {
		tke, err = tiktoken.EncodingForModel(encodingOrModel)
		if err != nil {
			tke, err = tiktoken.GetEncoding(DefaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("load encoding %s: %w", DefaultEncoding, err)
			}
			name = DefaultEncoding
		}
	}
	return &Tiktoken{encodingName: name, tke: tke}, nil
}

func (t *Tiktoken) Encoding() string { return t.encodingName }

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tke.Encode(text, nil, nil))
}

// Pieces decodes every token on its own. A piece may hold part of a
// multi-byte rune; concatenating adjacent pieces restores it.
func (t *Tiktoken) Pieces(text string) []string {
	if text == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.tke.Encode(text, nil, nil)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.tke.Decode([]int{id})
	}
	return out
}

// Words treats every whitespace-separated word, with its leading
// whitespace, as one token. It needs no vocabulary download and is
// additive over concatenation, which keeps tests exact.
type Words struct{}

var _ Tokenizer = Words{}

var wordPiece = regexp.MustCompile(`\s*\S+`)

func (Words) Count(text string) int {
	return len(wordPiece.FindAllStringIndex(text, -1))
}

func (Words) Pieces(text string) []string {
	return wordPiece.FindAllString(text, -1)
}

// Head returns roughly the first n tokens of text.
func Head(tok Tokenizer, text string, n int) string {
	if n <= 0 {
		return ""
	}
	pieces := tok.Pieces(text)
	if len(pieces) <= n {
		return strings.TrimSpace(text)
	}
	return fit(tok, pieces[:n], n, false)
}

// Tail returns roughly the last n tokens of text.
func Tail(tok Tokenizer, text string, n int) string {
	if n <= 0 {
		return ""
	}
	pieces := tok.Pieces(text)
	if len(pieces) <= n {
		return strings.TrimSpace(text)
	}
	return fit(tok, pieces[len(pieces)-n:], n, true)
}

// Windows cuts text into consecutive windows of at most size tokens,
// advancing by step tokens. Every window re-counts to at most size.
func Windows(tok Tokenizer, text string, size, step int) []string {
	if size <= 0 {
		return nil
	}
	if step <= 0 || step > size {
		step = size
	}
	pieces := tok.Pieces(text)
	var out []string
	for start := 0; start < len(pieces); start += step {
		end := min(start+size, len(pieces))
		if w := fit(tok, pieces[start:end], size, false); w != "" {
			out = append(out, w)
		}
		if end == len(pieces) {
			break
		}
	}
	return out
}

// fit joins pieces and drops pieces from the far edge until the re-counted
// text fits the limit. Re-encoding a substring can merge differently than
// the original sequence did, so the count is verified.
func fit(tok Tokenizer, pieces []string, limit int, keepEnd bool) string {
	for len(pieces) > 0 {
		s := clean(strings.Join(pieces, ""))
		if tok.Count(s) <= limit {
			return s
		}
		if keepEnd {
			pieces = pieces[1:]
		} else {
			pieces = pieces[:len(pieces)-1]
		}
	}
	return ""
}

func clean(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, ""))
}
