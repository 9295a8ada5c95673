package ingestion_engine

import (
	"strings"

	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
)

const (
	pageBoundaryMarker = "\n\n--- PAGE BOUNDARY ---\n\n"
	maxStitchEdge      = 200
	minStitchTokens    = 100
)

type stitch struct {
	PageStart int
	PageEnd   int
	Text      string
}

// stitchPages builds one chunk per adjacent page pair from the tail of the
// first page and the head of the next, so text broken by a physical page
// break is retrievable as a whole.
func stitchPages(tok tokenizer.Tokenizer, cfg ChunkerConfig, pages []filteredPage) []stitch {
	edge := min(maxStitchEdge, cfg.TargetTokens/4)
	if edge <= 0 {
		return nil
	}
	var out []stitch
	for i := 0; i+1 < len(pages); i++ {
		cur := strings.TrimSpace(pages[i].Text)
		next := strings.TrimSpace(pages[i+1].Text)
		if cur == "" || next == "" {
			continue
		}

		tail := cur
		if tok.Count(cur) > edge {
			tail = trimLeadingPartialWord(tokenizer.Tail(tok, cur, edge))
		}
		head := next
		if tok.Count(next) > edge {
			head = trimTrailingPartialWord(tokenizer.Head(tok, next, edge))
		}

		text := tail + pageBoundaryMarker + head
		n := tok.Count(text)
		if n < minStitchTokens || n > cfg.limit() {
			continue
		}
		out = append(out, stitch{PageStart: pages[i].Index, PageEnd: pages[i+1].Index, Text: text})
	}
	return out
}

func trimLeadingPartialWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	return s
}

func trimTrailingPartialWord(s string) string {
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
