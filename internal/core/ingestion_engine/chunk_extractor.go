package ingestion_engine

import (
	"strings"

	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/models"
)

// overlapFillRatio is the fill below which a partial paragraph tail is
// added to the overlap seed.
const overlapFillRatio = 0.7

const truncationMarker = "..."

type pageChunk struct {
	Text string
	Kind models.ChunkKind
}

// oversizeFunc splits a unit larger than the target. carry holds the units
// of the previously emitted chunk, last the units of the final chunk it emits.
type oversizeFunc func(unit string, carry []string) (chunks []pageChunk, last []string, err error)

// packer groups units (paragraphs or sentences) into token-bounded chunks,
// seeding every new chunk with a tail of the previous one.
type packer struct {
	tok      tokenizer.Tokenizer
	cfg      ChunkerConfig
	sep      string
	kind     models.ChunkKind
	oversize oversizeFunc
}

func (p *packer) join(units []string) string {
	return strings.Join(units, p.sep)
}

func (p *packer) count(units []string) int {
	return p.tok.Count(p.join(units))
}

func (p *packer) pack(units []string, carry []string) (out []pageChunk, last []string, err error) {
	var (
		buf   []string
		fresh bool // buf holds at least one unit beyond the overlap seed
	)

	// flush emits the current buffer as a chunk and remembers its units as
	// the source of the next overlap seed.
	flush := func() {
		if fresh {
			out = append(out, pageChunk{Text: p.join(buf), Kind: p.kind})
			last = buf
			carry = buf
		}
		buf, fresh = nil, false
	}

	for _, u := range units {
		if p.tok.Count(u) > p.cfg.TargetTokens {
			flush()
			parts, tail, err := p.oversize(u, carry)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, parts...)
			if len(parts) > 0 {
				last, carry = tail, tail
			}
			continue
		}

		if fresh {
			grown := p.count(append(buf[:len(buf):len(buf)], u))
			if grown <= p.cfg.TargetTokens {
				buf = append(buf, u)
				continue
			}
			// tolerated overflow while the chunk is still too small to stand alone
			if p.count(buf) < p.cfg.MinChunkTokens && grown <= p.cfg.limit() {
				buf = append(buf, u)
				continue
			}
			flush()
		}

		buf = append(p.seedFor(carry, u), u)
		fresh = true
		carry = nil
	}
	flush()
	return out, last, nil
}

// seedFor returns the overlap tail of carry, shrunk until seed plus next fits the cap.
func (p *packer) seedFor(carry []string, next string) []string {
	if p.cfg.OverlapTokens <= 0 || len(carry) == 0 {
		return nil
	}
	budget := p.cfg.OverlapTokens
	for budget > 0 {
		seed := overlapTail(p.tok, carry, budget)
		if len(seed) == 0 {
			return nil
		}
		n := p.count(append(seed[:len(seed):len(seed)], next))
		if n <= p.cfg.limit() {
			return seed
		}
		budget -= max(1, n-p.cfg.limit())
	}
	return nil
}

// overlapTail walks backward through units, keeping whole units while they
// fit the budget. If the kept units fill less than overlapFillRatio of the
// budget, the tail of the next unit is added behind a truncation marker.
func overlapTail(tok tokenizer.Tokenizer, units []string, budget int) []string {
	var (
		kept  []string
		total int
	)
	for i := len(units) - 1; i >= 0; i-- {
		n := tok.Count(units[i])
		if total+n <= budget {
			kept = append([]string{units[i]}, kept...)
			total += n
			continue
		}
		if float64(total) < float64(budget)*overlapFillRatio {
			if tail := tokenizer.Tail(tok, units[i], budget-total); tail != "" {
				kept = append([]string{truncationMarker + tail}, kept...)
			}
		}
		break
	}
	return kept
}

// forceSplit cuts text into target-sized windows that overlap by the
// configured overlap. It is the last resort for a unit with no usable
// boundary. The first window opens with the overlap tail of carry and is
// shortened so it stays within the target.
func forceSplit(tok tokenizer.Tokenizer, cfg ChunkerConfig, sep string) oversizeFunc {
	return func(unit string, carry []string) ([]pageChunk, []string, error) {
		var out []pageChunk
		rest := unit
		if first, consumed := seededWindow(tok, cfg, sep, unit, carry); first != "" {
			out = append(out, pageChunk{Text: first, Kind: models.ChunkForceSplit})
			rest = consumed
		}
		windows := tokenizer.Windows(tok, rest, cfg.TargetTokens, cfg.step())
		for _, w := range windows {
			out = append(out, pageChunk{Text: w, Kind: models.ChunkForceSplit})
		}
		if len(out) == 0 {
			return out, nil, nil
		}
		return out, []string{out[len(out)-1].Text}, nil
	}
}

// seededWindow builds the opening force-split window from the overlap tail of
// carry and the head of unit. rest is the remainder of unit, starting
// OverlapTokens before the cut so the next window overlaps this one.
func seededWindow(tok tokenizer.Tokenizer, cfg ChunkerConfig, sep, unit string, carry []string) (window, rest string) {
	if cfg.OverlapTokens <= 0 || len(carry) == 0 {
		return "", unit
	}
	seed := strings.Join(overlapTail(tok, carry, cfg.OverlapTokens), sep)
	if seed == "" {
		return "", unit
	}
	pieces := tok.Pieces(unit)
	n := min(len(pieces), cfg.TargetTokens-tok.Count(seed+sep))
	for ; n > 0; n-- {
		window = seed + sep + strings.TrimSpace(strings.Join(pieces[:n], ""))
		if tok.Count(window) <= cfg.TargetTokens {
			break
		}
	}
	if n <= 0 {
		return "", unit
	}
	if n == len(pieces) {
		return window, ""
	}
	return window, strings.Join(pieces[max(0, n-cfg.OverlapTokens):], "")
}
