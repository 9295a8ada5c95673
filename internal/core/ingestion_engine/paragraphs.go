package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// prose longer than this is regrouped into sentence groups
	proseSplitChars = 200
	// sentence groups close once they pass this length
	proseGroupChars = 300
)

var (
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)
	bulletRe         = regexp.MustCompile(`^\s*[•·\-\*]\s+`)
	numberedRe       = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	headingRe        = regexp.MustCompile(`^[A-Z][^.]*$`)
	alignedRe        = regexp.MustCompile(`\s{3,}`)
	identifierRe     = regexp.MustCompile(`\d+\.\d+|\d{1,2}/\d{1,2}/\d{4}|[A-Z]{2,}-\d+`)
	pagePrefixRe     = regexp.MustCompile(`(?i)^\s*page\s+\d+`)

	listLeadInRe  = regexp.MustCompile(`(?i)\b(including|such as|for example|e\.g\.|i\.e\.)\s*:?\s*$`)
	connectorRe   = regexp.MustCompile(`(?i)^\s*(however|therefore|furthermore|additionally|moreover)\b`)
	trailingNumRe = regexp.MustCompile(`\d+\.?\s*$`)
	leadingUnitRe = regexp.MustCompile(`(?i)^\s*(days?|months?|years?|hours?|minutes?|%|percent)\b`)
	leadingPctRe  = regexp.MustCompile(`^\s*%`)
)

// Paragraph is one candidate unit of chunking.
type Paragraph struct {
	Text       string
	Structured bool
}

// ExtractParagraphs splits filtered page text on blank lines, drops
// header-like fragments and regroups long prose into sentence groups.
// Structured content (lists, tables, headings) is kept whole.
func ExtractParagraphs(text string) []Paragraph {
	var out []Paragraph
	for _, raw := range paragraphBreakRe.Split(text, -1) {
		para := strings.TrimSpace(raw)
		if para == "" || isHeaderFooter(para) {
			continue
		}
		if isStructured(para) {
			out = append(out, Paragraph{Text: para, Structured: true})
			continue
		}
		for _, group := range splitNaturalBoundaries(para) {
			if strings.TrimSpace(group) != "" {
				out = append(out, Paragraph{Text: group})
			}
		}
	}
	return out
}

// SplitParagraphs is the naive split used when structure detection fails.
func SplitParagraphs(text string) []string {
	var out []string
	for _, raw := range paragraphBreakRe.Split(text, -1) {
		if p := strings.TrimSpace(raw); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isHeaderFooter(para string) bool {
	if isProtected(para) {
		return false
	}
	if len(para) < 20 || len(strings.Fields(para)) < 3 {
		return true
	}
	if len(para) > 100 && strings.Contains(para, "Phone:") && strings.Contains(para, "Email:") {
		return true
	}
	return pagePrefixRe.MatchString(para)
}

func isStructured(para string) bool {
	if bulletRe.MatchString(para) || numberedRe.MatchString(para) {
		return true
	}
	if len(para) < 100 && strings.Count(para, "\n") <= 2 {
		if isUpper(para) || headingRe.MatchString(para) {
			return true
		}
	}
	if strings.Contains(para, "\t") || alignedRe.MatchString(para) {
		return true
	}
	return identifierRe.MatchString(para)
}

// isUpper reports whether s has at least one cased letter and no lower case ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

// splitNaturalBoundaries groups the sentences of a long prose paragraph
// into pieces of roughly proseGroupChars, never cutting at a bad break.
func splitNaturalBoundaries(para string) []string {
	if len(para) < proseSplitChars {
		return []string{para}
	}
	sentences := splitSentences(para, true)

	var groups []string
	var cur []string
	for i, s := range sentences {
		cur = append(cur, s)
		text := strings.Join(cur, " ")
		next := ""
		if i+1 < len(sentences) {
			next = sentences[i+1]
		}
		if len(text) > proseGroupChars && !badBreak(s, next) {
			groups = append(groups, text)
			cur = nil
		}
	}
	if len(cur) > 0 {
		groups = append(groups, strings.Join(cur, " "))
	}
	return groups
}

// badBreak reports whether cutting between cur and next would separate a
// list lead-in from its items, a connector from its antecedent, or a
// number from its unit.
func badBreak(cur, next string) bool {
	if listLeadInRe.MatchString(cur) {
		return true
	}
	if next == "" {
		return false
	}
	if connectorRe.MatchString(next) {
		return true
	}
	return trailingNumRe.MatchString(cur) && (leadingUnitRe.MatchString(next) || leadingPctRe.MatchString(next))
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace. With
// upperNext set, the following sentence must start with an upper case letter.
func splitSentences(text string, upperNext bool) []string {
	rs := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(rs); i++ {
		if rs[i] != '.' && rs[i] != '!' && rs[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		if j == i+1 || j == len(rs) {
			continue
		}
		if upperNext && !unicode.IsUpper(rs[j]) {
			continue
		}
		if s := strings.TrimSpace(string(rs[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(rs[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// SplitOversizedSentences splits a paragraph into sentences and rejoins
// the pairs that would form a bad break.
func SplitOversizedSentences(para string) []string {
	sentences := splitSentences(para, false)
	var out []string
	for i := 0; i < len(sentences); i++ {
		s := sentences[i]
		for i+1 < len(sentences) && badBreak(s, sentences[i+1]) {
			s += " " + sentences[i+1]
			i++
		}
		out = append(out, s)
	}
	return out
}
