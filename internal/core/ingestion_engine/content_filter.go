package ingestion_engine

import (
	"regexp"
	"strings"
)

var (
	pageMarkerRe   = regexp.MustCompile(`(?i)^page\s+\d+\s*(/|of)\s*\d+$`)
	pageNumberRe   = regexp.MustCompile(`^\d+$`)
	sectionNumRe   = regexp.MustCompile(`\b\d+\.\d+(\.\d+)*\b`)
	dateRe         = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b|(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`)
	policyCodeRe   = regexp.MustCompile(`\b[A-Z]{2,}-\d+\b`)
	contactTokenRe = regexp.MustCompile(`(?i)^(phone|tel|telephone|fax|email|e-mail|web|website|www|url):?$|^[\w.+-]+@[\w-]+\.[\w.-]+$|^(https?://|www\.)\S+$|^\+?[\d()\-./]{7,}$`)
)

// ContentFilter strips running headers, footers, page markers and contact
// blocks from page text. It works one physical line at a time so a policy
// paragraph is never lost because a boilerplate line sits next to it.
type ContentFilter struct {
	// LongLineChars is the length above which contact-heavy lines are dropped.
	LongLineChars int
	// Letterhead holds organization specific header and footer patterns.
	Letterhead []*regexp.Regexp
}

func NewContentFilter(letterhead ...*regexp.Regexp) *ContentFilter {
	return &ContentFilter{LongLineChars: 100, Letterhead: letterhead}
}

// Filter returns text with boilerplate lines removed. Blank lines survive
// so paragraph boundaries are preserved.
func (f *ContentFilter) Filter(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			kept = append(kept, "")
			continue
		}
		if f.isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (f *ContentFilter) isBoilerplate(line string) bool {
	if pageMarkerRe.MatchString(line) || pageNumberRe.MatchString(line) {
		return true
	}
	if isProtected(line) {
		return false
	}
	for _, re := range f.Letterhead {
		if re.MatchString(line) {
			return true
		}
	}
	return len(line) > f.longLimit() && isContactBlock(line)
}

func (f *ContentFilter) longLimit() int {
	if f.LongLineChars <= 0 {
		return 100
	}
	return f.LongLineChars
}

// isProtected reports lines carrying section numbers, dates or policy codes.
func isProtected(line string) bool {
	return sectionNumRe.MatchString(line) || dateRe.MatchString(line) || policyCodeRe.MatchString(line)
}

// isContactBlock reports a line made mostly of phone, email and URL tokens,
// or the classic "Phone: ... Email: ..." footer.
func isContactBlock(line string) bool {
	if strings.Contains(line, "Phone:") && strings.Contains(line, "Email:") {
		return true
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	contact := 0
	for _, fld := range fields {
		if contactTokenRe.MatchString(strings.Trim(fld, ",;|")) {
			contact++
		}
	}
	return contact*2 >= len(fields)
}
