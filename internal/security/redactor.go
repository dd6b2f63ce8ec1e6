// Package security implements PII detection/redaction and the security
// audit log (spec.md §4.6), grounded on
// original_source/backend/security/{redactor,audit_logger}.py. The
// detector set and redaction-mode wording follow spec.md, which adds
// three contextual detectors the original lacks and changes the
// replacement-token shape; see SPEC_FULL.md §4.6 for the full divergence
// note.
package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bentman/JARVISv5/internal/jerr"
)

// Type enumerates the kinds of PII the redactor recognizes.
type Type string

const (
	TypeEmail       Type = "email"
	TypePhone       Type = "phone"
	TypeSSN         Type = "ssn"
	TypeCreditCard  Type = "credit_card"
	TypeIBAN        Type = "iban"
	TypeIPAddress   Type = "ip_address"
	TypeAPIKey      Type = "api_key"
	TypePassword    Type = "password"
	TypeBearerToken Type = "bearer_token"
)

// Mode selects how matched spans are rewritten.
type Mode string

const (
	ModePartial Mode = "partial"
	ModeStrict  Mode = "strict"
)

// Match is one detected PII span.
type Match struct {
	Type  Type
	Start int
	End   int
	Text  string
}

// Summary is the aggregate shape attached to a RedactionResult.
type Summary struct {
	Types  []string       `json:"types"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// RedactionResult is the shape returned by Redact (spec.md §4.6).
type RedactionResult struct {
	Original    string  `json:"original"`
	Redacted    string  `json:"redacted"`
	Matches     []Match `json:"matches"`
	PIIDetected bool    `json:"pii_detected"`
	Summary     Summary `json:"summary"`
}

type patternDetector struct {
	typ Type
	re  *regexp.Regexp
}

// contextualDetector matches a keyword followed (within the same regex
// window) by a long opaque token — the shape spec.md describes as
// "detector keyword found within N characters of a \S{16,} token". The
// match span covers only the token, so redaction doesn't clobber the
// surrounding prose.
type contextualDetector struct {
	typ Type
	re  *regexp.Regexp // must have exactly one capture group: the token
}

// Redactor detects and redacts PII. It holds no mutable state; detect and
// redact are pure functions of their input.
type Redactor struct {
	patterns   []patternDetector
	contextual []contextualDetector
}

// New returns a Redactor configured with spec.md §4.6's fixed detector
// order: email, phone, ssn, credit_card, iban, ip_address, api_key,
// password, bearer_token.
func New() *Redactor {
	return &Redactor{
		patterns: []patternDetector{
			{TypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
			{TypePhone, regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)},
			{TypePhone, regexp.MustCompile(`\(\d{3}\)\s\d{3}-\d{4}\b`)},
			{TypePhone, regexp.MustCompile(`\b\d{3}-\d{4}\b`)},
			{TypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
			{TypeCreditCard, regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)},
			{TypeIBAN, regexp.MustCompile(`\b[A-Z]{2}[0-9A-Z]{2}[0-9A-Z]{1,30}\b`)},
			{TypeIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
		},
		contextual: []contextualDetector{
			{TypeAPIKey, regexp.MustCompile(`(?i)\bapi[-_ ]?key\b\s*[:=]\s*(\S{16,})`)},
			{TypePassword, regexp.MustCompile(`(?i)\bpassword\b\s*[:=]\s*(\S{16,})`)},
			{TypeBearerToken, regexp.MustCompile(`(?i)\bbearer\b\s+(\S{16,})`)},
		},
	}
}

// Detect returns every PII match in text, sorted deterministically by
// (start, end, type, text) — spec.md: "detect(text) → [match] is pure and
// deterministic".
func (r *Redactor) Detect(text string) []Match {
	var matches []Match

	for _, d := range r.patterns {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Type: d.typ, Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
		}
	}
	for _, d := range r.contextual {
		for _, loc := range d.re.FindAllStringSubmatchIndex(text, -1) {
			// loc[2], loc[3] are the capture group's start/end.
			if len(loc) < 4 || loc[2] < 0 {
				continue
			}
			start, end := loc[2], loc[3]
			matches = append(matches, Match{Type: d.typ, Start: start, End: end, Text: text[start:end]})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		if matches[i].End != matches[j].End {
			return matches[i].End < matches[j].End
		}
		if matches[i].Type != matches[j].Type {
			return matches[i].Type < matches[j].Type
		}
		return matches[i].Text < matches[j].Text
	})
	return matches
}

// Redact detects PII in text and replaces every match, working from the
// rightmost match inward so earlier offsets stay valid (spec.md §4.6).
// mode must be "partial" or "strict".
func (r *Redactor) Redact(text string, mode Mode) (RedactionResult, error) {
	if mode != ModePartial && mode != ModeStrict {
		return RedactionResult{}, jerr.New(jerr.CodeInvalidArgument, "mode must be partial or strict")
	}

	matches := r.Detect(text)
	if len(matches) == 0 {
		return RedactionResult{
			Original:    text,
			Redacted:    text,
			Matches:     nil,
			PIIDetected: false,
			Summary:     Summary{Types: []string{}, Counts: map[string]int{}, Total: 0},
		}, nil
	}

	redacted := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		replacement := replacementFor(m, mode)
		redacted = redacted[:m.Start] + replacement + redacted[m.End:]
	}

	counts := map[string]int{}
	for _, m := range matches {
		counts[string(m.Type)]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	return RedactionResult{
		Original:    text,
		Redacted:    redacted,
		Matches:     matches,
		PIIDetected: true,
		Summary:     Summary{Types: types, Counts: counts, Total: len(matches)},
	}, nil
}

// replacementFor computes the replacement token for one match. Partial
// mode preserves the email domain (spec.md: "[REDACTED_EMAIL]@domain");
// every other type, and strict mode for all types, uses the uniform
// [REDACTED:TYPE] token.
func replacementFor(m Match, mode Mode) string {
	if mode == ModePartial && m.Type == TypeEmail {
		if idx := strings.LastIndex(m.Text, "@"); idx >= 0 && idx+1 < len(m.Text) {
			return "[REDACTED_EMAIL]@" + m.Text[idx+1:]
		}
	}
	return fmt.Sprintf("[REDACTED:%s]", strings.ToUpper(string(m.Type)))
}
