package schemas

import (
	"fmt"
	"strings"
)

// SelectorCandidate is one ranked heuristic for finding an element.
// Query is a CSS selector that may end with a `:has-text("...")` filter.
// Last switches the tie-break from the first match in document order to the
// last one, which is how callers ask for "the most recently added" element.
type SelectorCandidate struct {
	Query string `json:"query" yaml:"query" validate:"required"`
	Last  bool   `json:"last,omitempty" yaml:"last,omitempty"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// String renders the candidate for logs and reports.
func (c SelectorCandidate) String() string {
	if c.Last {
		return c.Query + " (last)"
	}
	return c.Query
}

// Candidates builds a first-match candidate list from raw queries.
func Candidates(queries ...string) []SelectorCandidate {
	out := make([]SelectorCandidate, 0, len(queries))
	for _, q := range queries {
		out = append(out, SelectorCandidate{Query: q})
	}
	return out
}

// LastOf builds a candidate list that selects the last match of each query.
func LastOf(queries ...string) []SelectorCandidate {
	out := Candidates(queries...)
	for i := range out {
		out[i].Last = true
	}
	return out
}

const hasTextPrefix = ":has-text("

// SplitTextFilter separates a query into its CSS part and the optional
// :has-text() argument. Quotes around the argument are removed.
func SplitTextFilter(query string) (css string, text string, err error) {
	q := strings.TrimSpace(query)
	idx := strings.LastIndex(q, hasTextPrefix)
	if idx < 0 {
		return q, "", nil
	}
	if !strings.HasSuffix(q, ")") {
		return "", "", fmt.Errorf("malformed text filter in %q", query)
	}
	arg := strings.TrimSpace(q[idx+len(hasTextPrefix) : len(q)-1])
	if len(arg) >= 2 && (arg[0] == '"' || arg[0] == '\'') && arg[len(arg)-1] == arg[0] {
		arg = arg[1 : len(arg)-1]
	}
	if arg == "" {
		return "", "", fmt.Errorf("empty text filter in %q", query)
	}
	css = strings.TrimSpace(q[:idx])
	if css == "" {
		css = "*"
	}
	return css, arg, nil
}

// ResolvedElement is a located element together with the candidate that
// matched it. It is owned by the step that requested it.
type ResolvedElement struct {
	Handle    ElementHandle
	Candidate SelectorCandidate
	// Rank is the index of Candidate in the list that was resolved.
	Rank    int
	Visible bool
}
