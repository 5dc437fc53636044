package collector

import (
	"regexp"
	"strings"
)

// matcher tests one interest pattern. Plain patterns match as substrings;
// patterns containing '*' are globs over the whole text where '*' stays
// within one path segment and '**' crosses '/'.
type matcher struct {
	raw  string
	glob *regexp.Regexp
}

func compilePattern(p string) (matcher, error) {
	if !strings.Contains(p, "*") {
		return matcher{raw: p}, nil
	}
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(p); {
		if p[i] == '*' {
			if i+1 < len(p) && p[i+1] == '*' {
				b.WriteString(".*")
				i += 2
				continue
			}
			b.WriteString("[^/]*")
			i++
			continue
		}
		j := i
		for j < len(p) && p[j] != '*' {
			j++
		}
		b.WriteString(regexp.QuoteMeta(p[i:j]))
		i = j
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return matcher{}, err
	}
	return matcher{raw: p, glob: re}, nil
}

func (m matcher) match(s string) bool {
	if m.glob != nil {
		return m.glob.MatchString(s)
	}
	return strings.Contains(s, m.raw)
}

func compilePatterns(patterns []string) ([]matcher, error) {
	out := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func matchAny(ms []matcher, s string) bool {
	for _, m := range ms {
		if m.match(s) {
			return true
		}
	}
	return false
}
