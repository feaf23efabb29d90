package domwrap

import (
	"regexp"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// Pattern is a regular expression plus the mode it is applied in. Global
// patterns wrap every non-overlapping match, others only the first one.
type Pattern struct {
	Regexp *regexp.Regexp
	Global bool
}

// Compile builds a Pattern from an expression and a set of flag letters:
// g (every match), i (case-insensitive), m (multi-line) and s (dot matches newline).
func Compile(expr, flags string) (Pattern, error) {
	var global bool
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		default:
			return Pattern{}, errors.Errorf("unknown flag %q: %w", f, ErrInvalidPattern)
		}
	}

	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, errors.Errorf("%w: %s", ErrInvalidPattern, err.Error())
	}
	return Pattern{Regexp: re, Global: global}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr, flags string) Pattern {
	p, err := Compile(expr, flags)
	if err != nil {
		panic(err)
	}
	return p
}

// Literal matches s verbatim.
func Literal(s string, global bool) Pattern {
	return Pattern{Regexp: regexp.MustCompile(regexp.QuoteMeta(s)), Global: global}
}

// Match is the payload handed to wrapper factories.
type Match struct {
	// Text is the full matched text.
	Text string
	// Index is the byte offset of the match in the flattened text.
	Index int
	// Groups holds the submatches; Groups[0] is Text. Unmatched groups are empty.
	Groups []string

	re  *regexp.Regexp
	src string
	loc []int
}

// Group returns the submatch captured by the named group, or "" when the
// group does not exist or did not participate.
func (m Match) Group(name string) string {
	if m.re == nil {
		return ""
	}
	i := m.re.SubexpIndex(name)
	if i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// Expand substitutes $1 and ${name} references in template with the match's
// submatches, following regexp.Regexp.Expand.
func (m Match) Expand(template string) string {
	if m.re == nil {
		return template
	}
	return string(m.re.ExpandString(nil, template, m.src, m.loc))
}

// Span is a half-open byte range [Start, End) of the flattened text.
type Span struct {
	Start int
	End   int
	Match Match
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Locate runs p over text and returns the ordered, non-overlapping spans it
// matched. An empty match anywhere aborts with ErrInvalidPattern.
func Locate(text string, p Pattern) ([]Span, error) {
	if p.Regexp == nil {
		return nil, errors.Errorf("nil regexp: %w", ErrInvalidPattern)
	}

	var locs [][]int
	if p.Global {
		locs = p.Regexp.FindAllStringSubmatchIndex(text, -1)
	} else if loc := p.Regexp.FindStringSubmatchIndex(text); loc != nil {
		locs = [][]int{loc}
	}

	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		if loc[0] == loc[1] {
			return nil, errors.Errorf("%q matched an empty string at offset %d: %w", p.Regexp.String(), loc[0], ErrInvalidPattern)
		}
		spans = append(spans, Span{
			Start: loc[0],
			End:   loc[1],
			Match: newMatch(p.Regexp, text, loc),
		})
	}
	return spans, nil
}

func newMatch(re *regexp.Regexp, text string, loc []int) Match {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return Match{
		Text:   groups[0],
		Index:  loc[0],
		Groups: groups,
		re:     re,
		src:    text,
		loc:    loc,
	}
}
