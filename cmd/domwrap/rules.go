package main

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"gopkg.in/yaml.v3"

	"github.com/pstuifzand/go-domwrap"
)

const (
	defaultTag      = "mark"
	defaultSelector = "body"
)

// Rule is one find-and-wrap step: every match of Pattern inside the
// elements selected by Selector is wrapped in a Tag element.
type Rule struct {
	ID       string            `json:"id"                 yaml:"id,omitempty"`
	Name     string            `json:"name"               yaml:"name,omitempty"`
	Pattern  string            `json:"pattern"            yaml:"pattern"`
	Flags    string            `json:"flags,omitempty"    yaml:"flags,omitempty"`
	Selector string            `json:"selector,omitempty" yaml:"selector,omitempty"`
	Tag      string            `json:"tag,omitempty"      yaml:"tag,omitempty"`
	Class    string            `json:"class,omitempty"    yaml:"class,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"    yaml:"attrs,omitempty"`
	Disabled bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Set by the last processing run.
	Matches   int    `json:"matches"              yaml:"-"`
	LastError string `json:"last_error,omitempty" yaml:"-"`
}

// FlagInfo documents one pattern flag.
type FlagInfo struct {
	Flag        string `json:"flag"`
	Description string `json:"description"`
}

// GetFlags returns the pattern flags a rule accepts.
func GetFlags() []FlagInfo {
	return []FlagInfo{
		{"g", "wrap every match instead of only the first"},
		{"i", "case-insensitive matching"},
		{"m", "^ and $ match at line boundaries"},
		{"s", ". also matches newlines"},
	}
}

// withDefaults fills in the name, tag and selector a rule falls back to.
func (r Rule) withDefaults() Rule {
	if r.Name == "" {
		r.Name = r.Pattern
	}
	if r.Tag == "" {
		r.Tag = defaultTag
	}
	if r.Selector == "" {
		r.Selector = defaultSelector
	}
	return r
}

// compile turns the rule into a pattern and a wrapper factory.
func (r Rule) compile() (domwrap.Pattern, domwrap.Wrapper, error) {
	if r.Pattern == "" {
		return domwrap.Pattern{}, nil, errors.New("pattern is empty")
	}
	p, err := domwrap.Compile(r.Pattern, r.Flags)
	if err != nil {
		return domwrap.Pattern{}, nil, err
	}
	if r.Selector != "" {
		if _, err := domwrap.CompileSelector(r.Selector); err != nil {
			return domwrap.Pattern{}, nil, err
		}
	}

	tag := r.Tag
	if tag == "" {
		tag = defaultTag
	}

	attrs := r.attributes()
	if !hasTemplate(attrs) {
		return p, domwrap.Element(tag, attrs...), nil
	}

	tag = strings.ToLower(tag)
	return p, domwrap.WrapperFunc(func(m domwrap.Match) *html.Node {
		n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		for _, a := range attrs {
			n.Attr = append(n.Attr, html.Attribute{Key: a.Key, Val: m.Expand(a.Val)})
		}
		return n
	}), nil
}

// attributes returns class first, then the remaining attributes by key.
func (r Rule) attributes() []html.Attribute {
	attrs := make([]html.Attribute, 0, len(r.Attrs)+1)
	if r.Class != "" {
		attrs = append(attrs, html.Attribute{Key: "class", Val: r.Class})
	}

	keys := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		if k == "class" && r.Class != "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, html.Attribute{Key: strings.ToLower(k), Val: r.Attrs[k]})
	}
	return attrs
}

func hasTemplate(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if strings.Contains(a.Val, "$") {
			return true
		}
	}
	return false
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file.
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return []Rule{}, nil
		}
		return nil, errors.Errorf("decoding rules: %w", err)
	}

	for i, rule := range f.Rules {
		if _, _, err := rule.compile(); err != nil {
			return nil, errors.Errorf("rule %d (%s): %w", i+1, rule.Pattern, err)
		}
	}
	return f.Rules, nil
}

// MarshalRules renders rules as a YAML rule file. IDs are left out so the
// file can be imported into another workspace.
func MarshalRules(rules []Rule) ([]byte, error) {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		r.ID = ""
		if r.Name == r.Pattern {
			r.Name = ""
		}
		if r.Tag == defaultTag {
			r.Tag = ""
		}
		if r.Selector == defaultSelector {
			r.Selector = ""
		}
		out[i] = r
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ruleFile{Rules: out}); err != nil {
		return nil, errors.Errorf("encoding rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// processEscapeSequences converts escape sequences typed on a single line.
// Handles: \n, \r, \t, \\, \xHH and \uHHHH. Anything else keeps its backslash.
func processEscapeSequences(s string) string {
	var result strings.Builder
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i+1 >= len(runes) {
			result.WriteRune(runes[i])
			continue
		}

		switch runes[i+1] {
		case 'n':
			result.WriteRune('\n')
			i++
		case 'r':
			result.WriteRune('\r')
			i++
		case 't':
			result.WriteRune('\t')
			i++
		case '\\':
			result.WriteRune('\\')
			i++
		case 'x':
			if r, ok := hexRune(runes, i+2, 2); ok {
				result.WriteRune(r)
				i += 3
			} else {
				result.WriteRune(runes[i])
			}
		case 'u':
			if r, ok := hexRune(runes, i+2, 4); ok {
				result.WriteRune(r)
				i += 5
			} else {
				result.WriteRune(runes[i])
			}
		default:
			result.WriteRune(runes[i])
		}
	}

	return result.String()
}

func hexRune(runes []rune, start, n int) (rune, bool) {
	if start+n > len(runes) {
		return 0, false
	}
	val, err := strconv.ParseUint(string(runes[start:start+n]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(val), true
}
