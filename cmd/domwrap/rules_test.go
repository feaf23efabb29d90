package main

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/pstuifzand/go-domwrap"
)

func TestRuleCompile(t *testing.T) {
	tests := []struct {
		desc    string
		rule    Rule
		match   string
		tag     string
		attrs   []html.Attribute
		wantErr bool
	}{
		{
			desc:  "Defaults",
			rule:  Rule{Pattern: "a"},
			match: "a",
			tag:   "mark",
		},
		{
			desc:  "Tag is lowercased",
			rule:  Rule{Pattern: "a", Tag: "SPAN"},
			match: "a",
			tag:   "span",
		},
		{
			desc:  "Class comes first",
			rule:  Rule{Pattern: "a", Class: "hit", Attrs: map[string]string{"title": "x", "data-a": "y"}},
			match: "a",
			tag:   "mark",
			attrs: []html.Attribute{{Key: "class", Val: "hit"}, {Key: "data-a", Val: "y"}, {Key: "title", Val: "x"}},
		},
		{
			desc:  "Class field wins over class attribute",
			rule:  Rule{Pattern: "a", Class: "hit", Attrs: map[string]string{"class": "other"}},
			match: "a",
			tag:   "mark",
			attrs: []html.Attribute{{Key: "class", Val: "hit"}},
		},
		{
			desc:  "Templates are expanded",
			rule:  Rule{Pattern: `(?P<word>\w+)!`, Tag: "b", Attrs: map[string]string{"title": "${word}"}},
			match: "hey!",
			tag:   "b",
			attrs: []html.Attribute{{Key: "title", Val: "hey"}},
		},
		{desc: "Empty pattern", rule: Rule{}, wantErr: true},
		{desc: "Bad pattern", rule: Rule{Pattern: "["}, wantErr: true},
		{desc: "Bad flags", rule: Rule{Pattern: "a", Flags: "x"}, wantErr: true},
		{desc: "Bad selector", rule: Rule{Pattern: "a", Selector: "p["}, wantErr: true},
		{
			desc:  "Selector list",
			rule:  Rule{Pattern: "a", Selector: "p, li > span"},
			match: "a",
			tag:   "mark",
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			p, wrap, err := tt.rule.compile()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			spans, err := domwrap.Locate(tt.match, p)
			if err != nil || len(spans) != 1 {
				t.Fatalf("Expected one match in %q, got %v (%v)", tt.match, spans, err)
			}

			n := wrap(spans[0].Match)
			if n.Data != tt.tag {
				t.Errorf("Expected tag %q, got %q", tt.tag, n.Data)
			}
			if len(n.Attr) != len(tt.attrs) {
				t.Fatalf("Expected attrs %v, got %v", tt.attrs, n.Attr)
			}
			for i, a := range tt.attrs {
				if n.Attr[i] != a {
					t.Errorf("Attr %d: expected %v, got %v", i, a, n.Attr[i])
				}
			}
		})
	}
}

func TestRuleTemplateWrapperIsFresh(t *testing.T) {
	rule := Rule{Pattern: `\w+`, Flags: "g", Attrs: map[string]string{"title": "$0"}}
	p, wrap, err := rule.compile()
	if err != nil {
		t.Fatal(err)
	}

	spans, _ := domwrap.Locate("one two", p)
	first := wrap(spans[0].Match)
	second := wrap(spans[1].Match)
	if first == second {
		t.Fatal("Template wrappers should build a node per match")
	}
	if first.Attr[0].Val != "one" || second.Attr[0].Val != "two" {
		t.Errorf("Unexpected titles %q and %q", first.Attr[0].Val, second.Attr[0].Val)
	}
}

func TestLoadRules(t *testing.T) {
	input := `
rules:
  - name: todo
    pattern: TODO
    flags: g
    class: todo
  - pattern: '(\w+)@example\.com'
    tag: a
    selector: p
    attrs:
      href: mailto:$0
    disabled: true
`
	rules, err := LoadRules(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(rules))
	}

	if rules[0].Name != "todo" || rules[0].Flags != "g" || rules[0].Class != "todo" {
		t.Errorf("Unexpected first rule: %+v", rules[0])
	}
	if rules[1].Pattern != `(\w+)@example\.com` || rules[1].Attrs["href"] != "mailto:$0" || !rules[1].Disabled {
		t.Errorf("Unexpected second rule: %+v", rules[1])
	}
}

func TestLoadRulesEmpty(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Empty file should load, got %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("Expected no rules, got %d", len(rules))
	}
}

func TestLoadRulesReportsRule(t *testing.T) {
	_, err := LoadRules(strings.NewReader("rules:\n  - pattern: ok\n  - pattern: '(('\n"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "rule 2") {
		t.Errorf("Error should name the rule, got %v", err)
	}
}

func TestMarshalRulesOmitsDefaults(t *testing.T) {
	data, err := MarshalRules([]Rule{
		{ID: "rule_1", Name: "x", Pattern: "x", Tag: defaultTag, Selector: defaultSelector, Matches: 3},
	})
	if err != nil {
		t.Fatalf("MarshalRules failed: %v", err)
	}

	expected := "rules:\n  - pattern: x\n"
	if string(data) != expected {
		t.Errorf("Expected %q, got %q", expected, string(data))
	}
}

func TestProcessEscapeSequences(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		desc     string
	}{
		{`a\nb`, "a\nb", "Newline"},
		{`a\tb`, "a\tb", "Tab"},
		{`a\r\n`, "a\r\n", "Carriage return"},
		{`a\\nb`, `a\nb`, "Escaped backslash"},
		{`\x41`, "A", "Hex escape"},
		{`\u00e9`, "\u00e9", "Unicode escape"},
		{`\xZZ`, `\xZZ`, "Bad hex escape"},
		{`\u12`, `\u12`, "Short unicode escape"},
		{`\d+`, `\d+`, "Unknown escape is kept"},
		{`end\`, `end\`, "Trailing backslash"},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			result := processEscapeSequences(test.input)
			if result != test.expected {
				t.Errorf("Input: %q, expected %q, got %q", test.input, test.expected, result)
			}
		})
	}
}
