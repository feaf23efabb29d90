package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gitlab.com/tozd/go/errors"

	"github.com/pstuifzand/go-domwrap"
)

// Stats summarizes the last processing run.
type Stats struct {
	Rules    int  `json:"rules"`
	Applied  int  `json:"applied"`
	Failed   int  `json:"failed"`
	Matches  int  `json:"matches"`
	Reverted bool `json:"reverted"`
}

// Workspace is the headless core: an ordered list of rules applied to one
// input document. Any change to the rules or the input re-processes it.
type Workspace struct {
	ctx         context.Context
	rules       []Rule
	inputHTML   string
	outputHTML  string
	doc         *domwrap.Document
	stats       Stats
	ruleCounter int
}

// NewWorkspace creates an empty workspace. ctx carries the logger used
// while processing.
func NewWorkspace(ctx context.Context) *Workspace {
	return &Workspace{
		ctx:   ctx,
		rules: []Rule{},
	}
}

// ============================================================================
// Rule Management Methods
// ============================================================================

// AddRule appends a rule and returns its ID.
func (w *Workspace) AddRule(rule Rule) (string, error) {
	if _, _, err := rule.compile(); err != nil {
		return "", err
	}

	w.ruleCounter++
	rule = rule.withDefaults()
	rule.ID = fmt.Sprintf("rule_%d", w.ruleCounter)
	rule.Matches = 0
	rule.LastError = ""

	w.rules = append(w.rules, rule)
	w.process()
	return rule.ID, nil
}

// UpdateRule replaces the definition of an existing rule, keeping its ID
// and position.
func (w *Workspace) UpdateRule(ruleID string, rule Rule) error {
	i := w.indexOf(ruleID)
	if i < 0 {
		return errors.Errorf("rule not found: %s", ruleID)
	}
	if _, _, err := rule.compile(); err != nil {
		return err
	}

	rule = rule.withDefaults()
	rule.ID = ruleID
	w.rules[i] = rule
	w.process()
	return nil
}

// DeleteRule removes a rule.
func (w *Workspace) DeleteRule(ruleID string) error {
	i := w.indexOf(ruleID)
	if i < 0 {
		return errors.Errorf("rule not found: %s", ruleID)
	}

	w.rules = append(w.rules[:i], w.rules[i+1:]...)
	w.process()
	return nil
}

// SetRuleDisabled switches a rule off or back on without removing it.
func (w *Workspace) SetRuleDisabled(ruleID string, disabled bool) error {
	i := w.indexOf(ruleID)
	if i < 0 {
		return errors.Errorf("rule not found: %s", ruleID)
	}

	w.rules[i].Disabled = disabled
	w.process()
	return nil
}

// MoveRuleUp moves a rule one position earlier.
func (w *Workspace) MoveRuleUp(ruleID string) error {
	i := w.indexOf(ruleID)
	if i < 0 {
		return errors.Errorf("rule not found: %s", ruleID)
	}
	if i == 0 {
		return errors.Errorf("rule is already first: %s", ruleID)
	}

	w.rules[i-1], w.rules[i] = w.rules[i], w.rules[i-1]
	w.process()
	return nil
}

// MoveRuleDown moves a rule one position later.
func (w *Workspace) MoveRuleDown(ruleID string) error {
	i := w.indexOf(ruleID)
	if i < 0 {
		return errors.Errorf("rule not found: %s", ruleID)
	}
	if i == len(w.rules)-1 {
		return errors.Errorf("rule is already last: %s", ruleID)
	}

	w.rules[i], w.rules[i+1] = w.rules[i+1], w.rules[i]
	w.process()
	return nil
}

// CanMoveRuleUp reports whether MoveRuleUp would succeed.
func (w *Workspace) CanMoveRuleUp(ruleID string) bool {
	return w.indexOf(ruleID) > 0
}

// CanMoveRuleDown reports whether MoveRuleDown would succeed.
func (w *Workspace) CanMoveRuleDown(ruleID string) bool {
	i := w.indexOf(ruleID)
	return i >= 0 && i < len(w.rules)-1
}

// ============================================================================
// Input/Output Methods
// ============================================================================

// SetInput replaces the input document and processes it.
func (w *Workspace) SetInput(text string) {
	w.inputHTML = text
	w.process()
}

// GetInput returns the input document as given.
func (w *Workspace) GetInput() string {
	return w.inputHTML
}

// GetOutput returns the body of the processed document.
func (w *Workspace) GetOutput() string {
	return w.outputHTML
}

// GetText returns the text content of the processed document.
func (w *Workspace) GetText() string {
	if w.doc == nil {
		return ""
	}
	return w.doc.Text()
}

// GetStats returns the statistics of the last processing run.
func (w *Workspace) GetStats() Stats {
	return w.stats
}

// Revert undoes every wrap of the last processing run. The rules stay in
// place and the next change processes the input again.
func (w *Workspace) Revert() error {
	if w.doc == nil {
		return nil
	}
	if err := w.doc.Revert(); err != nil {
		return err
	}

	out, err := w.doc.BodyHTML()
	if err != nil {
		return errors.WithStack(err)
	}
	w.outputHTML = out
	w.stats.Matches = 0
	w.stats.Reverted = true
	for i := range w.rules {
		w.rules[i].Matches = 0
	}
	return nil
}

// Diff returns a character diff between the input, as parsed, and the
// output. Deletions are shown as [-text-] and insertions as {+text+}.
func (w *Workspace) Diff() string {
	if w.doc == nil {
		return ""
	}
	before, err := normalizeHTML(w.inputHTML)
	if err != nil {
		return ""
	}
	return formatDiff(diffHTML(before, w.outputHTML))
}

// ============================================================================
// Query Methods
// ============================================================================

// GetRule returns a copy of a rule, or nil if it does not exist.
func (w *Workspace) GetRule(ruleID string) *Rule {
	i := w.indexOf(ruleID)
	if i < 0 {
		return nil
	}
	rule := w.rules[i]
	return &rule
}

// GetRules returns a copy of all rules in order.
func (w *Workspace) GetRules() []Rule {
	rules := make([]Rule, len(w.rules))
	copy(rules, w.rules)
	return rules
}

// ============================================================================
// Import/Export Methods
// ============================================================================

// ExportRules renders the rules as a YAML rule file.
func (w *Workspace) ExportRules() (string, error) {
	data, err := MarshalRules(w.rules)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ImportRules replaces all rules with the ones in a YAML rule file.
func (w *Workspace) ImportRules(yamlStr string) error {
	rules, err := LoadRules(strings.NewReader(yamlStr))
	if err != nil {
		return err
	}

	w.rules = make([]Rule, 0, len(rules))
	for _, rule := range rules {
		w.ruleCounter++
		rule = rule.withDefaults()
		rule.ID = fmt.Sprintf("rule_%d", w.ruleCounter)
		w.rules = append(w.rules, rule)
	}
	w.process()
	return nil
}

// ============================================================================
// Internal Methods
// ============================================================================

func (w *Workspace) indexOf(ruleID string) int {
	for i := range w.rules {
		if w.rules[i].ID == ruleID {
			return i
		}
	}
	return -1
}

// process parses the input and applies every enabled rule in order.
func (w *Workspace) process() {
	logger := zerolog.Ctx(w.ctx)
	w.stats = Stats{Rules: len(w.rules)}
	for i := range w.rules {
		w.rules[i].Matches = 0
		w.rules[i].LastError = ""
	}

	doc, err := domwrap.ParseDocument(strings.NewReader(w.inputHTML))
	if err != nil {
		logger.Error().Err(err).Msg("parsing input")
		w.doc = nil
		w.outputHTML = ""
		return
	}
	w.doc = doc

	results := applyRules(w.ctx, doc, w.rules)
	for i, res := range results {
		if res.skipped {
			continue
		}
		if res.err != nil {
			w.rules[i].LastError = res.err.Error()
			w.stats.Failed++
			continue
		}
		w.rules[i].Matches = res.matches
		w.stats.Applied++
		w.stats.Matches += res.matches
	}

	out, err := doc.BodyHTML()
	if err != nil {
		logger.Error().Err(err).Msg("rendering output")
		w.outputHTML = ""
		return
	}
	w.outputHTML = out
}

type ruleResult struct {
	matches int
	skipped bool
	err     error
}

// applyRules runs rules against doc in order. A failing rule is reported
// and does not stop the rules after it.
func applyRules(ctx context.Context, doc *domwrap.Document, rules []Rule) []ruleResult {
	logger := zerolog.Ctx(ctx)
	results := make([]ruleResult, len(rules))

	for i, rule := range rules {
		if rule.Disabled {
			results[i].skipped = true
			continue
		}

		p, wrap, err := rule.compile()
		if err != nil {
			results[i].err = err
			continue
		}

		selector := rule.Selector
		if selector == "" {
			selector = defaultSelector
		}
		n, err := doc.Replace(ctx, selector, p, wrap)
		results[i].matches = n
		if err != nil {
			logger.Warn().Err(err).Str("rule", rule.Name).Msg("rule failed")
			results[i].err = err
		}
	}
	return results
}

func normalizeHTML(src string) (string, error) {
	doc, err := domwrap.ParseDocument(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	out, err := doc.BodyHTML()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return out, nil
}

func diffHTML(before, after string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	return dmp.DiffCleanupSemantic(diffs)
}

// formatDiff renders diffs without colors.
func formatDiff(diffs []diffmatchpatch.Diff) string {
	var buf bytes.Buffer
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			buf.WriteString("{+" + d.Text + "+}")
		case diffmatchpatch.DiffDelete:
			buf.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffEqual:
			buf.WriteString(d.Text)
		}
	}
	return buf.String()
}
