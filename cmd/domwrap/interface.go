package main

// Commands defines every workspace operation. Workspace implements it
// directly and RemoteCommands implements it over the socket, so the REPL
// works the same against either.
type Commands interface {
	// =========================================================================
	// Rule Management
	// =========================================================================

	// AddRule appends a rule and returns its ID
	AddRule(rule Rule) (string, error)

	// UpdateRule replaces a rule's definition, keeping its ID and position
	UpdateRule(ruleID string, rule Rule) error

	// DeleteRule removes a rule
	DeleteRule(ruleID string) error

	// SetRuleDisabled switches a rule off or back on
	SetRuleDisabled(ruleID string, disabled bool) error

	MoveRuleUp(ruleID string) error
	MoveRuleDown(ruleID string) error
	CanMoveRuleUp(ruleID string) bool
	CanMoveRuleDown(ruleID string) bool

	// =========================================================================
	// Documents
	// =========================================================================

	// SetInput replaces the input HTML and processes it
	SetInput(text string)

	GetInput() string

	// GetOutput returns the body of the processed document
	GetOutput() string

	// GetText returns the text content of the processed document
	GetText() string

	GetStats() Stats

	// Revert undoes every wrap of the last processing run
	Revert() error

	// Diff shows the changes between the parsed input and the output
	Diff() string

	// =========================================================================
	// Queries and Import/Export
	// =========================================================================

	// GetRule returns a rule by ID, or nil if not found
	GetRule(ruleID string) *Rule

	GetRules() []Rule

	// ExportRules returns the rules as a YAML rule file
	ExportRules() (string, error)

	// ImportRules replaces all rules with the ones in a YAML rule file
	ImportRules(yamlStr string) error
}

var (
	_ Commands = (*Workspace)(nil)
	_ Commands = (*RemoteCommands)(nil)
)
