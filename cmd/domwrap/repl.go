package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/olekukonko/tablewriter"
	"gitlab.com/tozd/go/errors"
)

const replPrompt = "domwrap> "

var errExit = errors.Base("exit")

// REPLCommand is a parsed verb-first command line.
type REPLCommand struct {
	Verb   string
	Object string
	Args   []string

	// RawObject is Object as typed, before lowercasing.
	RawObject string
}

// lineReader is the part of readline the multi-line prompts need.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// REPLFormatter handles output formatting.
type REPLFormatter struct {
	useColor bool
	out      io.Writer
}

// NewREPLFormatter creates a formatter writing to out.
func NewREPLFormatter(out io.Writer, useColor bool) *REPLFormatter {
	return &REPLFormatter{useColor: useColor, out: out}
}

func (f *REPLFormatter) printColored(attr color.Attribute, format string, args ...interface{}) {
	if f.useColor {
		c := color.New(attr)
		c.EnableColor()
		c.Fprintf(f.out, format, args...)
		return
	}
	fmt.Fprintf(f.out, format, args...)
}

// PrintSuccess prints a success message.
func (f *REPLFormatter) PrintSuccess(message string) {
	f.printColored(color.FgGreen, "✓ %s\n", message)
}

// PrintError prints an error message.
func (f *REPLFormatter) PrintError(message string) {
	f.printColored(color.FgRed, "✗ Error: %s\n", message)
}

// PrintInfo prints an info message.
func (f *REPLFormatter) PrintInfo(message string) {
	f.printColored(color.FgCyan, "ℹ %s\n", message)
}

// Println prints plain text.
func (f *REPLFormatter) Println(text string) {
	fmt.Fprintln(f.out, text)
}

// PrintTable prints rows under headers.
func (f *REPLFormatter) PrintTable(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}

	table := tablewriter.NewWriter(f.out)
	table.Header(header...)
	if err := table.Bulk(rows); err != nil {
		f.PrintError(err.Error())
		return
	}
	if err := table.Render(); err != nil {
		f.PrintError(err.Error())
	}
}

// PrintJSON prints indented JSON.
func (f *REPLFormatter) PrintJSON(data interface{}) {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		f.PrintError("Failed to format JSON: " + err.Error())
		return
	}
	fmt.Fprintln(f.out, string(jsonBytes))
}

// PrintDiff prints a diff in the [-deleted-]{+inserted+} notation, colored
// when colors are on.
func (f *REPLFormatter) PrintDiff(diff string) {
	if !f.useColor {
		fmt.Fprintln(f.out, diff)
		return
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	rest := diff
	for rest != "" {
		del := strings.Index(rest, "[-")
		ins := strings.Index(rest, "{+")
		next, open, closing, c := -1, "", "", red
		switch {
		case del >= 0 && (ins < 0 || del < ins):
			next, open, closing = del, "[-", "-]"
		case ins >= 0:
			next, open, closing, c = ins, "{+", "+}", green
		}
		if next < 0 {
			fmt.Fprint(f.out, rest)
			break
		}

		end := strings.Index(rest[next+2:], closing)
		if end < 0 {
			fmt.Fprint(f.out, rest)
			break
		}
		fmt.Fprint(f.out, rest[:next])
		c.Fprint(f.out, open+rest[next+2:next+2+end]+closing)
		rest = rest[next+2+end+2:]
	}
	fmt.Fprintln(f.out)
}

// ParseCommand parses a verb-first command string.
func ParseCommand(input string) (*REPLCommand, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty command")
	}

	parts := splitArgs(input)
	if len(parts) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := &REPLCommand{
		Verb: strings.ToLower(parts[0]),
	}

	if len(parts) > 1 {
		cmd.RawObject = parts[1]
		cmd.Object = strings.ToLower(parts[1])
		cmd.Args = parts[2:]
	}

	return cmd, nil
}

// splitArgs splits a command string into arguments, respecting quotes.
// Backslashes are kept so patterns like \bword\b survive.
func splitArgs(input string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	hasToken := false
	quoteChar := rune(0)

	for _, ch := range input {
		if (ch == '"' || ch == '\'') && !inQuotes {
			inQuotes = true
			hasToken = true
			quoteChar = ch
			continue
		}

		if ch == quoteChar && inQuotes {
			inQuotes = false
			quoteChar = 0
			continue
		}

		if (ch == ' ' || ch == '\t') && !inQuotes {
			if hasToken {
				args = append(args, current.String())
				current.Reset()
				hasToken = false
			}
			continue
		}

		current.WriteRune(ch)
		hasToken = true
	}

	if hasToken {
		args = append(args, current.String())
	}

	return args
}

// ExecuteREPLCommand executes one command against ws. It returns errExit
// when the session should end.
func ExecuteREPLCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter, rl lineReader) error {
	switch cmd.Verb {
	// Rule management
	case "add":
		return handleAddCommand(cmd, ws, formatter)
	case "update":
		return handleUpdateCommand(cmd, ws, formatter)
	case "delete":
		return handleDeleteCommand(cmd, ws, formatter)
	case "enable", "disable":
		return handleEnableCommand(cmd, ws, formatter)
	case "move":
		return handleMoveCommand(cmd, ws, formatter)

	// Queries
	case "list":
		return handleListCommand(cmd, ws, formatter)
	case "show":
		return handleShowCommand(cmd, ws, formatter)

	// Documents
	case "set":
		return handleSetCommand(cmd, ws, formatter, rl)
	case "revert":
		if err := ws.Revert(); err != nil {
			formatter.PrintError(err.Error())
			return nil
		}
		formatter.PrintSuccess("Wraps reverted")
		return nil

	// Rule files
	case "export":
		return handleExportCommand(cmd, ws, formatter)
	case "import":
		return handleImportCommand(cmd, ws, formatter, rl)

	// Utility commands
	case "help":
		if cmd.Object != "" {
			showSpecificHelp(formatter, cmd.Object)
		} else {
			showMainHelp(formatter)
		}
		return nil
	case "quit", "exit":
		return errExit
	case "clear":
		fmt.Fprint(formatter.out, "\033[2J\033[H")
		return nil

	default:
		formatter.PrintError(fmt.Sprintf("Unknown command: %s", cmd.Verb))
		if s := suggestCommands(cmd.Verb); len(s) > 0 {
			formatter.PrintInfo("Did you mean: " + strings.Join(s, ", ") + "?")
		} else {
			formatter.PrintInfo("Type 'help' for available commands")
		}
		return nil
	}
}

// ============================================================================
// Command Handlers
// ============================================================================

func handleAddCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	// add rule <pattern> [flags F] [tag T] [class C] [selector S] [name N] [attr k=v]...
	if cmd.Object != "rule" {
		formatter.PrintError("add requires 'rule' argument")
		return nil
	}
	if len(cmd.Args) < 1 {
		formatter.PrintError("add rule requires a pattern")
		return nil
	}

	rule := Rule{Pattern: cmd.Args[0]}
	if err := applyRuleOptions(&rule, cmd.Args[1:]); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}

	ruleID, err := ws.AddRule(rule)
	if err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess(fmt.Sprintf("Rule added: %s", ruleID))
	return nil
}

func handleUpdateCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	// update rule <rule_id> [pattern P] [flags F] [tag T] ...
	if cmd.Object != "rule" {
		formatter.PrintError("update requires 'rule' argument")
		return nil
	}
	if len(cmd.Args) < 2 {
		formatter.PrintError("update rule requires a rule ID and at least one option")
		return nil
	}

	ruleID := cmd.Args[0]
	current := ws.GetRule(ruleID)
	if current == nil {
		formatter.PrintError("Rule not found: " + ruleID)
		return nil
	}

	rule := *current
	if rule.Name == rule.Pattern {
		// Default name, follows the pattern.
		rule.Name = ""
	}
	if err := applyRuleOptions(&rule, cmd.Args[1:]); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	if err := ws.UpdateRule(ruleID, rule); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess("Rule updated: " + ruleID)
	return nil
}

func handleDeleteCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	if cmd.Object != "rule" || len(cmd.Args) < 1 {
		formatter.PrintError("usage: delete rule <rule_id>")
		return nil
	}

	if err := ws.DeleteRule(cmd.Args[0]); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess("Rule deleted: " + cmd.Args[0])
	return nil
}

func handleEnableCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	if cmd.Object != "rule" || len(cmd.Args) < 1 {
		formatter.PrintError(fmt.Sprintf("usage: %s rule <rule_id>", cmd.Verb))
		return nil
	}

	disabled := cmd.Verb == "disable"
	if err := ws.SetRuleDisabled(cmd.Args[0], disabled); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess(fmt.Sprintf("Rule %sd: %s", cmd.Verb, cmd.Args[0]))
	return nil
}

func handleMoveCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	// move up|down <rule_id>
	if len(cmd.Args) < 1 {
		formatter.PrintError("usage: move up|down <rule_id>")
		return nil
	}

	ruleID := cmd.Args[0]
	var err error
	switch cmd.Object {
	case "up":
		err = ws.MoveRuleUp(ruleID)
	case "down":
		err = ws.MoveRuleDown(ruleID)
	default:
		formatter.PrintError("move requires 'up' or 'down'")
		return nil
	}
	if err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess(fmt.Sprintf("Rule moved %s: %s", cmd.Object, ruleID))
	return nil
}

func handleListCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	switch cmd.Object {
	case "rules", "":
		rules := ws.GetRules()
		if len(rules) == 0 {
			formatter.PrintInfo("No rules defined")
			return nil
		}

		rows := make([][]string, 0, len(rules))
		for _, r := range rules {
			rows = append(rows, []string{
				r.ID,
				shortenString(r.Name, 24),
				shortenString(r.Pattern, 24),
				r.Flags,
				r.Selector,
				r.Tag,
				fmt.Sprintf("%d", r.Matches),
				ruleStatus(r),
			})
		}
		formatter.PrintTable([]string{"ID", "Name", "Pattern", "Flags", "Selector", "Tag", "Matches", "Status"}, rows)
	case "flags":
		flags := GetFlags()
		rows := make([][]string, 0, len(flags))
		for _, fl := range flags {
			rows = append(rows, []string{fl.Flag, fl.Description})
		}
		formatter.PrintTable([]string{"Flag", "Description"}, rows)
	default:
		formatter.PrintError("list requires 'rules' or 'flags'")
	}
	return nil
}

func handleShowCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	switch cmd.Object {
	case "rule":
		if len(cmd.Args) < 1 {
			formatter.PrintError("show rule requires a rule ID")
			return nil
		}
		rule := ws.GetRule(cmd.Args[0])
		if rule == nil {
			formatter.PrintError("Rule not found: " + cmd.Args[0])
			return nil
		}
		formatter.PrintJSON(rule)
	case "input":
		formatter.Println(ws.GetInput())
	case "output":
		formatter.Println(ws.GetOutput())
	case "text":
		formatter.Println(ws.GetText())
	case "stats":
		formatter.PrintJSON(ws.GetStats())
	case "diff":
		formatter.PrintDiff(ws.Diff())
	default:
		formatter.PrintError("show requires 'rule', 'input', 'output', 'text', 'stats' or 'diff'")
	}
	return nil
}

func handleSetCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter, rl lineReader) error {
	if cmd.Object != "input" {
		formatter.PrintError("set requires 'input' argument")
		return nil
	}

	var text string
	if len(cmd.Args) > 0 {
		text = processEscapeSequences(strings.Join(cmd.Args, " "))
	} else {
		formatter.PrintInfo("Enter HTML (end with blank line):")
		text = readLines(rl)
	}

	ws.SetInput(text)
	stats := ws.GetStats()
	formatter.PrintSuccess(fmt.Sprintf("Input set, %d matches wrapped", stats.Matches))
	return nil
}

func handleExportCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter) error {
	// export [file]
	rules, err := ws.ExportRules()
	if err != nil {
		formatter.PrintError(err.Error())
		return nil
	}

	if cmd.Object == "" {
		fmt.Fprint(formatter.out, rules)
		return nil
	}

	path := cmd.RawObject
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess("Rules exported to " + path)
	return nil
}

func handleImportCommand(cmd *REPLCommand, ws Commands, formatter *REPLFormatter, rl lineReader) error {
	// import <file> | import (multi-line YAML)
	var data string
	if path := cmd.RawObject; path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			formatter.PrintError(err.Error())
			return nil
		}
		data = string(b)
	} else {
		formatter.PrintInfo("Enter YAML rules (end with blank line):")
		data = readLines(rl)
	}

	if strings.TrimSpace(data) == "" {
		formatter.PrintError("import requires YAML rules")
		return nil
	}

	if err := ws.ImportRules(data); err != nil {
		formatter.PrintError(err.Error())
		return nil
	}
	formatter.PrintSuccess(fmt.Sprintf("Imported %d rules", len(ws.GetRules())))
	return nil
}

// ============================================================================
// Help
// ============================================================================

func showMainHelp(formatter *REPLFormatter) {
	help := `
domwrap REPL - Available Commands
=================================

RULES:
  add rule <pattern> [options]      Add a rule wrapping matches of <pattern>
  update rule <rule_id> [options]   Change options of a rule
  delete rule <rule_id>             Delete a rule
  enable rule <rule_id>             Enable a disabled rule
  disable rule <rule_id>            Keep a rule but skip it
  move up <rule_id>                 Apply a rule earlier
  move down <rule_id>               Apply a rule later

  options: flags <gims>  tag <name>  class <class>  selector <css>
           name <name>  attr <key=value>  pattern <regexp>

QUERIES:
  list rules                        List rules with their match counts
  list flags                        List pattern flags
  show rule <rule_id>               Show a rule as JSON
  show input | output | text        Show the input, the wrapped output or its text
  show stats                        Show statistics of the last run
  show diff                         Show what the rules changed

DOCUMENT:
  set input <html>                  Set the input document (\n is a newline)
  set input                         Enter multi-line input mode
  revert                            Undo the wraps of the last run

RULE FILES:
  export [file]                     Print the rules as YAML or write them to file
  import [file]                     Load rules from file or from multi-line YAML

UTILITIES:
  help [command]                    Show this help or help for a command
  clear                             Clear the screen
  quit, exit                        Exit the REPL

EXAMPLES:
  > set input <p>Hello world, hello moon</p>
  > add rule hello flags gi class greet
  > add rule '(\w+)@(\w+)' tag a attr href=mailto:$0
  > show output
  > list rules
`
	fmt.Fprint(formatter.out, help)
}

func showSpecificHelp(formatter *REPLFormatter, command string) {
	helps := map[string]string{
		"add": `
add rule <pattern> [flags F] [tag T] [class C] [selector S] [name N] [attr k=v]...
  Adds a rule. Matches of <pattern> inside elements matched by the CSS
  selector (default body) are wrapped in <T> (default mark). Attribute
  values may reference the match with $0, $1 or ${name}.

  Examples:
    add rule foo
    add rule 'ba[rz]' flags g tag b class hit
`,
		"update": `
update rule <rule_id> [pattern P] [flags F] [tag T] [class C] [selector S] [name N] [attr k=v]...
  Changes the given options and keeps the others.
`,
		"set": `
set input <html>
  Sets the input document. Escapes like \n and \t are expanded.

set input
  Reads HTML until a blank line.
`,
		"show": `
show rule <rule_id>   Show a rule as JSON
show input            Show the input document
show output           Show the wrapped document body
show text             Show the text content of the output
show stats            Show statistics of the last run
show diff             Show a diff between input and output
`,
		"move": `
move up <rule_id>     Apply a rule earlier
move down <rule_id>   Apply a rule later
`,
		"revert": `
revert
  Undoes every wrap of the last run. The next change runs the rules again.
`,
	}

	if help, ok := helps[command]; ok {
		fmt.Fprintln(formatter.out, help)
	} else {
		fmt.Fprintf(formatter.out, "No help available for '%s'\n", command)
		fmt.Fprintln(formatter.out, "Type 'help' for a list of all commands")
	}
}

// ============================================================================
// Session
// ============================================================================

// REPLSession runs the interactive loop against a workspace, local or remote.
type REPLSession struct {
	ws        Commands
	formatter *REPLFormatter
	banner    string
	history   string
}

// NewREPLSession creates a session. banner describes what the session is
// connected to.
func NewREPLSession(ws Commands, formatter *REPLFormatter, banner string) *REPLSession {
	return &REPLSession{ws: ws, formatter: formatter, banner: banner}
}

// SetHistoryFile makes readline persist history in path.
func (rs *REPLSession) SetHistoryFile(path string) {
	rs.history = path
}

// Run starts the interactive REPL loop.
func (rs *REPLSession) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     rs.history,
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer rl.Close()

	rs.formatter.PrintInfo("domwrap REPL")
	if rs.banner != "" {
		rs.formatter.PrintInfo(rs.banner)
	}
	rs.formatter.PrintInfo("Type 'help' for available commands")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		} else if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			rs.formatter.PrintError(err.Error())
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			rs.formatter.PrintError(err.Error())
			continue
		}

		if err := ExecuteREPLCommand(cmd, rs.ws, rs.formatter, rl); err != nil {
			if errors.Is(err, errExit) {
				break
			}
			rs.formatter.PrintError(err.Error())
		}
	}

	rs.formatter.PrintInfo("Goodbye!")
	return nil
}

func replCompleter() *readline.PrefixCompleter {
	ruleOptions := func() []readline.PrefixCompleterInterface {
		items := make([]readline.PrefixCompleterInterface, 0, len(ruleOptionKeys))
		for _, k := range ruleOptionKeys {
			items = append(items, readline.PcItem(k))
		}
		return items
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("add", readline.PcItem("rule", ruleOptions()...)),
		readline.PcItem("update", readline.PcItem("rule", ruleOptions()...)),
		readline.PcItem("delete", readline.PcItem("rule")),
		readline.PcItem("enable", readline.PcItem("rule")),
		readline.PcItem("disable", readline.PcItem("rule")),
		readline.PcItem("move", readline.PcItem("up"), readline.PcItem("down")),
		readline.PcItem("list", readline.PcItem("rules"), readline.PcItem("flags")),
		readline.PcItem("show",
			readline.PcItem("rule"),
			readline.PcItem("input"),
			readline.PcItem("output"),
			readline.PcItem("text"),
			readline.PcItem("stats"),
			readline.PcItem("diff"),
		),
		readline.PcItem("set", readline.PcItem("input")),
		readline.PcItem("revert"),
		readline.PcItem("export"),
		readline.PcItem("import"),
		readline.PcItem("help"),
		readline.PcItem("clear"),
		readline.PcItem("quit"),
	)
}

// ============================================================================
// Helper functions
// ============================================================================

var replVerbs = []string{
	"add", "update", "delete", "enable", "disable", "move", "list", "show",
	"set", "revert", "export", "import", "help", "clear", "quit", "exit",
}

var ruleOptionKeys = []string{"pattern", "flags", "tag", "class", "selector", "name", "attr"}

// suggestCommands returns the verbs closest to an unknown one.
func suggestCommands(verb string) []string {
	ranks := fuzzy.RankFindFold(verb, replVerbs)
	if len(ranks) == 0 {
		// Also try the other way round, for verbs typed with extra letters.
		for _, v := range replVerbs {
			if fuzzy.MatchFold(v, verb) {
				ranks = append(ranks, fuzzy.Rank{Source: v, Target: v, Distance: len(verb) - len(v)})
			}
		}
	}
	sort.Sort(ranks)

	out := make([]string, 0, 3)
	for _, r := range ranks {
		if len(out) == 3 {
			break
		}
		out = append(out, r.Target)
	}
	return out
}

// applyRuleOptions applies key/value option pairs to rule.
func applyRuleOptions(rule *Rule, args []string) error {
	for i := 0; i < len(args); i += 2 {
		key := strings.ToLower(args[i])
		if i+1 >= len(args) {
			return errors.Errorf("option %s requires a value", key)
		}
		val := args[i+1]

		switch key {
		case "pattern":
			rule.Pattern = val
		case "flags":
			rule.Flags = val
		case "tag":
			rule.Tag = val
		case "class":
			rule.Class = val
		case "selector":
			rule.Selector = val
		case "name":
			rule.Name = val
		case "attr":
			k, v, ok := strings.Cut(val, "=")
			if !ok || k == "" {
				return errors.Errorf("attr must be key=value, got %q", val)
			}
			if rule.Attrs == nil {
				rule.Attrs = map[string]string{}
			}
			rule.Attrs[k] = v
		default:
			return errors.Errorf("unknown option: %s", key)
		}
	}
	return nil
}

// readLines reads lines until a blank line or end of input.
func readLines(rl lineReader) string {
	var lines []string
	rl.SetPrompt("")
	defer rl.SetPrompt(replPrompt)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		} else if err != nil {
			break
		}

		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func ruleStatus(r Rule) string {
	switch {
	case r.Disabled:
		return "disabled"
	case r.LastError != "":
		return "error: " + shortenString(r.LastError, 32)
	default:
		return "ok"
	}
}

func shortenString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
