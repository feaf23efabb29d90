package main

import (
	"encoding/json"
)

// Command is a JSON request sent by scripts and agents.
type Command struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// Response is the JSON reply to a Command.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ExecuteCommand executes a JSON command and returns a JSON response.
func (w *Workspace) ExecuteCommand(cmdJSON string) string {
	var cmd Command
	if err := json.Unmarshal([]byte(cmdJSON), &cmd); err != nil {
		return errorResponse("Invalid JSON: " + err.Error())
	}

	switch cmd.Action {
	case "add_rule":
		return w.cmdAddRule(cmd.Params)
	case "update_rule":
		return w.cmdUpdateRule(cmd.Params)
	case "delete_rule":
		return w.cmdDeleteRule(cmd.Params)
	case "enable_rule":
		return w.cmdSetRuleDisabled(cmd.Params, false)
	case "disable_rule":
		return w.cmdSetRuleDisabled(cmd.Params, true)
	case "move_rule_up":
		return w.cmdMoveRule(cmd.Params, w.MoveRuleUp)
	case "move_rule_down":
		return w.cmdMoveRule(cmd.Params, w.MoveRuleDown)
	case "can_move_rule_up":
		return w.cmdCanMoveRule(cmd.Params, "can_move_up", w.CanMoveRuleUp)
	case "can_move_rule_down":
		return w.cmdCanMoveRule(cmd.Params, "can_move_down", w.CanMoveRuleDown)
	case "get_rule":
		return w.cmdGetRule(cmd.Params)
	case "list_rules":
		return successResponse(map[string]interface{}{"rules": w.GetRules()})
	case "set_input":
		return w.cmdSetInput(cmd.Params)
	case "get_input":
		return successResponse(map[string]interface{}{"text": w.GetInput()})
	case "get_output":
		return successResponse(map[string]interface{}{"text": w.GetOutput()})
	case "get_text":
		return successResponse(map[string]interface{}{"text": w.GetText()})
	case "get_stats":
		return successResponse(map[string]interface{}{"stats": w.GetStats()})
	case "revert":
		return w.cmdRevert()
	case "diff":
		return successResponse(map[string]interface{}{"diff": w.Diff()})
	case "export_rules":
		return w.cmdExportRules()
	case "import_rules":
		return w.cmdImportRules(cmd.Params)
	case "list_flags":
		return successResponse(map[string]interface{}{"flags": GetFlags()})
	default:
		return errorResponse("Unknown action: " + cmd.Action)
	}
}

// ============================================================================
// Command Handlers
// ============================================================================

func (w *Workspace) cmdAddRule(params map[string]interface{}) string {
	rule, err := ruleFromParams(params)
	if err != nil {
		return errorResponse(err.Error())
	}
	if rule.Pattern == "" {
		return errorResponse("Missing required parameter: pattern")
	}

	ruleID, err := w.AddRule(rule)
	if err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"rule_id": ruleID,
	})
}

func (w *Workspace) cmdUpdateRule(params map[string]interface{}) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	rule, err := ruleFromParams(params)
	if err != nil {
		return errorResponse(err.Error())
	}
	if err := w.UpdateRule(ruleID, rule); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
	})
}

func (w *Workspace) cmdDeleteRule(params map[string]interface{}) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	if err := w.DeleteRule(ruleID); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
	})
}

func (w *Workspace) cmdSetRuleDisabled(params map[string]interface{}, disabled bool) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	if err := w.SetRuleDisabled(ruleID, disabled); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
	})
}

func (w *Workspace) cmdMoveRule(params map[string]interface{}, move func(string) error) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	if err := move(ruleID); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
	})
}

func (w *Workspace) cmdCanMoveRule(params map[string]interface{}, key string, can func(string) bool) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	return successResponse(map[string]interface{}{
		key: can(ruleID),
	})
}

func (w *Workspace) cmdGetRule(params map[string]interface{}) string {
	ruleID := getStr(params, "rule_id", "")
	if ruleID == "" {
		return errorResponse("Missing required parameter: rule_id")
	}

	rule := w.GetRule(ruleID)
	if rule == nil {
		return errorResponse("Rule not found: " + ruleID)
	}
	return successResponse(map[string]interface{}{
		"rule": rule,
	})
}

func (w *Workspace) cmdSetInput(params map[string]interface{}) string {
	text, ok := params["text"].(string)
	if !ok {
		return errorResponse("Missing required parameter: text")
	}

	w.SetInput(text)
	return successResponse(map[string]interface{}{
		"success": true,
		"output":  w.GetOutput(),
	})
}

func (w *Workspace) cmdRevert() string {
	if err := w.Revert(); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
		"output":  w.GetOutput(),
	})
}

func (w *Workspace) cmdExportRules() string {
	rules, err := w.ExportRules()
	if err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"rules": rules,
	})
}

func (w *Workspace) cmdImportRules(params map[string]interface{}) string {
	rules := getStr(params, "rules", "")
	if rules == "" {
		return errorResponse("Missing required parameter: rules")
	}

	if err := w.ImportRules(rules); err != nil {
		return errorResponse(err.Error())
	}
	return successResponse(map[string]interface{}{
		"success": true,
		"count":   len(w.rules),
	})
}

// ============================================================================
// Helper Functions
// ============================================================================

// getStr safely extracts a string parameter, with a default value
func getStr(params map[string]interface{}, key, defaultValue string) string {
	if val, ok := params[key]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return defaultValue
}

// ruleFromParams decodes the rule fields of a command's params.
func ruleFromParams(params map[string]interface{}) (Rule, error) {
	var rule Rule
	data, err := json.Marshal(params)
	if err != nil {
		return rule, err
	}
	if err := json.Unmarshal(data, &rule); err != nil {
		return rule, err
	}
	rule.ID = ""
	rule.Matches = 0
	rule.LastError = ""
	return rule, nil
}

func successResponse(result interface{}) string {
	data, _ := json.Marshal(Response{
		Success: true,
		Result:  result,
	})
	return string(data)
}

func errorResponse(errorMsg string) string {
	data, _ := json.Marshal(Response{
		Success: false,
		Error:   errorMsg,
	})
	return string(data)
}
