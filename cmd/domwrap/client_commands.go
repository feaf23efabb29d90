package main

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// RemoteCommands implements Commands by sending each call to a socket
// server. Getters cannot return errors, so their failures are logged.
type RemoteCommands struct {
	client *SocketClient
	logger zerolog.Logger
}

// NewRemoteCommands wraps a connected socket client.
func NewRemoteCommands(client *SocketClient, logger zerolog.Logger) *RemoteCommands {
	return &RemoteCommands{client: client, logger: logger}
}

// call executes action and decodes the result into out, which may be nil.
func (s *RemoteCommands) call(action string, params map[string]interface{}, out interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	cmdJSON, err := json.Marshal(Command{Action: action, Params: params})
	if err != nil {
		return errors.WithStack(err)
	}

	resp, err := s.client.Execute(string(cmdJSON))
	if err != nil {
		return errors.Errorf("socket error: %w", err)
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	if out == nil {
		return nil
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Errorf("decoding %s result: %w", action, err)
	}
	return nil
}

func (s *RemoteCommands) logFailure(action string, err error) {
	s.logger.Error().Err(err).Str("action", action).Msg("remote command failed")
}

// ruleParams flattens a rule into command params.
func ruleParams(ruleID string, rule Rule) map[string]interface{} {
	params := map[string]interface{}{}
	data, _ := json.Marshal(rule)
	_ = json.Unmarshal(data, &params)
	delete(params, "id")
	delete(params, "matches")
	delete(params, "last_error")
	if ruleID != "" {
		params["rule_id"] = ruleID
	}
	return params
}

// ============================================================================
// Rule Management Methods
// ============================================================================

func (s *RemoteCommands) AddRule(rule Rule) (string, error) {
	var result struct {
		RuleID string `json:"rule_id"`
	}
	if err := s.call("add_rule", ruleParams("", rule), &result); err != nil {
		return "", err
	}
	return result.RuleID, nil
}

func (s *RemoteCommands) UpdateRule(ruleID string, rule Rule) error {
	return s.call("update_rule", ruleParams(ruleID, rule), nil)
}

func (s *RemoteCommands) DeleteRule(ruleID string) error {
	return s.call("delete_rule", map[string]interface{}{"rule_id": ruleID}, nil)
}

func (s *RemoteCommands) SetRuleDisabled(ruleID string, disabled bool) error {
	action := "enable_rule"
	if disabled {
		action = "disable_rule"
	}
	return s.call(action, map[string]interface{}{"rule_id": ruleID}, nil)
}

func (s *RemoteCommands) MoveRuleUp(ruleID string) error {
	return s.call("move_rule_up", map[string]interface{}{"rule_id": ruleID}, nil)
}

func (s *RemoteCommands) MoveRuleDown(ruleID string) error {
	return s.call("move_rule_down", map[string]interface{}{"rule_id": ruleID}, nil)
}

func (s *RemoteCommands) CanMoveRuleUp(ruleID string) bool {
	var result struct {
		CanMoveUp bool `json:"can_move_up"`
	}
	if err := s.call("can_move_rule_up", map[string]interface{}{"rule_id": ruleID}, &result); err != nil {
		s.logFailure("can_move_rule_up", err)
		return false
	}
	return result.CanMoveUp
}

func (s *RemoteCommands) CanMoveRuleDown(ruleID string) bool {
	var result struct {
		CanMoveDown bool `json:"can_move_down"`
	}
	if err := s.call("can_move_rule_down", map[string]interface{}{"rule_id": ruleID}, &result); err != nil {
		s.logFailure("can_move_rule_down", err)
		return false
	}
	return result.CanMoveDown
}

// ============================================================================
// Document Methods
// ============================================================================

func (s *RemoteCommands) SetInput(text string) {
	if err := s.call("set_input", map[string]interface{}{"text": text}, nil); err != nil {
		s.logFailure("set_input", err)
	}
}

func (s *RemoteCommands) getText(action string) string {
	var result struct {
		Text string `json:"text"`
	}
	if err := s.call(action, nil, &result); err != nil {
		s.logFailure(action, err)
		return ""
	}
	return result.Text
}

func (s *RemoteCommands) GetInput() string {
	return s.getText("get_input")
}

func (s *RemoteCommands) GetOutput() string {
	return s.getText("get_output")
}

func (s *RemoteCommands) GetText() string {
	return s.getText("get_text")
}

func (s *RemoteCommands) GetStats() Stats {
	var result struct {
		Stats Stats `json:"stats"`
	}
	if err := s.call("get_stats", nil, &result); err != nil {
		s.logFailure("get_stats", err)
	}
	return result.Stats
}

func (s *RemoteCommands) Revert() error {
	return s.call("revert", nil, nil)
}

func (s *RemoteCommands) Diff() string {
	var result struct {
		Diff string `json:"diff"`
	}
	if err := s.call("diff", nil, &result); err != nil {
		s.logFailure("diff", err)
	}
	return result.Diff
}

// ============================================================================
// Query and Import/Export Methods
// ============================================================================

func (s *RemoteCommands) GetRule(ruleID string) *Rule {
	var result struct {
		Rule *Rule `json:"rule"`
	}
	if err := s.call("get_rule", map[string]interface{}{"rule_id": ruleID}, &result); err != nil {
		s.logger.Debug().Err(err).Str("rule", ruleID).Msg("get rule")
		return nil
	}
	return result.Rule
}

func (s *RemoteCommands) GetRules() []Rule {
	var result struct {
		Rules []Rule `json:"rules"`
	}
	if err := s.call("list_rules", nil, &result); err != nil {
		s.logFailure("list_rules", err)
		return []Rule{}
	}
	return result.Rules
}

func (s *RemoteCommands) ExportRules() (string, error) {
	var result struct {
		Rules string `json:"rules"`
	}
	if err := s.call("export_rules", nil, &result); err != nil {
		return "", err
	}
	return result.Rules, nil
}

func (s *RemoteCommands) ImportRules(yamlStr string) error {
	return s.call("import_rules", map[string]interface{}{"rules": yamlStr}, nil)
}
