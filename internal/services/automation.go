package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/desertthunder/cuedeck/internal/models"
)

// AutomationService manages automation rules. Rule evaluation happens on the backend; this client only
// edits rules, triggers them and reads the execution log.
type AutomationService struct {
	api Requester
}

func NewAutomationService(api Requester) *AutomationService {
	return &AutomationService{api: api}
}

// TriggerResult identifies a manually triggered execution.
type TriggerResult struct {
	ExecutionID string `json:"executionId"`
}

func (s *AutomationService) ListRules(ctx context.Context, productionID string) ([]models.Rule, error) {
	var rules []models.Rule
	if err := s.api.Get(ctx, productionPath(productionID, "automation", "rules"), &rules); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (s *AutomationService) CreateRule(ctx context.Context, productionID string, rule models.Rule) (*models.Rule, error) {
	var created models.Rule
	if err := s.api.Post(ctx, productionPath(productionID, "automation", "rules"), rule, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *AutomationService) UpdateRule(ctx context.Context, productionID string, rule models.Rule) (*models.Rule, error) {
	if err := requireID("rule", rule.ID); err != nil {
		return nil, err
	}

	var updated models.Rule
	if err := s.api.Put(ctx, productionPath(productionID, "automation", "rules", escape(rule.ID)), rule, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *AutomationService) DeleteRule(ctx context.Context, productionID, ruleID string) error {
	if err := requireID("rule", ruleID); err != nil {
		return err
	}
	return s.api.Delete(ctx, productionPath(productionID, "automation", "rules", escape(ruleID)), nil)
}

// TriggerRule runs a rule now and returns the execution to follow in the log.
func (s *AutomationService) TriggerRule(ctx context.Context, productionID, ruleID string) (string, error) {
	if err := requireID("rule", ruleID); err != nil {
		return "", err
	}

	var result TriggerResult
	if err := s.api.Post(ctx, productionPath(productionID, "automation", "rules", escape(ruleID), "trigger"), nil, &result); err != nil {
		return "", err
	}
	return result.ExecutionID, nil
}

// ExecutionLogs returns the execution log of a production, narrowed to ruleID when set.
func (s *AutomationService) ExecutionLogs(ctx context.Context, productionID, ruleID string) ([]models.ExecutionLog, error) {
	path := productionPath(productionID, "automation", "logs")
	if ruleID != "" {
		path += "?" + url.Values{"ruleId": {ruleID}}.Encode()
	}

	var logs []models.ExecutionLog
	if err := s.api.Get(ctx, path, &logs); err != nil {
		return nil, fmt.Errorf("failed to fetch execution logs: %w", err)
	}
	return logs, nil
}
