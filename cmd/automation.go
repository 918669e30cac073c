package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/desertthunder/cuedeck/internal/formatter"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/desertthunder/cuedeck/internal/tasks"
	"github.com/urfave/cli/v3"
)

// readPayload returns the JSON given with --data or read from --file.
func readPayload(cmd *cli.Command) ([]byte, error) {
	data, file := cmd.String("data"), cmd.String("file")
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("%w: use either --data or --file", shared.ErrInvalidArgument)
	case data != "":
		return []byte(data), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: --data or --file is required", shared.ErrMissingArgument)
	}
}

// productionAndID returns the production argument and the named id argument.
func productionAndID(cmd *cli.Command, name string) (string, string, error) {
	productionID, err := requireArg(cmd, "production")
	if err != nil {
		return "", "", err
	}
	id, err := requireArg(cmd, name)
	if err != nil {
		return "", "", err
	}
	return productionID, id, nil
}

func (r *Runner) automation() (*services.AutomationService, error) {
	gw, _, err := r.session()
	if err != nil {
		return nil, err
	}
	return services.NewAutomationService(gw), nil
}

// RulesList prints the rules of a production.
func (r *Runner) RulesList(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	svc, err := r.automation()
	if err != nil {
		return err
	}

	rules, err := svc.ListRules(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(rules, true)
	}

	r.writePlainHeader(fmt.Sprintf("Rules (%d)", len(rules)))
	for _, rule := range rules {
		state := "off"
		if rule.Enabled {
			state = "on"
		}
		r.writePlain("  %-36s %-3s %s (%s, %d actions)\n", rule.ID, state, rule.Name, rule.Trigger.Type, len(rule.Actions))
	}
	return nil
}

// RulesCreate creates a rule from a JSON document.
func (r *Runner) RulesCreate(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	data, err := readPayload(cmd)
	if err != nil {
		return err
	}

	var rule models.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("%w: rule is not valid JSON: %v", shared.ErrInvalidInput, err)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: rule name is required", shared.ErrInvalidInput)
	}

	svc, err := r.automation()
	if err != nil {
		return err
	}
	created, err := svc.CreateRule(ctx, id, rule)
	if err != nil {
		return err
	}
	return r.writePlain("✓ created rule %s (%s)\n", created.Name, created.ID)
}

// RulesToggle flips a rule's enabled flag. The local list shows the new state until the backend
// answers and reverts if the update fails.
func (r *Runner) RulesToggle(ctx context.Context, cmd *cli.Command) error {
	productionID, ruleID, err := productionAndID(cmd, "rule")
	if err != nil {
		return err
	}
	svc, err := r.automation()
	if err != nil {
		return err
	}

	rules, err := svc.ListRules(ctx, productionID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(rules, func(rule models.Rule) bool { return rule.ID == ruleID })
	if idx < 0 {
		return fmt.Errorf("%w: rule %s not found", shared.ErrInvalidArgument, ruleID)
	}

	list := services.NewOptimisticList(rules)
	updated, err := list.Apply(ctx,
		func(current []models.Rule) []models.Rule {
			current[idx].Enabled = !current[idx].Enabled
			return current
		},
		func(ctx context.Context) ([]models.Rule, error) {
			want := list.Get()[idx]
			confirmed, err := svc.UpdateRule(ctx, productionID, want)
			if err != nil {
				return nil, err
			}
			next := list.Get()
			next[idx] = *confirmed
			return next, nil
		},
	)
	if err != nil {
		return err
	}

	state := "disabled"
	if updated[idx].Enabled {
		state = "enabled"
	}
	return r.writePlain("✓ rule %s %s\n", updated[idx].Name, state)
}

// RulesDelete deletes a rule.
func (r *Runner) RulesDelete(ctx context.Context, cmd *cli.Command) error {
	productionID, ruleID, err := productionAndID(cmd, "rule")
	if err != nil {
		return err
	}
	svc, err := r.automation()
	if err != nil {
		return err
	}
	if err := svc.DeleteRule(ctx, productionID, ruleID); err != nil {
		return err
	}
	return r.writePlain("✓ deleted rule %s\n", ruleID)
}

// RulesTrigger runs rules and follows each execution to a terminal status.
func (r *Runner) RulesTrigger(ctx context.Context, cmd *cli.Command) error {
	productionID, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	ruleIDs := cmd.StringArgs("rules")
	if len(ruleIDs) == 0 {
		return fmt.Errorf("%w: at least one rule id is required", shared.ErrMissingArgument)
	}

	svc, err := r.automation()
	if err != nil {
		return err
	}
	runner, err := tasks.NewAutomationRunner(tasks.RunnerOptions{
		Client:       svc,
		PollInterval: shared.Millis(r.config.Automation.PollIntervalMS, 0),
		Timeout:      shared.Millis(r.config.Automation.PollTimeoutMS, 0),
		Logger:       r.logger,
	})
	if err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			if update.Phase == tasks.PollExecution {
				r.logger.Debug(update.Message)
				continue
			}
			r.writePlain("%s\n", update.Message)
		}
	}()

	results := runner.RunMany(ctx, progress, productionID, ruleIDs)
	close(progress)
	<-done

	var failed int
	for _, res := range results {
		if res.Err != nil || res.Status != models.ExecutionSuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d executions did not succeed", shared.ErrAPIRequest, failed, len(results))
	}
	return nil
}

// AutomationLogs prints or exports the execution log.
func (r *Runner) AutomationLogs(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	svc, err := r.automation()
	if err != nil {
		return err
	}

	logs, err := svc.ExecutionLogs(ctx, id, cmd.String("rule"))
	if err != nil {
		return err
	}

	if cmd.IsSet("csv") {
		data, err := formatter.LogsToCSV(logs)
		if err != nil {
			return err
		}
		path := cmd.String("csv")
		if path == "" || path == "-" {
			_, err = r.output.Write(data)
			return err
		}
		if err := formatter.WriteFile(path, data); err != nil {
			return err
		}
		r.logger.Info("wrote execution log", "path", path, "entries", len(logs))
		return nil
	}
	if cmd.Bool("json") {
		return r.writeJSON(logs, true)
	}
	return r.writePlain("%s", r.format.Logs(logs))
}
