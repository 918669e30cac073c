package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

// MappingsList prints the hardware mappings of a production.
func (r *Runner) MappingsList(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	mappings, err := services.NewHardwareService(gw).ListMappings(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(mappings, true)
	}

	r.writePlainHeader(fmt.Sprintf("Mappings (%d)", len(mappings)))
	for _, m := range mappings {
		label := m.Label
		if label == "" {
			label = m.Input
		}
		r.writePlain("  %-6s %-16s → %s %s  [%s]\n", m.DeviceType, label, m.Command.Engine, m.Command.Action, m.ID)
	}
	return nil
}

// MappingsCreate binds a device input to an engine command.
func (r *Runner) MappingsCreate(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	command, err := engineCommand(cmd)
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	created, err := services.NewHardwareService(gw).CreateMapping(ctx, id, models.HardwareMapping{
		DeviceType: cmd.String("device"),
		Input:      cmd.String("input"),
		Label:      cmd.String("label"),
		Command:    command,
	})
	if err != nil {
		return err
	}
	return r.writePlain("✓ mapped %s %s → %s %s (%s)\n", created.DeviceType, created.Input, command.Engine, command.Action, created.ID)
}

// MappingsDelete removes a hardware mapping.
func (r *Runner) MappingsDelete(ctx context.Context, cmd *cli.Command) error {
	productionID, mappingID, err := productionAndID(cmd, "mapping")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}
	if err := services.NewHardwareService(gw).DeleteMapping(ctx, productionID, mappingID); err != nil {
		return err
	}
	return r.writePlain("✓ deleted mapping %s\n", mappingID)
}

// WebhooksList prints the webhooks of a production.
func (r *Runner) WebhooksList(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	hooks, err := services.NewWebhookService(gw).List(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(hooks, true)
	}

	r.writePlainHeader(fmt.Sprintf("Webhooks (%d)", len(hooks)))
	for _, h := range hooks {
		state := "off"
		if h.Enabled {
			state = "on"
		}
		r.writePlain("  %-3s %s %s [%s]\n", state, h.Name, h.URL, strings.Join(h.Events, ","))
	}
	return nil
}

// WebhooksCreate registers a webhook.
func (r *Runner) WebhooksCreate(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	created, err := services.NewWebhookService(gw).Create(ctx, id, models.Webhook{
		Name:    cmd.String("name"),
		URL:     cmd.String("url"),
		Events:  cmd.StringSlice("event"),
		Enabled: true,
	})
	if err != nil {
		return err
	}
	return r.writePlain("✓ created webhook %s (%s)\n", created.Name, created.ID)
}

// WebhooksDelete removes a webhook.
func (r *Runner) WebhooksDelete(ctx context.Context, cmd *cli.Command) error {
	productionID, webhookID, err := productionAndID(cmd, "webhook")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}
	if err := services.NewWebhookService(gw).Delete(ctx, productionID, webhookID); err != nil {
		return err
	}
	return r.writePlain("✓ deleted webhook %s\n", webhookID)
}

// WebhooksTest asks the backend for a sample delivery.
func (r *Runner) WebhooksTest(ctx context.Context, cmd *cli.Command) error {
	productionID, webhookID, err := productionAndID(cmd, "webhook")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	result, err := services.NewWebhookService(gw).Test(ctx, productionID, webhookID)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: delivery failed (status %d): %s", shared.ErrAPIRequest, result.StatusCode, result.Message)
	}
	return r.writePlain("✓ delivered (status %d)\n", result.StatusCode)
}

// SocialList prints audience messages.
func (r *Runner) SocialList(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	messages, err := services.NewSocialService(gw).List(ctx, id, cmd.String("status"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(messages, true)
	}
	for _, m := range messages {
		r.writePlain("  %-8s %-10s %s: %s  [%s]\n", m.Status, m.Platform, m.Author, m.Content, m.ID)
	}
	return nil
}

// SocialModerate approves, shows or hides a message depending on the invoked subcommand.
func (r *Runner) SocialModerate(ctx context.Context, cmd *cli.Command) error {
	productionID, messageID, err := productionAndID(cmd, "message")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}
	svc := services.NewSocialService(gw)

	var msg *models.SocialMessage
	switch cmd.Name {
	case "approve":
		msg, err = svc.Approve(ctx, productionID, messageID)
	case "show":
		msg, err = svc.Show(ctx, productionID, messageID)
	case "hide":
		msg, err = svc.Hide(ctx, productionID, messageID)
	default:
		return fmt.Errorf("%w: unknown moderation action %q", shared.ErrInvalidArgument, cmd.Name)
	}
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s is now %s\n", msg.ID, msg.Status)
}
