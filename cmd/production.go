package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/cuedeck/internal/intercom"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/presence"
	"github.com/desertthunder/cuedeck/internal/production"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/server"
	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

const ackTimeout = 10 * time.Second

// requireArg returns the named positional argument or a missing-argument error.
func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.StringArg(name))
	if v == "" {
		return "", fmt.Errorf("%w: <%s> is required", shared.ErrMissingArgument, name)
	}
	return v, nil
}

// parseParams turns key=value pairs into a parameter map. Numbers and booleans keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", shared.ErrInvalidArgument, pair)
		}
		if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else if n, err := strconv.ParseFloat(value, 64); err == nil {
			params[key] = n
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func engineCommand(cmd *cli.Command) (models.EngineCommand, error) {
	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return models.EngineCommand{}, err
	}
	c := models.EngineCommand{
		Engine: models.EngineKind(strings.ToLower(cmd.String("engine"))),
		Action: cmd.String("action"),
		Params: params,
	}
	if !c.Engine.Valid() {
		return c, fmt.Errorf("%w: unknown engine %q", shared.ErrInvalidArgument, c.Engine)
	}
	return c, nil
}

// liveProduction is the set of components following one production over the event channel.
type liveProduction struct {
	channel    *realtime.Manager
	aggregator *production.Aggregator
	tracker    *presence.Tracker
}

func (l *liveProduction) Close() {
	l.tracker.Close()
	l.aggregator.Close()
	l.channel.Close()
}

// follow connects the event channel and starts tracking state and presence for productionID.
func (r *Runner) follow(ctx context.Context, productionID string) (*liveProduction, error) {
	gw, _, err := r.session()
	if err != nil {
		return nil, err
	}

	m, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	agg := production.New(production.Options{
		Backend:  services.NewProductionService(gw),
		Channel:  m,
		Mappings: services.NewHardwareService(gw),
		Logger:   r.logger,
	})
	tracker := presence.New(presence.Options{Channel: m, Logger: r.logger})
	live := &liveProduction{channel: m, aggregator: agg, tracker: tracker}

	if err := tracker.Track(productionID); err != nil {
		live.Close()
		return nil, err
	}
	if err := agg.Watch(ctx, productionID); err != nil {
		live.Close()
		return nil, err
	}
	return live, nil
}

// ProductionState prints the snapshot of a production.
func (r *Runner) ProductionState(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	state, err := services.NewProductionService(gw).State(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(state, true)
	}
	return r.writePlain("%s", r.format.State(*state))
}

// ProductionWatch prints every state change until interrupted.
func (r *Runner) ProductionWatch(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	live, err := r.follow(ctx, id)
	if err != nil {
		return err
	}
	defer live.Close()

	if cmd.Bool("listen") {
		router := server.NewBasicRouter()
		router.Use(server.Recover(r.logger), server.Logging(r.logger))
		status := server.NewStatusHandler(live.aggregator, live.tracker)
		if user, err := r.user(ctx); err == nil {
			c, err := intercom.New(intercom.Options{
				ProductionID:    id,
				User:            user,
				Channel:         live.channel,
				Roster:          live.tracker,
				AckHistoryLimit: r.config.Intercom.AckHistoryLimit,
				Logger:          r.logger,
			})
			if err != nil {
				return err
			}
			defer c.Close()
			status.AddIntercom(c)
		} else {
			r.logger.Warn("intercom status unavailable", "error", err)
		}
		router.Handler(status)

		go func() {
			if err := server.Serve(ctx, r.config.Server.Addr(), router, r.logger); err != nil {
				r.logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	emit := func(state models.ProductionState) error {
		if cmd.Bool("json") {
			return r.writeJSON(state, false)
		}
		return r.writePlain("%s\n", r.format.State(state))
	}

	if state, ok := live.aggregator.Get(id); ok {
		if err := emit(state); err != nil {
			return err
		}
	}

	updates := live.aggregator.Updates(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-updates:
			if !ok {
				return nil
			}
			if err := emit(state); err != nil {
				return err
			}
		}
	}
}

// ProductionCommand sends an engine command through the backend.
func (r *Runner) ProductionCommand(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	c, err := engineCommand(cmd)
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	if err := services.NewProductionService(gw).SendCommand(ctx, id, c); err != nil {
		return err
	}
	return r.writePlain("✓ %s %s sent\n", c.Engine, c.Action)
}

// ProductionTrigger resolves a hardware input and waits for the backend's acknowledgment.
func (r *Runner) ProductionTrigger(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	live, err := r.follow(ctx, id)
	if err != nil {
		return err
	}
	defer live.Close()

	commandID, err := live.aggregator.HardwareTrigger(ctx, id, models.HardwareTrigger{
		DeviceType: cmd.String("device"),
		Input:      cmd.String("input"),
	})
	if err != nil {
		return err
	}

	ack, err := awaitAck(ctx, live.aggregator, id, commandID, ackTimeout)
	if err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("%w: command %s failed: %s", shared.ErrAPIRequest, commandID, ack.Error)
	}
	return r.writePlain("✓ command %s acknowledged\n", commandID)
}

// awaitAck polls the aggregator's acknowledgment list for commandID.
func awaitAck(ctx context.Context, agg *production.Aggregator, productionID, commandID string, timeout time.Duration) (models.CommandAck, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, ack := range agg.Acks(productionID) {
			if ack.CommandID == commandID {
				return ack, nil
			}
		}

		select {
		case <-ctx.Done():
			return models.CommandAck{}, ctx.Err()
		case <-deadline.C:
			return models.CommandAck{}, fmt.Errorf("%w: no acknowledgment for %s", shared.ErrTimeout, commandID)
		case <-ticker.C:
		}
	}
}
