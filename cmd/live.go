package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/cuedeck/internal/chat"
	"github.com/desertthunder/cuedeck/internal/formatter"
	"github.com/desertthunder/cuedeck/internal/intercom"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/presence"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

// room is an event channel joined to one production with its presence roster tracked.
type room struct {
	channel *realtime.Manager
	tracker *presence.Tracker
}

func (rm *room) Close() {
	rm.tracker.Close()
	rm.channel.Close()
}

func (r *Runner) join(ctx context.Context, productionID string) (*room, error) {
	m, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	tracker := presence.New(presence.Options{Channel: m, Logger: r.logger})
	if err := tracker.Track(productionID); err != nil {
		tracker.Close()
		m.Close()
		return nil, err
	}
	return &room{channel: m, tracker: tracker}, nil
}

// waitSynced blocks until the roster of productionID has been received or wait elapses.
func waitSynced(ctx context.Context, tracker *presence.Tracker, productionID string, wait time.Duration) bool {
	synced := make(chan struct{}, 1)
	unsub := tracker.OnChange(func(id string, _ []models.PresenceMember) {
		if id == productionID {
			select {
			case synced <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if tracker.Synced(productionID) {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-synced:
		return true
	case <-ctx.Done():
	case <-timer.C:
	}
	return tracker.Synced(productionID)
}

// Presence prints the roster of a production.
func (r *Runner) Presence(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	rm, err := r.join(ctx, id)
	if err != nil {
		return err
	}
	defer rm.Close()

	synced := waitSynced(ctx, rm.tracker, id, cmd.Duration("wait"))
	if !synced {
		r.logger.Warn("roster not received yet", "production", id)
	}
	members := rm.tracker.Members(id)

	switch {
	case cmd.Bool("csv"):
		data, err := formatter.RosterToCSV(members)
		if err != nil {
			return err
		}
		_, err = r.output.Write(data)
		return err
	case cmd.Bool("json"):
		return r.writeJSON(members, true)
	default:
		return r.writePlain("%s", r.format.Roster(members, synced))
	}
}

// coordinator connects and returns a coordinator for productionID acting as the signed-in user.
func (r *Runner) coordinator(ctx context.Context, productionID string) (*room, *intercom.Coordinator, error) {
	user, err := r.user(ctx)
	if err != nil {
		return nil, nil, err
	}

	rm, err := r.join(ctx, productionID)
	if err != nil {
		return nil, nil, err
	}

	c, err := intercom.New(intercom.Options{
		ProductionID:    productionID,
		User:            user,
		Channel:         rm.channel,
		Roster:          rm.tracker,
		AckHistoryLimit: r.config.Intercom.AckHistoryLimit,
		Logger:          r.logger,
	})
	if err != nil {
		rm.Close()
		return nil, nil, err
	}
	return rm, c, nil
}

// IntercomTalk holds a broadcast or private floor.
func (r *Runner) IntercomTalk(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	rm, c, err := r.coordinator(ctx, id)
	if err != nil {
		return err
	}
	defer rm.Close()
	defer c.Close()

	target := strings.TrimSpace(cmd.String("to"))
	if target != "" {
		waitSynced(ctx, rm.tracker, id, defaultConnectTimeout)
		err = c.StartPrivate(target)
	} else {
		err = c.StartBroadcast()
	}
	if err != nil {
		return err
	}
	defer c.Stop()

	r.writePlain("● %s on %s, press Ctrl+C to release\n", c.Talk().State, id)

	var timeout <-chan time.Time
	if d := cmd.Duration("duration"); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
	case <-timeout:
	}
	return r.writePlain("○ floor released\n")
}

// IntercomAlert dispatches an alert and prints acknowledgments as they arrive.
func (r *Runner) IntercomAlert(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	rm, c, err := r.coordinator(ctx, id)
	if err != nil {
		return err
	}
	defer rm.Close()
	defer c.Close()

	target := strings.TrimSpace(cmd.String("to"))
	if target != "" {
		waitSynced(ctx, rm.tracker, id, defaultConnectTimeout)
	}

	acks := make(chan models.AckRecord, 16)
	unsub := c.OnAck(func(ack models.AckRecord) {
		select {
		case acks <- ack:
		default:
		}
	})
	defer unsub()

	alert, err := c.DispatchAlert(cmd.String("message"), cmd.String("color"), target)
	if err != nil {
		return err
	}
	r.writePlain("%s", r.format.Alert(alert, nil))

	timer := time.NewTimer(cmd.Duration("wait"))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return nil
		case ack := <-acks:
			if ack.AlertID != alert.ID {
				continue
			}
			r.writePlain("%s", r.format.Alert(alert, &ack))
			if target != "" {
				return nil
			}
		}
	}
}

// IntercomListen prints incoming alerts, acknowledgments and floor changes until interrupted.
func (r *Runner) IntercomListen(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}

	var respond models.AckKind
	if s := cmd.String("respond"); s != "" {
		if respond, err = models.ParseAckKind(s); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
	}

	rm, c, err := r.coordinator(ctx, id)
	if err != nil {
		return err
	}
	defer rm.Close()
	defer c.Close()

	events := subscribeIntercom(c)
	defer events.Close()

	r.writePlain("Listening on %s, press Ctrl+C to stop\n", id)
	return r.relayIntercom(ctx, c, events, respond)
}

// intercomEvents carries coordinator events off the channel's reader goroutine. Full buffers drop.
type intercomEvents struct {
	alerts chan models.Alert
	acks   chan models.AckRecord
	talks  chan intercom.TalkStatus
	unsubs []func()
}

func subscribeIntercom(c *intercom.Coordinator) *intercomEvents {
	e := &intercomEvents{
		alerts: make(chan models.Alert, 16),
		acks:   make(chan models.AckRecord, 16),
		talks:  make(chan intercom.TalkStatus, 16),
	}
	e.unsubs = append(e.unsubs,
		c.OnAlert(func(a *models.Alert) {
			if a != nil {
				forward(e.alerts, *a)
			}
		}),
		c.OnAck(func(ack models.AckRecord) { forward(e.acks, ack) }),
		c.OnTalkChange(func(s intercom.TalkStatus) { forward(e.talks, s) }),
	)
	return e
}

func (e *intercomEvents) Close() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
}

func forward[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// relayIntercom prints events until ctx is done. It is the only writer while it runs.
func (r *Runner) relayIntercom(ctx context.Context, c *intercom.Coordinator, events *intercomEvents, respond models.AckKind) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert := <-events.alerts:
			r.writePlain("%s", r.format.Alert(alert, nil))
			if respond == "" {
				continue
			}
			if err := c.Acknowledge(respond, ""); err != nil {
				r.logger.Warn("failed to acknowledge alert", "alert", alert.ID, "error", err)
			}
		case ack := <-events.acks:
			r.writePlain("  ↳ %s: %s\n", ack.UserName, ack.Message)
		case s := <-events.talks:
			for _, session := range s.Incoming {
				r.writePlain("● private floor from %s\n", session.SenderUserID)
			}
			for _, session := range s.Listening {
				r.writePlain("● broadcast from %s\n", session.SenderUserID)
			}
		}
	}
}

// ChatHistory prints recent messages fetched over HTTP.
func (r *Runner) ChatHistory(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	messages, err := services.NewChatService(gw).ChatHistory(ctx, id, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(messages, true)
	}
	for _, m := range messages {
		r.writePlain("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.UserName, m.Message)
	}
	return nil
}

// ChatSend posts a message over the event channel.
func (r *Runner) ChatSend(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "production")
	if err != nil {
		return err
	}
	text, err := requireArg(cmd, "message")
	if err != nil {
		return err
	}
	user, err := r.user(ctx)
	if err != nil {
		return err
	}

	m, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Join(id); err != nil {
		return err
	}

	s, err := chat.New(chat.Options{
		ProductionID:   id,
		User:           user,
		Channel:        m,
		TypingIdle:     shared.Millis(r.config.Chat.TypingIdleMS, 0),
		TypingThrottle: shared.Millis(r.config.Chat.TypingThrottleMS, 0),
		HistoryLimit:   r.config.Chat.HistoryLimit,
		Logger:         r.logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Send(text); err != nil {
		return err
	}
	return r.writePlain("✓ sent\n")
}
