package intercom

import (
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// ActiveAlert returns the alert awaiting acknowledgment on this device.
func (c *Coordinator) ActiveAlert() (models.Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return models.Alert{}, false
	}
	return *c.active, true
}

// OnAlert registers fn to run when an alert becomes active (non-nil) or is acknowledged (nil).
func (c *Coordinator) OnAlert(fn func(*models.Alert)) func() {
	return c.alertListeners.add(fn)
}

// OnAck registers fn to run for every acknowledgment received for any alert in the production.
func (c *Coordinator) OnAck(fn func(models.AckRecord)) func() {
	return c.ackListeners.add(fn)
}

// OnReply registers fn to run for every free-text alert reply.
func (c *Coordinator) OnReply(fn func(realtime.ReplyPayload)) func() {
	return c.replyListeners.add(fn)
}

// Acknowledge answers the active alert with kind and returns to NoAlert. text overrides the kind's
// default message and is required for [models.AckReply].
//
// If the acknowledgment cannot be sent the alert stays active.
func (c *Coordinator) Acknowledge(kind models.AckKind, text string) error {
	if _, err := models.ParseAckKind(string(kind)); err != nil {
		return fmt.Errorf("%w: %q", shared.ErrInvalidAckKind, kind)
	}
	text = strings.TrimSpace(text)
	if kind == models.AckReply && text == "" {
		return fmt.Errorf("%w: a reply acknowledgment needs a message", shared.ErrInvalidInput)
	}
	if text == "" {
		text = kind.DefaultMessage()
	}

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return shared.ErrNoActiveAlert
	}
	alert := *c.active
	c.mu.Unlock()

	payload := realtime.AckPayload{
		Scope:     realtime.Scope{ProductionID: c.productionID},
		AlertID:   alert.ID,
		UserID:    c.self.ID,
		UserName:  c.self.Name,
		Type:      kind,
		Message:   text,
		Timestamp: c.now(),
	}
	if err := c.ch.Emit(realtime.EventAlertAck, payload); err != nil {
		return err
	}

	c.mu.Lock()
	cleared := c.active != nil && c.active.ID == alert.ID
	if cleared {
		c.active = nil
	}
	c.mu.Unlock()

	if cleared {
		c.logger.Info("alert acknowledged", "alert", alert.ID, "kind", kind)
		c.alertListeners.emit(nil)
	}
	return nil
}

// Reply sends conversational text about the active alert. The alert stays active.
func (c *Coordinator) Reply(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: reply text is required", shared.ErrMissingArgument)
	}

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return shared.ErrNoActiveAlert
	}
	alertID := c.active.ID
	c.mu.Unlock()

	return c.ch.Emit(realtime.EventAlertReply, realtime.ReplyPayload{
		Scope:     realtime.Scope{ProductionID: c.productionID},
		AlertID:   alertID,
		UserID:    c.self.ID,
		UserName:  c.self.Name,
		Message:   text,
		Timestamp: c.now(),
	})
}

// DispatchAlert sends an alert to the room, or to one present member when targetUserID is set.
func (c *Coordinator) DispatchAlert(message, color, targetUserID string) (models.Alert, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Alert{}, fmt.Errorf("%w: alert message is required", shared.ErrMissingArgument)
	}
	if targetUserID != "" {
		if _, err := c.resolve(targetUserID); err != nil {
			return models.Alert{}, err
		}
	}

	alert := models.Alert{
		ID:           shared.GenerateID(),
		ProductionID: c.productionID,
		Message:      message,
		Color:        color,
		SenderName:   c.self.Name,
		SenderUserID: c.self.ID,
		TargetUserID: targetUserID,
		Timestamp:    c.now(),
	}
	if err := c.ch.Emit(realtime.EventAlertSend, realtime.AlertPayload{Alert: alert}); err != nil {
		return models.Alert{}, err
	}

	c.mu.Lock()
	c.dispatched[alert.ID] = alert
	c.mu.Unlock()

	c.logger.Info("alert dispatched", "alert", alert.ID, "target", targetUserID)
	return alert, nil
}

// Dispatched returns an alert this client sent.
func (c *Coordinator) Dispatched(alertID string) (models.Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.dispatched[alertID]
	return a, ok
}

// LastAck returns the most recent acknowledgment of alertID.
func (c *Coordinator) LastAck(alertID string) (models.AckRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lastAck[alertID]
	return r, ok
}

// History returns the acknowledgment log, oldest first.
func (c *Coordinator) History() []models.AckRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Replies returns the free-text replies received, oldest first.
func (c *Coordinator) Replies() []realtime.ReplyPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.replies)
}

func (c *Coordinator) handleAlert(p realtime.AlertPayload) {
	if !c.inScope(p) || p.ID == "" || p.SenderUserID == c.self.ID {
		return
	}
	if p.TargetUserID != "" && p.TargetUserID != c.self.ID {
		return
	}

	alert := p.Alert
	if alert.Timestamp.IsZero() {
		alert.Timestamp = c.now()
	}

	c.mu.Lock()
	superseded := c.active != nil
	c.active = &alert
	c.mu.Unlock()

	c.logger.Info("alert received", "alert", alert.ID, "from", alert.SenderName, "superseded", superseded)
	c.alertListeners.emit(&alert)
}

func (c *Coordinator) handleAcked(p realtime.AckPayload) {
	if !c.inScope(p) || p.AlertID == "" {
		return
	}

	record := models.AckRecord{
		AlertID:   p.AlertID,
		UserID:    p.UserID,
		UserName:  p.UserName,
		Message:   p.Message,
		Type:      p.Type,
		Timestamp: p.Timestamp,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = c.now()
	}
	if record.Message == "" {
		record.Message = record.Type.DefaultMessage()
	}

	c.mu.Lock()
	c.lastAck[record.AlertID] = record
	c.history = bounded(append(c.history, record), c.historyLimit)
	c.mu.Unlock()

	c.ackListeners.emit(record)
}

func (c *Coordinator) handleReply(p realtime.ReplyPayload) {
	if !c.inScope(p) || p.AlertID == "" {
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = c.now()
	}

	c.mu.Lock()
	c.replies = bounded(append(c.replies, p), c.historyLimit)
	c.mu.Unlock()

	c.replyListeners.emit(p)
}

func bounded[T any](s []T, limit int) []T {
	if over := len(s) - limit; over > 0 {
		return slices.Delete(s, 0, over)
	}
	return s
}
