package intercom

import (
	"fmt"
	"maps"
	"slices"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// TalkState is this client's own floor.
type TalkState int

const (
	Idle TalkState = iota
	Broadcasting
	PrivateTalk
)

func (s TalkState) String() string {
	switch s {
	case Broadcasting:
		return "broadcasting"
	case PrivateTalk:
		return "private"
	default:
		return "idle"
	}
}

// TalkStatus is a snapshot of every floor visible to this client.
type TalkStatus struct {
	State TalkState `json:"state"`
	// Session is the floor this client holds, if any.
	Session *models.TalkSession `json:"session,omitempty"`
	// Incoming are private floors other members hold towards this client.
	Incoming []models.TalkSession `json:"incoming"`
	// Listening are broadcasts from other members.
	Listening []models.TalkSession `json:"listening"`
}

// Pinned reports whether another member holds a private floor addressed to this client.
func (s TalkStatus) Pinned() bool {
	return len(s.Incoming) > 0
}

// Talk returns the current talk status.
func (c *Coordinator) Talk() TalkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// OnTalkChange registers fn to run after every talk transition. The returned func unregisters it.
func (c *Coordinator) OnTalkChange(fn func(TalkStatus)) func() {
	return c.talkListeners.add(fn)
}

// StartBroadcast opens the floor to the whole room.
//
// It fails with [shared.ErrPrivateTalkActive] while this client holds a private floor or is pinned by
// an incoming one, and leaves the state unchanged.
func (c *Coordinator) StartBroadcast() error {
	c.mu.Lock()
	switch {
	case c.talk == PrivateTalk || len(c.incoming) > 0:
		c.mu.Unlock()
		return shared.ErrPrivateTalkActive
	case c.talk == Broadcasting:
		c.mu.Unlock()
		return nil
	}
	session := models.TalkSession{ProductionID: c.productionID, SenderUserID: c.self.ID}
	c.talk = Broadcasting
	c.session = &session
	c.mu.Unlock()

	return c.open(session)
}

// StartPrivate opens a private floor to a member present in the room.
func (c *Coordinator) StartPrivate(targetUserID string) error {
	if _, err := c.resolve(targetUserID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.talk != Idle {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrTalkActive, c.talk)
	}
	session := models.TalkSession{ProductionID: c.productionID, SenderUserID: c.self.ID, TargetUserID: models.Ptr(targetUserID)}
	c.talk = PrivateTalk
	c.session = &session
	c.mu.Unlock()

	return c.open(session)
}

// open announces a floor that was just taken. If the announcement cannot be sent, the floor is
// released again.
func (c *Coordinator) open(session models.TalkSession) error {
	err := c.ch.Emit(realtime.EventTalkStart, c.talkPayload(session))
	if err != nil {
		c.mu.Lock()
		if c.session != nil && *c.session == session {
			c.talk = Idle
			c.session = nil
		}
		c.mu.Unlock()
		return err
	}

	c.logger.Info("talk started", "broadcast", session.IsBroadcast())
	c.talkListeners.emit(c.Talk())
	return nil
}

// Stop releases this client's floor. It always returns to Idle; the talk.stop emission is best effort.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.talk == Idle {
		c.mu.Unlock()
		return
	}
	session := *c.session
	c.talk = Idle
	c.session = nil
	status := c.statusLocked()
	c.mu.Unlock()

	if err := c.ch.Emit(realtime.EventTalkStop, c.talkPayload(session)); err != nil {
		c.logger.Warn("talk.stop not delivered", "error", err)
	}
	c.logger.Info("talk stopped")
	c.talkListeners.emit(status)
}

func (c *Coordinator) talkPayload(s models.TalkSession) realtime.TalkPayload {
	return realtime.TalkPayload{
		Scope:        realtime.Scope{ProductionID: s.ProductionID},
		SenderUserID: s.SenderUserID,
		SenderName:   c.self.Name,
		TargetUserID: s.TargetUserID,
	}
}

func (c *Coordinator) handleTalkStart(p realtime.TalkPayload) {
	if !c.inScope(p) || p.SenderUserID == "" || p.SenderUserID == c.self.ID {
		return
	}

	session := models.TalkSession{ProductionID: p.ProductionID, SenderUserID: p.SenderUserID, TargetUserID: p.TargetUserID}

	c.mu.Lock()
	switch {
	case session.IsBroadcast():
		c.listening[p.SenderUserID] = session
	case session.Targets(c.self.ID):
		c.incoming[p.SenderUserID] = session
	default:
		c.mu.Unlock()
		return
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.logger.Debug("remote talk started", "sender", p.SenderUserID, "private", !session.IsBroadcast())
	c.talkListeners.emit(status)
}

func (c *Coordinator) handleTalkStop(p realtime.TalkPayload) {
	if !c.inScope(p) || p.SenderUserID == c.self.ID {
		return
	}

	c.mu.Lock()
	_, wasIncoming := c.incoming[p.SenderUserID]
	_, wasListening := c.listening[p.SenderUserID]
	delete(c.incoming, p.SenderUserID)
	delete(c.listening, p.SenderUserID)
	status := c.statusLocked()
	c.mu.Unlock()

	if wasIncoming || wasListening {
		c.talkListeners.emit(status)
	}
}

func (c *Coordinator) statusLocked() TalkStatus {
	status := TalkStatus{
		State:     c.talk,
		Incoming:  sessions(c.incoming),
		Listening: sessions(c.listening),
	}
	if c.session != nil {
		s := *c.session
		status.Session = &s
	}
	return status
}

func sessions(m map[string]models.TalkSession) []models.TalkSession {
	out := make([]models.TalkSession, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}
