package intercom

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

const defaultAckHistoryLimit = 50

// Roster resolves talk and alert targets among present members.
type Roster interface {
	Member(productionID, userID string) (models.PresenceMember, bool)
}

type Options struct {
	ProductionID string
	// User is the operator this client acts as.
	User    models.User
	Channel realtime.Channel
	Roster  Roster
	// AckHistoryLimit bounds the acknowledgment and reply history. Defaults to 50.
	AckHistoryLimit int
	Now             func() time.Time
	Logger          *log.Logger
}

// Coordinator holds the talk and alert state of one production for one client.
type Coordinator struct {
	productionID string
	self         models.User
	ch           realtime.Channel
	roster       Roster
	historyLimit int
	now          func() time.Time
	logger       *log.Logger

	mu        sync.Mutex
	talk      TalkState
	session   *models.TalkSession
	incoming  map[string]models.TalkSession
	listening map[string]models.TalkSession

	active     *models.Alert
	dispatched map[string]models.Alert
	lastAck    map[string]models.AckRecord
	history    []models.AckRecord
	replies    []realtime.ReplyPayload

	talkListeners   listeners[TalkStatus]
	alertListeners  listeners[*models.Alert]
	ackListeners    listeners[models.AckRecord]
	replyListeners  listeners[realtime.ReplyPayload]
	signalListeners listeners[Signal]

	unsubs []func()
}

// New creates a coordinator subscribed to the talk, alert and signaling events of opts.ProductionID.
func New(opts Options) (*Coordinator, error) {
	if opts.ProductionID == "" {
		return nil, fmt.Errorf("%w: production id is required", shared.ErrMissingArgument)
	}
	if opts.User.ID == "" {
		return nil, fmt.Errorf("%w: intercom requires an authenticated user", shared.ErrNotAuthenticated)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.AckHistoryLimit
	if limit <= 0 {
		limit = defaultAckHistoryLimit
	}

	c := &Coordinator{
		productionID: opts.ProductionID,
		self:         opts.User,
		ch:           opts.Channel,
		roster:       opts.Roster,
		historyLimit: limit,
		now:          now,
		logger:       shared.ComponentLogger(opts.Logger, "intercom").With("production", opts.ProductionID),
		incoming:     make(map[string]models.TalkSession),
		listening:    make(map[string]models.TalkSession),
		dispatched:   make(map[string]models.Alert),
		lastAck:      make(map[string]models.AckRecord),
	}

	c.unsubs = append(c.unsubs,
		realtime.Subscribe(opts.Channel, realtime.EventTalkStart, c.handleTalkStart),
		realtime.Subscribe(opts.Channel, realtime.EventTalkStop, c.handleTalkStop),
		realtime.Subscribe(opts.Channel, realtime.EventAlertReceived, c.handleAlert),
		realtime.Subscribe(opts.Channel, realtime.EventAlertAcked, c.handleAcked),
		realtime.Subscribe(opts.Channel, realtime.EventAlertReply, c.handleReply),
		realtime.Subscribe(opts.Channel, realtime.EventOffer, c.handleSDP(realtime.EventOffer)),
		realtime.Subscribe(opts.Channel, realtime.EventAnswer, c.handleSDP(realtime.EventAnswer)),
		realtime.Subscribe(opts.Channel, realtime.EventCandidate, c.handleCandidate),
		opts.Channel.OnStateChange(c.handleState),
	)

	return c, nil
}

// Close unsubscribes from the channel. An open floor is released first.
func (c *Coordinator) Close() {
	c.Stop()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// ProductionID returns the production this coordinator is scoped to.
func (c *Coordinator) ProductionID() string {
	return c.productionID
}

func (c *Coordinator) inScope(p realtime.Scoped) bool {
	return p.Production() == c.productionID
}

// resolve checks that userID is present in the production room.
func (c *Coordinator) resolve(userID string) (models.PresenceMember, error) {
	if userID == "" {
		return models.PresenceMember{}, fmt.Errorf("%w: target user is required", shared.ErrMissingArgument)
	}
	if userID == c.self.ID {
		return models.PresenceMember{}, fmt.Errorf("%w: cannot target yourself", shared.ErrInvalidInput)
	}
	if c.roster == nil {
		return models.PresenceMember{}, fmt.Errorf("%w: %s", shared.ErrUnknownTarget, userID)
	}
	m, ok := c.roster.Member(c.productionID, userID)
	if !ok {
		return models.PresenceMember{}, fmt.Errorf("%w: %s", shared.ErrUnknownTarget, userID)
	}
	return m, nil
}

// handleState releases every floor when the channel goes down; remote floors are unknown until the
// next talk.start.
func (c *Coordinator) handleState(state realtime.State) {
	if state != realtime.Disconnected {
		return
	}

	c.mu.Lock()
	changed := c.talk != Idle || len(c.incoming) > 0 || len(c.listening) > 0
	c.talk = Idle
	c.session = nil
	clear(c.incoming)
	clear(c.listening)
	status := c.statusLocked()
	c.mu.Unlock()

	if changed {
		c.logger.Warn("channel lost, talk floors released")
		c.talkListeners.emit(status)
	}
}
