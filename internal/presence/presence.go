// Package presence tracks who is in each production room.
//
// The server broadcasts the full roster of a room on every membership change; a [Tracker] replaces its
// local set on each broadcast and never infers departures on its own. When the channel drops, every
// roster is emptied and marked unsynced until the next broadcast.
package presence

import (
	"cmp"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// ChangeFunc receives the new roster of a production.
type ChangeFunc func(productionID string, members []models.PresenceMember)

type Options struct {
	Channel realtime.Channel
	Logger  *log.Logger
}

type roster struct {
	members map[string]models.PresenceMember
	synced  bool
}

// Tracker keeps one roster per tracked production.
type Tracker struct {
	ch     realtime.Channel
	logger *log.Logger

	mu      sync.RWMutex
	rosters map[string]*roster

	listenersMu sync.Mutex
	listeners   map[int]ChangeFunc
	nextID      int

	unsubs []func()
}

// New creates a tracker subscribed to roster broadcasts and channel state.
func New(opts Options) *Tracker {
	t := &Tracker{
		ch:        opts.Channel,
		logger:    shared.ComponentLogger(opts.Logger, "presence"),
		rosters:   make(map[string]*roster),
		listeners: make(map[int]ChangeFunc),
	}

	t.unsubs = append(t.unsubs,
		realtime.Subscribe(opts.Channel, realtime.EventPresence, t.handleRoster),
		opts.Channel.OnStateChange(t.handleState),
	)
	return t
}

// Close unsubscribes from the channel. Tracked rooms are left joined.
func (t *Tracker) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}

// Track joins the production room and starts keeping its roster. Tracking twice is a no-op.
func (t *Tracker) Track(productionID string) error {
	t.mu.Lock()
	_, tracked := t.rosters[productionID]
	if !tracked {
		t.rosters[productionID] = &roster{members: make(map[string]models.PresenceMember)}
	}
	t.mu.Unlock()

	if tracked {
		return nil
	}
	return t.ch.Join(productionID)
}

// Untrack drops the roster and releases the tracker's hold on the room. Other holders keep it joined.
func (t *Tracker) Untrack(productionID string) error {
	t.mu.Lock()
	_, tracked := t.rosters[productionID]
	delete(t.rosters, productionID)
	t.mu.Unlock()

	if !tracked {
		return nil
	}
	return t.ch.Leave(productionID)
}

// Members returns the roster of productionID ordered by name.
func (t *Tracker) Members(productionID string) []models.PresenceMember {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[productionID]
	if !ok {
		return nil
	}
	return sorted(r.members)
}

// Member looks up one present user.
func (t *Tracker) Member(productionID, userID string) (models.PresenceMember, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[productionID]
	if !ok {
		return models.PresenceMember{}, false
	}
	m, ok := r.members[userID]
	return m, ok
}

// Synced reports whether a roster broadcast has arrived since the last (re)connect.
func (t *Tracker) Synced(productionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[productionID]
	return ok && r.synced
}

// OnChange registers fn to run whenever a roster is replaced or reset. The returned func unregisters it.
func (t *Tracker) OnChange(fn ChangeFunc) func() {
	t.listenersMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners, id)
		t.listenersMu.Unlock()
	}
}

func (t *Tracker) handleRoster(p realtime.RosterPayload) {
	t.mu.Lock()
	r, ok := t.rosters[p.ProductionID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("dropping roster for untracked production", "production", p.ProductionID)
		return
	}

	members := make(map[string]models.PresenceMember, len(p.Members))
	for _, m := range p.Members {
		if m.UserID == "" {
			continue
		}
		members[m.UserID] = m
	}
	r.members = members
	r.synced = true
	snapshot := sorted(members)
	t.mu.Unlock()

	t.logger.Debug("roster replaced", "production", p.ProductionID, "members", len(snapshot))
	t.notify(p.ProductionID, snapshot)
}

func (t *Tracker) handleState(state realtime.State) {
	if state == realtime.Connected || state == realtime.Connecting {
		return
	}

	t.mu.Lock()
	var reset []string
	for id, r := range t.rosters {
		if !r.synced && len(r.members) == 0 {
			continue
		}
		r.members = make(map[string]models.PresenceMember)
		r.synced = false
		reset = append(reset, id)
	}
	t.mu.Unlock()

	for _, id := range reset {
		t.notify(id, nil)
	}
}

func (t *Tracker) notify(productionID string, members []models.PresenceMember) {
	t.listenersMu.Lock()
	fns := make([]ChangeFunc, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listenersMu.Unlock()

	for _, fn := range fns {
		fn(productionID, slices.Clone(members))
	}
}

func sorted(members map[string]models.PresenceMember) []models.PresenceMember {
	out := make([]models.PresenceMember, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.PresenceMember) int {
		return cmp.Or(cmp.Compare(a.UserName, b.UserName), cmp.Compare(a.UserID, b.UserID))
	})
	return out
}
