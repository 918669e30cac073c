package production

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

const (
	defaultAckLimit   = 50
	updatesBufferSize = 16
)

// Backend fetches snapshots and issues engine commands over HTTP.
type Backend interface {
	State(ctx context.Context, productionID string) (*models.ProductionState, error)
	SendCommand(ctx context.Context, productionID string, cmd models.EngineCommand) error
}

// MappingSource lists the hardware mappings of a production.
type MappingSource interface {
	ListMappings(ctx context.Context, productionID string) ([]models.HardwareMapping, error)
}

type Options struct {
	Backend  Backend
	Channel  realtime.Channel
	Mappings MappingSource
	// AckLimit bounds the command acknowledgments kept per production. Defaults to 50.
	AckLimit int
	Now      func() time.Time
	Logger   *log.Logger
}

type entry struct {
	mu       sync.Mutex
	state    *models.ProductionState
	updates  []chan models.ProductionState
	acks     []models.CommandAck
	mappings []models.HardwareMapping
	loaded   bool
	// synced is set once a snapshot has been applied.
	synced bool
}

// Aggregator owns the per-production state map. Productions are partitioned: updates to different
// productions never contend on the same lock.
type Aggregator struct {
	backend  Backend
	ch       realtime.Channel
	mappings MappingSource
	ackLimit int
	now      func() time.Time
	logger   *log.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	unsubs []func()
}

// New creates an aggregator subscribed to every delta event.
func New(opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.AckLimit
	if limit <= 0 {
		limit = defaultAckLimit
	}

	a := &Aggregator{
		backend:  opts.Backend,
		ch:       opts.Channel,
		mappings: opts.Mappings,
		ackLimit: limit,
		now:      now,
		logger:   shared.ComponentLogger(opts.Logger, "aggregator"),
		entries:  make(map[string]*entry),
	}

	a.unsubs = append(a.unsubs,
		realtime.Subscribe(opts.Channel, realtime.EventConnection, a.handleConnection),
		realtime.Subscribe(opts.Channel, realtime.EventTally, a.handleTally),
		realtime.Subscribe(opts.Channel, realtime.EventCommandAck, a.handleCommandAck),
	)
	for _, event := range []string{
		realtime.EventOBSScene,
		realtime.EventOBSStream,
		realtime.EventOBSRecord,
		realtime.EventVMixState,
		realtime.EventTelemetry,
	} {
		a.unsubs = append(a.unsubs, opts.Channel.On(event, a.handleTelemetry))
	}

	return a
}

// Close unsubscribes from the channel and closes every update stream.
func (a *Aggregator) Close() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil

	a.mu.Lock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.Release(id)
	}
}

// Watch starts tracking productionID. The first call joins the production room and fetches the
// snapshot. Later calls return immediately once a snapshot has been applied, and retry the fetch
// while none has.
func (a *Aggregator) Watch(ctx context.Context, productionID string) error {
	a.mu.Lock()
	e, ok := a.entries[productionID]
	if !ok {
		e = &entry{}
		a.entries[productionID] = e
	}
	a.mu.Unlock()

	if ok {
		e.mu.Lock()
		synced := e.synced
		e.mu.Unlock()
		if synced {
			return nil
		}
	} else if err := a.ch.Join(productionID); err != nil {
		a.logger.Warn("failed to join production room", "production", productionID, "error", err)
	}

	snapshot, err := a.backend.State(ctx, productionID)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot for %s: %w", productionID, err)
	}
	a.applySnapshot(productionID, e, *snapshot)
	return nil
}

// Refresh fetches a new snapshot for a watched production and arbitrates it against local state.
func (a *Aggregator) Refresh(ctx context.Context, productionID string) error {
	e := a.entry(productionID)
	if e == nil {
		return a.Watch(ctx, productionID)
	}

	snapshot, err := a.backend.State(ctx, productionID)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot for %s: %w", productionID, err)
	}
	a.applySnapshot(productionID, e, *snapshot)
	return nil
}

// Get returns a copy of the state. ok is false until a snapshot or delta has seeded it.
func (a *Aggregator) Get(productionID string) (models.ProductionState, bool) {
	e := a.entry(productionID)
	if e == nil {
		return models.ProductionState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return models.ProductionState{}, false
	}
	return e.state.Clone(), true
}

// Watched returns the ids of every tracked production.
func (a *Aggregator) Watched() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Updates returns a stream of state copies for productionID. Sends never block: a slow reader misses
// intermediate states but always sees a later one. The channel is closed by [Aggregator.Release].
func (a *Aggregator) Updates(productionID string) <-chan models.ProductionState {
	ch := make(chan models.ProductionState, updatesBufferSize)

	e := a.entry(productionID)
	if e == nil {
		close(ch)
		return ch
	}

	e.mu.Lock()
	e.updates = append(e.updates, ch)
	e.mu.Unlock()
	return ch
}

// Release drops the state of productionID and closes its update streams. The aggregator's hold on
// the production room is given up with it.
func (a *Aggregator) Release(productionID string) {
	a.mu.Lock()
	e, ok := a.entries[productionID]
	delete(a.entries, productionID)
	a.mu.Unlock()

	if !ok {
		return
	}
	if err := a.ch.Leave(productionID); err != nil {
		a.logger.Warn("failed to leave production room", "production", productionID, "error", err)
	}

	e.mu.Lock()
	for _, ch := range e.updates {
		close(ch)
	}
	e.updates = nil
	e.mu.Unlock()
}

// SendEngineCommand issues cmd through the backend. The response is not applied: its effect arrives
// later as a delta.
func (a *Aggregator) SendEngineCommand(ctx context.Context, productionID string, cmd models.EngineCommand) error {
	if !cmd.Engine.Valid() {
		return fmt.Errorf("%w: unknown engine %q", shared.ErrInvalidInput, cmd.Engine)
	}
	if cmd.Action == "" {
		return fmt.Errorf("%w: command action is required", shared.ErrInvalidInput)
	}

	a.logger.Info("sending engine command", "production", productionID, "engine", cmd.Engine, "action", cmd.Action)
	return a.backend.SendCommand(ctx, productionID, cmd)
}

// HardwareTrigger resolves a peripheral input against the production's hardware mappings and emits the
// mapped command over the channel. It returns the command id that a later command.ack will carry.
func (a *Aggregator) HardwareTrigger(ctx context.Context, productionID string, trigger models.HardwareTrigger) (string, error) {
	e := a.entry(productionID)
	if e == nil {
		return "", fmt.Errorf("%w: production %s is not watched", shared.ErrInvalidInput, productionID)
	}

	mapping, err := a.resolveMapping(ctx, productionID, e, trigger)
	if err != nil {
		return "", err
	}

	payload := realtime.CommandPayload{
		Scope:         realtime.Scope{ProductionID: productionID},
		CommandID:     shared.GenerateID(),
		Source:        "hardware",
		EngineCommand: mapping.Command,
	}
	if err := a.ch.Emit(realtime.EventCommandSend, payload); err != nil {
		return "", err
	}

	a.logger.Debug("hardware command sent", "production", productionID, "input", trigger.Input, "command", payload.CommandID)
	return payload.CommandID, nil
}

// Acks returns the most recent command acknowledgments for productionID, oldest first.
func (a *Aggregator) Acks(productionID string) []models.CommandAck {
	e := a.entry(productionID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.acks)
}

func (a *Aggregator) resolveMapping(ctx context.Context, productionID string, e *entry, trigger models.HardwareTrigger) (models.HardwareMapping, error) {
	e.mu.Lock()
	loaded, mappings := e.loaded, e.mappings
	e.mu.Unlock()

	if !loaded {
		if a.mappings == nil {
			return models.HardwareMapping{}, fmt.Errorf("%w: no hardware mapping source", shared.ErrMissingConfig)
		}
		fetched, err := a.mappings.ListMappings(ctx, productionID)
		if err != nil {
			return models.HardwareMapping{}, fmt.Errorf("failed to load hardware mappings: %w", err)
		}
		e.mu.Lock()
		e.mappings, e.loaded = fetched, true
		e.mu.Unlock()
		mappings = fetched
	}

	for _, m := range mappings {
		if m.DeviceType == trigger.DeviceType && m.Input == trigger.Input {
			return m, nil
		}
	}
	return models.HardwareMapping{}, fmt.Errorf("%w: no mapping for %s input %q", shared.ErrInvalidInput, trigger.DeviceType, trigger.Input)
}

func (a *Aggregator) entry(productionID string) *entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries[productionID]
}

// scoped returns the entry for an inbound event, or nil when the production is not watched.
func (a *Aggregator) scoped(event string, p realtime.Scoped) *entry {
	id := p.Production()
	e := a.entry(id)
	if e == nil {
		a.logger.Debug("dropping event for unwatched production", "event", event, "production", id)
	}
	return e
}

func (a *Aggregator) applySnapshot(productionID string, e *entry, snapshot models.ProductionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil || snapshot.IsConnected {
		s := snapshot.Clone()
		s.ProductionID = productionID
		s.LastUpdate = a.now()
		e.state = &s
	} else {
		s := e.state
		s.OBS = snapshot.OBS.Merge(s.OBS)
		s.VMix = snapshot.VMix.Merge(s.VMix)
		if s.Tally == nil {
			s.Tally = snapshot.Tally.Clone()
		}
		s.LastUpdate = a.now()
	}

	e.synced = true
	a.logger.Debug("snapshot applied", "production", productionID, "connected", e.state.IsConnected)
	a.publish(e)
}

// mutate applies fn to the entry's state, seeding an empty state when no snapshot has arrived yet.
func (a *Aggregator) mutate(productionID string, e *entry, fn func(s *models.ProductionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		e.state = &models.ProductionState{ProductionID: productionID}
	}
	fn(e.state)
	e.state.LastUpdate = a.now()
	a.publish(e)
}

// publish must be called with e.mu held.
func (a *Aggregator) publish(e *entry) {
	for _, ch := range e.updates {
		select {
		case ch <- e.state.Clone():
		default:
		}
	}
}

func (a *Aggregator) handleConnection(p realtime.ConnectionPayload) {
	e := a.scoped(realtime.EventConnection, p)
	if e == nil {
		return
	}

	a.mutate(p.ProductionID, e, func(s *models.ProductionState) {
		if p.Engine.Valid() {
			s.ApplyTelemetry(p.Engine, models.EngineTelemetry{Connected: models.Ptr(p.IsConnected)})
			return
		}
		s.IsConnected = p.IsConnected
	})
}

func (a *Aggregator) handleTelemetry(event string, payload any) {
	p, ok := payload.(realtime.TelemetryPayload)
	if !ok {
		return
	}
	e := a.scoped(event, p)
	if e == nil {
		return
	}

	kind := engineFor(event, p.Engine)
	if !kind.Valid() {
		a.logger.Debug("dropping telemetry for unknown engine", "event", event, "engine", p.Engine)
		return
	}

	a.mutate(p.ProductionID, e, func(s *models.ProductionState) {
		s.ApplyTelemetry(kind, p.Telemetry)
		if p.Telemetry.Substantive() {
			s.IsConnected = true
		}
	})
}

func (a *Aggregator) handleTally(p realtime.TallyPayload) {
	e := a.scoped(realtime.EventTally, p)
	if e == nil {
		return
	}

	a.mutate(p.ProductionID, e, func(s *models.ProductionState) {
		next := s.Tally.Clone()
		if next == nil {
			next = &models.TallyState{}
		}
		if p.Program != nil {
			next.Program = slices.Clone(p.Program)
		}
		if p.Preview != nil {
			next.Preview = slices.Clone(p.Preview)
		}
		s.Tally = next
	})
}

func (a *Aggregator) handleCommandAck(p realtime.CommandAckPayload) {
	e := a.scoped(realtime.EventCommandAck, p)
	if e == nil {
		return
	}

	ack := p.CommandAck
	if ack.At.IsZero() {
		ack.At = a.now()
	}

	e.mu.Lock()
	e.acks = append(e.acks, ack)
	if over := len(e.acks) - a.ackLimit; over > 0 {
		e.acks = slices.Delete(e.acks, 0, over)
	}
	e.mu.Unlock()

	if !ack.Success {
		a.logger.Warn("engine command failed", "production", p.ProductionID, "command", ack.CommandID, "error", ack.Error)
	}
}

// engineFor maps an engine-specific event to its engine; generic telemetry names it in the payload.
func engineFor(event string, named models.EngineKind) models.EngineKind {
	switch event {
	case realtime.EventOBSScene, realtime.EventOBSStream, realtime.EventOBSRecord:
		return models.EngineOBS
	case realtime.EventVMixState:
		return models.EngineVMix
	default:
		return named
	}
}
