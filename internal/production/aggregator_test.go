package production

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/presence"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
	tu "github.com/desertthunder/cuedeck/internal/testing"
)

type fakeBackend struct {
	mu       sync.Mutex
	snapshot models.ProductionState
	err      error
	gate     chan struct{}
	started  chan struct{}
	commands []models.EngineCommand
}

func (f *fakeBackend) State(ctx context.Context, productionID string) (*models.ProductionState, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.snapshot
	return &s, nil
}

func (f *fakeBackend) SendCommand(ctx context.Context, productionID string, cmd models.EngineCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.err
}

type fakeMappings []models.HardwareMapping

func (f fakeMappings) ListMappings(ctx context.Context, productionID string) ([]models.HardwareMapping, error) {
	return f, nil
}

var fixedNow = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func newAggregator(backend Backend, ch realtime.Channel) *Aggregator {
	return New(Options{Backend: backend, Channel: ch, Now: func() time.Time { return fixedNow }})
}

func scope(id string) realtime.Scope {
	return realtime.Scope{ProductionID: id}
}

func telemetry(id string, t models.EngineTelemetry) realtime.TelemetryPayload {
	return realtime.TelemetryPayload{Scope: scope(id), Telemetry: t}
}

func TestSnapshotArbitration(t *testing.T) {
	t.Run("Snapshot Seeds Empty State", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{snapshot: models.ProductionState{
			IsConnected: false,
			OBS:         models.EngineTelemetry{CurrentScene: models.Ptr("Intro")},
		}}
		a := newAggregator(backend, ch)

		if err := a.Watch(context.Background(), "p1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		s, ok := a.Get("p1")
		if !ok {
			t.Fatal("expected state")
		}
		if s.IsConnected || *s.OBS.CurrentScene != "Intro" || s.ProductionID != "p1" || !s.LastUpdate.Equal(fixedNow) {
			t.Errorf("unexpected state %+v", s)
		}
		if joins := ch.Joins(); len(joins) != 1 || joins[0] != "p1" {
			t.Errorf("expected room join, got %v", joins)
		}
	})

	t.Run("Delta Racing A Disconnected Snapshot Keeps Connection", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{
			snapshot: models.ProductionState{
				IsConnected: false,
				OBS:         models.EngineTelemetry{CurrentScene: models.Ptr("Intro")},
			},
			gate:    make(chan struct{}),
			started: make(chan struct{}),
		}
		a := newAggregator(backend, ch)

		done := make(chan error, 1)
		go func() { done <- a.Watch(context.Background(), "p1") }()

		<-backend.started
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})
		close(backend.gate)

		if err := <-done; err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		s, _ := a.Get("p1")
		if !s.IsConnected {
			t.Error("snapshot must not downgrade a live connection")
		}
		if s.OBS.CurrentScene == nil || *s.OBS.CurrentScene != "Intro" {
			t.Errorf("expected snapshot scene to be merged, got %+v", s.OBS)
		}
	})

	t.Run("Delta After Snapshot", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{snapshot: models.ProductionState{
			OBS: models.EngineTelemetry{CurrentScene: models.Ptr("Intro")},
		}}
		a := newAggregator(backend, ch)
		a.Watch(context.Background(), "p1")

		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})

		s, _ := a.Get("p1")
		if !s.IsConnected || *s.OBS.CurrentScene != "Intro" {
			t.Errorf("unexpected state %+v", s)
		}
	})

	t.Run("Connected Snapshot Replaces Local State", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{
			snapshot: models.ProductionState{
				IsConnected: true,
				VMix:        models.EngineTelemetry{ActiveInput: models.Ptr(3)},
			},
			gate:    make(chan struct{}),
			started: make(chan struct{}),
		}
		a := newAggregator(backend, ch)

		done := make(chan error, 1)
		go func() { done <- a.Watch(context.Background(), "p1") }()
		<-backend.started
		ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Stale")}))
		close(backend.gate)
		<-done

		s, _ := a.Get("p1")
		if !s.IsConnected || s.OBS.CurrentScene != nil || *s.VMix.ActiveInput != 3 {
			t.Errorf("expected snapshot to replace state, got %+v", s)
		}
	})

	t.Run("Disconnected Snapshot Does Not Overwrite Fresher Fields", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{
			snapshot: models.ProductionState{
				OBS:   models.EngineTelemetry{CurrentScene: models.Ptr("Intro"), IsStreaming: models.Ptr(false)},
				Tally: &models.TallyState{Program: []string{"cam1"}},
			},
			gate:    make(chan struct{}),
			started: make(chan struct{}),
		}
		a := newAggregator(backend, ch)

		done := make(chan error, 1)
		go func() { done <- a.Watch(context.Background(), "p1") }()
		<-backend.started
		ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Main")}))
		close(backend.gate)
		<-done

		s, _ := a.Get("p1")
		if *s.OBS.CurrentScene != "Main" {
			t.Errorf("expected delta scene to win, got %q", *s.OBS.CurrentScene)
		}
		if s.OBS.IsStreaming == nil || *s.OBS.IsStreaming {
			t.Errorf("expected snapshot to fill streaming flag, got %+v", s.OBS)
		}
		if s.Tally == nil || s.Tally.Program[0] != "cam1" {
			t.Errorf("expected snapshot tally, got %+v", s.Tally)
		}
	})

	t.Run("Snapshot Failure", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{err: errors.New("boom")}
		a := newAggregator(backend, ch)

		if err := a.Watch(context.Background(), "p1"); err == nil {
			t.Fatal("expected error")
		}
		if _, ok := a.Get("p1"); ok {
			t.Error("expected no state after failed snapshot")
		}

		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})
		if s, ok := a.Get("p1"); !ok || !s.IsConnected {
			t.Error("deltas should still seed a watched production")
		}
	})

	t.Run("Watch Retries A Failed Snapshot", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{
			err:      errors.New("boom"),
			snapshot: models.ProductionState{IsConnected: true, OBS: models.EngineTelemetry{CurrentScene: models.Ptr("Intro")}},
		}
		a := newAggregator(backend, ch)

		if err := a.Watch(context.Background(), "p1"); err == nil {
			t.Fatal("expected error")
		}

		backend.mu.Lock()
		backend.err = nil
		backend.mu.Unlock()

		if err := a.Watch(context.Background(), "p1"); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		s, ok := a.Get("p1")
		if !ok || !s.IsConnected || *s.OBS.CurrentScene != "Intro" {
			t.Errorf("expected snapshot after retry, got %+v", s)
		}
		if joins := ch.Joins(); len(joins) != 1 {
			t.Errorf("expected a single room join, got %v", joins)
		}
	})

	t.Run("Watch Twice Fetches Once", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		backend := &fakeBackend{}
		a := newAggregator(backend, ch)
		a.Watch(context.Background(), "p1")

		backend.err = errors.New("should not be called")
		if err := a.Watch(context.Background(), "p1"); err != nil {
			t.Errorf("expected second Watch to be a no-op, got %v", err)
		}
	})
}

func TestDeltas(t *testing.T) {
	watch := func(t *testing.T) (*Aggregator, *tu.FakeChannel) {
		t.Helper()
		ch := tu.NewFakeChannel(true)
		a := newAggregator(&fakeBackend{}, ch)
		if err := a.Watch(context.Background(), "p1"); err != nil {
			t.Fatalf("failed to watch: %v", err)
		}
		return a, ch
	}

	t.Run("Partial Merges Retain Earlier Fields", func(t *testing.T) {
		a, ch := watch(t)

		ch.Deliver(t, realtime.EventOBSStream, telemetry("p1", models.EngineTelemetry{IsStreaming: models.Ptr(true), StreamTimecode: models.Ptr("00:01:00")}))
		ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Main")}))

		s, _ := a.Get("p1")
		if !*s.OBS.IsStreaming || *s.OBS.StreamTimecode != "00:01:00" || *s.OBS.CurrentScene != "Main" {
			t.Errorf("expected merged telemetry, got %+v", s.OBS)
		}
		if !s.IsConnected {
			t.Error("substantive telemetry implies a live production")
		}
	})

	t.Run("Engine Routing", func(t *testing.T) {
		a, ch := watch(t)

		ch.Deliver(t, realtime.EventVMixState, telemetry("p1", models.EngineTelemetry{ActiveInput: models.Ptr(2)}))
		generic := telemetry("p1", models.EngineTelemetry{FPS: models.Ptr(59.94)})
		generic.Engine = models.EngineOBS
		ch.Deliver(t, realtime.EventTelemetry, generic)
		unnamed := telemetry("p1", models.EngineTelemetry{FPS: models.Ptr(1.0)})
		ch.Deliver(t, realtime.EventTelemetry, unnamed)

		s, _ := a.Get("p1")
		if *s.VMix.ActiveInput != 2 || s.OBS.ActiveInput != nil {
			t.Errorf("vmix state routed wrong: %+v / %+v", s.VMix, s.OBS)
		}
		if *s.OBS.FPS != 59.94 {
			t.Errorf("expected named engine telemetry, got %+v", s.OBS)
		}
	})

	t.Run("Engine Connection Flag Alone Is Not Liveness", func(t *testing.T) {
		a, ch := watch(t)

		ch.Deliver(t, realtime.EventTelemetry, realtime.TelemetryPayload{
			Scope: scope("p1"), Engine: models.EngineOBS,
			Telemetry: models.EngineTelemetry{Connected: models.Ptr(true)},
		})

		s, _ := a.Get("p1")
		if s.IsConnected {
			t.Error("connected-only telemetry must not set the production flag")
		}
		if s.OBS.Connected == nil || !*s.OBS.Connected {
			t.Error("expected engine connected flag")
		}
	})

	t.Run("Engine Scoped Connection Event", func(t *testing.T) {
		a, ch := watch(t)
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: false, Engine: models.EngineVMix})

		s, _ := a.Get("p1")
		if !s.IsConnected || s.VMix.Connected == nil || *s.VMix.Connected {
			t.Errorf("unexpected state %+v", s)
		}
	})

	t.Run("Explicit Disconnect", func(t *testing.T) {
		a, ch := watch(t)
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: false})

		if s, _ := a.Get("p1"); s.IsConnected {
			t.Error("expected explicit disconnect to clear the flag")
		}
	})

	t.Run("Tally Merges Lists Independently", func(t *testing.T) {
		a, ch := watch(t)
		ch.Deliver(t, realtime.EventTally, realtime.TallyPayload{Scope: scope("p1"), TallyState: models.TallyState{Program: []string{"cam1"}, Preview: []string{"cam2"}}})
		ch.Deliver(t, realtime.EventTally, realtime.TallyPayload{Scope: scope("p1"), TallyState: models.TallyState{Program: []string{"cam2"}}})

		s, _ := a.Get("p1")
		if s.Tally.Program[0] != "cam2" || s.Tally.Preview[0] != "cam2" {
			t.Errorf("unexpected tally %+v", s.Tally)
		}
	})

	t.Run("Cross Production Events Are Dropped", func(t *testing.T) {
		a, ch := watch(t)
		ch.Deliver(t, realtime.EventOBSScene, telemetry("p2", models.EngineTelemetry{CurrentScene: models.Ptr("Leak")}))
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p2"), IsConnected: true})

		s, _ := a.Get("p1")
		if s.OBS.CurrentScene != nil || s.IsConnected {
			t.Errorf("p1 must not see p2 events, got %+v", s)
		}
		if _, ok := a.Get("p2"); ok {
			t.Error("unwatched production must not gain state")
		}
	})

	t.Run("Connection Never Decreases Without Explicit False", func(t *testing.T) {
		a, ch := watch(t)
		ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: true})

		r := rand.New(rand.NewPCG(1, 2))
		for i := range 200 {
			switch r.IntN(4) {
			case 0:
				ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("s")}))
			case 1:
				ch.Deliver(t, realtime.EventVMixState, telemetry("p1", models.EngineTelemetry{Connected: models.Ptr(r.IntN(2) == 0)}))
			case 2:
				ch.Deliver(t, realtime.EventTally, realtime.TallyPayload{Scope: scope("p1")})
			case 3:
				ch.Deliver(t, realtime.EventConnection, realtime.ConnectionPayload{Scope: scope("p1"), IsConnected: r.IntN(2) == 0, Engine: models.EngineOBS})
			}
			if s, _ := a.Get("p1"); !s.IsConnected {
				t.Fatalf("connection dropped after delta %d", i)
			}
		}
	})
}

func TestSharedRoom(t *testing.T) {
	ch := tu.NewFakeChannel(true)
	tr := presence.New(presence.Options{Channel: ch})
	a := newAggregator(&fakeBackend{}, ch)
	defer a.Close()
	defer tr.Close()

	tr.Track("p1")
	if err := a.Watch(context.Background(), "p1"); err != nil {
		t.Fatalf("failed to watch: %v", err)
	}
	tr.Untrack("p1")

	if rooms := ch.Rooms(); len(rooms) != 1 || rooms[0] != "p1" {
		t.Fatalf("expected the aggregator to keep p1 joined, got %v", rooms)
	}

	ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Main")}))
	if s, ok := a.Get("p1"); !ok || s.OBS.CurrentScene == nil || *s.OBS.CurrentScene != "Main" {
		t.Errorf("expected deltas to keep arriving, got %+v", s)
	}

	a.Release("p1")
	if rooms := ch.Rooms(); len(rooms) != 0 {
		t.Errorf("expected the room to be left, got %v", rooms)
	}
}

func TestUpdatesAndRelease(t *testing.T) {
	ch := tu.NewFakeChannel(true)
	a := newAggregator(&fakeBackend{}, ch)
	a.Watch(context.Background(), "p1")

	updates := a.Updates("p1")
	ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Main")}))

	select {
	case s := <-updates:
		if *s.OBS.CurrentScene != "Main" {
			t.Errorf("unexpected update %+v", s)
		}
	default:
		t.Fatal("expected an update")
	}

	for range updatesBufferSize + 5 {
		ch.Deliver(t, realtime.EventOBSScene, telemetry("p1", models.EngineTelemetry{CurrentScene: models.Ptr("Flood")}))
	}

	a.Release("p1")
	count := 0
	for range updates {
		count++
	}
	if count != updatesBufferSize {
		t.Errorf("expected a full buffer then close, got %d", count)
	}
	if _, ok := a.Get("p1"); ok {
		t.Error("expected state to be dropped")
	}
	if rooms := ch.Rooms(); len(rooms) != 0 {
		t.Errorf("expected the room to be left, got %v", rooms)
	}

	if _, open := <-a.Updates("missing"); open {
		t.Error("updates for an unwatched production should be closed")
	}
}

func TestCommands(t *testing.T) {
	t.Run("Send Engine Command", func(t *testing.T) {
		backend := &fakeBackend{}
		a := newAggregator(backend, tu.NewFakeChannel(true))

		cmd := models.EngineCommand{Engine: models.EngineOBS, Action: "setScene", Params: map[string]any{"scene": "Main"}}
		if err := a.SendEngineCommand(context.Background(), "p1", cmd); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(backend.commands) != 1 || backend.commands[0].Action != "setScene" {
			t.Errorf("unexpected commands %+v", backend.commands)
		}
		if _, ok := a.Get("p1"); ok {
			t.Error("command response must not touch state")
		}
	})

	tt := []struct {
		name string
		cmd  models.EngineCommand
	}{
		{name: "unknown engine", cmd: models.EngineCommand{Engine: "atem", Action: "cut"}},
		{name: "missing action", cmd: models.EngineCommand{Engine: models.EngineVMix}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			a := newAggregator(&fakeBackend{}, tu.NewFakeChannel(true))
			if err := a.SendEngineCommand(context.Background(), "p1", tc.cmd); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	t.Run("Hardware Trigger Emits Mapped Command", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		a := New(Options{
			Backend: &fakeBackend{},
			Channel: ch,
			Mappings: fakeMappings{{
				DeviceType: "midi", Input: "note:36",
				Command: models.EngineCommand{Engine: models.EngineOBS, Action: "setScene", Params: map[string]any{"scene": "Wide"}},
			}},
		})
		a.Watch(context.Background(), "p1")

		id, err := a.HardwareTrigger(context.Background(), "p1", models.HardwareTrigger{DeviceType: "midi", Input: "note:36"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		sent := ch.Emitted(realtime.EventCommandSend)
		if len(sent) != 1 {
			t.Fatalf("expected one command.send, got %d", len(sent))
		}
		p := sent[0].Payload.(realtime.CommandPayload)
		if p.CommandID != id || p.Action != "setScene" || p.ProductionID != "p1" || p.Source != "hardware" {
			t.Errorf("unexpected payload %+v", p)
		}

		if _, err := a.HardwareTrigger(context.Background(), "p1", models.HardwareTrigger{DeviceType: "midi", Input: "note:99"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for unmapped input, got %v", err)
		}
	})

	t.Run("Hardware Trigger While Disconnected", func(t *testing.T) {
		ch := tu.NewFakeChannel(false)
		a := New(Options{
			Backend:  &fakeBackend{},
			Channel:  ch,
			Mappings: fakeMappings{{DeviceType: "hid", Input: "F1", Command: models.EngineCommand{Engine: models.EngineVMix, Action: "Cut"}}},
		})
		a.Watch(context.Background(), "p1")

		_, err := a.HardwareTrigger(context.Background(), "p1", models.HardwareTrigger{DeviceType: "hid", Input: "F1"})
		if !errors.Is(err, shared.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("Command Acks Are Bounded", func(t *testing.T) {
		ch := tu.NewFakeChannel(true)
		a := New(Options{Backend: &fakeBackend{}, Channel: ch, AckLimit: 3, Now: func() time.Time { return fixedNow }})
		a.Watch(context.Background(), "p1")

		for _, id := range []string{"c1", "c2", "c3", "c4"} {
			ch.Deliver(t, realtime.EventCommandAck, realtime.CommandAckPayload{Scope: scope("p1"), CommandAck: models.CommandAck{CommandID: id, Success: true}})
		}

		acks := a.Acks("p1")
		if len(acks) != 3 || acks[0].CommandID != "c2" || acks[2].CommandID != "c4" {
			t.Errorf("unexpected acks %+v", acks)
		}
		if !acks[0].At.Equal(fixedNow) {
			t.Error("expected missing ack time to default to now")
		}
	})
}

func TestClose(t *testing.T) {
	ch := tu.NewFakeChannel(true)
	a := newAggregator(&fakeBackend{}, ch)
	a.Watch(context.Background(), "p1")
	updates := a.Updates("p1")

	a.Close()

	if _, open := <-updates; open {
		t.Error("expected updates to be closed")
	}
	if ch.Handlers(realtime.EventOBSScene) != 0 || ch.Handlers(realtime.EventConnection) != 0 {
		t.Error("expected handlers to be removed")
	}
}
