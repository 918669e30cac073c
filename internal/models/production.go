package models

import (
	"slices"
	"time"
)

// EngineKind names a broadcast engine integration.
type EngineKind string

const (
	EngineOBS  EngineKind = "obs"
	EngineVMix EngineKind = "vmix"
)

// Valid reports whether k is a known engine.
func (k EngineKind) Valid() bool {
	return k == EngineOBS || k == EngineVMix
}

// EngineTelemetry is a partial view of a broadcast engine. A nil field has not been reported yet.
type EngineTelemetry struct {
	Connected      *bool    `json:"connected,omitempty"`
	CurrentScene   *string  `json:"currentScene,omitempty"`
	PreviewScene   *string  `json:"previewScene,omitempty"`
	IsStreaming    *bool    `json:"isStreaming,omitempty"`
	IsRecording    *bool    `json:"isRecording,omitempty"`
	StreamTimecode *string  `json:"streamTimecode,omitempty"`
	RecordTimecode *string  `json:"recordTimecode,omitempty"`
	ActiveInput    *int     `json:"activeInput,omitempty"`
	PreviewInput   *int     `json:"previewInput,omitempty"`
	CPUUsage       *float64 `json:"cpuUsage,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
}

// Merge returns t with every non-nil field of delta applied on top.
func (t EngineTelemetry) Merge(delta EngineTelemetry) EngineTelemetry {
	out := t
	if delta.Connected != nil {
		out.Connected = delta.Connected
	}
	if delta.CurrentScene != nil {
		out.CurrentScene = delta.CurrentScene
	}
	if delta.PreviewScene != nil {
		out.PreviewScene = delta.PreviewScene
	}
	if delta.IsStreaming != nil {
		out.IsStreaming = delta.IsStreaming
	}
	if delta.IsRecording != nil {
		out.IsRecording = delta.IsRecording
	}
	if delta.StreamTimecode != nil {
		out.StreamTimecode = delta.StreamTimecode
	}
	if delta.RecordTimecode != nil {
		out.RecordTimecode = delta.RecordTimecode
	}
	if delta.ActiveInput != nil {
		out.ActiveInput = delta.ActiveInput
	}
	if delta.PreviewInput != nil {
		out.PreviewInput = delta.PreviewInput
	}
	if delta.CPUUsage != nil {
		out.CPUUsage = delta.CPUUsage
	}
	if delta.FPS != nil {
		out.FPS = delta.FPS
	}
	return out
}

// IsEmpty reports whether no field has been reported.
func (t EngineTelemetry) IsEmpty() bool {
	return t == EngineTelemetry{}
}

// Substantive reports whether t carries telemetry beyond the engine's own connection flag.
// Receiving substantive telemetry is evidence that the production is live.
func (t EngineTelemetry) Substantive() bool {
	t.Connected = nil
	return !t.IsEmpty()
}

// TallyState is the program/preview source indication from a broadcast engine.
type TallyState struct {
	Program []string `json:"program"`
	Preview []string `json:"preview"`
}

// Clone returns a deep copy of t.
func (t *TallyState) Clone() *TallyState {
	if t == nil {
		return nil
	}
	return &TallyState{
		Program: slices.Clone(t.Program),
		Preview: slices.Clone(t.Preview),
	}
}

// ProductionState is the merged live view of one production.
type ProductionState struct {
	ProductionID string          `json:"productionId"`
	IsConnected  bool            `json:"isConnected"`
	OBS          EngineTelemetry `json:"obs"`
	VMix         EngineTelemetry `json:"vmix"`
	Tally        *TallyState     `json:"tally,omitempty"`
	LastUpdate   time.Time       `json:"lastUpdate"`
}

// Clone returns a copy of s that shares nothing mutable with it.
//
// Telemetry pointers are shared: merges replace pointers and never write through them.
func (s ProductionState) Clone() ProductionState {
	s.Tally = s.Tally.Clone()
	return s
}

// Engine returns the telemetry for kind.
func (s ProductionState) Engine(kind EngineKind) EngineTelemetry {
	if kind == EngineVMix {
		return s.VMix
	}
	return s.OBS
}

// ApplyTelemetry merges delta into the telemetry of kind.
func (s *ProductionState) ApplyTelemetry(kind EngineKind, delta EngineTelemetry) {
	switch kind {
	case EngineVMix:
		s.VMix = s.VMix.Merge(delta)
	default:
		s.OBS = s.OBS.Merge(delta)
	}
}

// EngineCommand is a mutation sent to a broadcast engine through the backend.
type EngineCommand struct {
	Engine EngineKind     `json:"engine"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// CommandAck is the backend's acknowledgment of a channel-issued command.
type CommandAck struct {
	CommandID string    `json:"commandId"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
