package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/pion/webrtc/v4"
)

// Event names carried on the channel.
const (
	EventJoin       = "production.join"
	EventLeave      = "production.leave"
	EventPresence   = "presence.update"
	EventConnection = "production.connection"

	EventOBSScene  = "obs.scene.changed"
	EventOBSStream = "obs.stream.state"
	EventOBSRecord = "obs.record.state"
	EventVMixState = "vmix.state"
	EventTelemetry = "engine.telemetry"
	EventTally     = "tally.update"

	EventChatSend    = "chat.send"
	EventChatMessage = "chat.message"
	EventChatTyping  = "chat.typing"

	EventCommandSend = "command.send"
	EventCommandAck  = "command.ack"

	EventOffer     = "webrtc.offer"
	EventAnswer    = "webrtc.answer"
	EventCandidate = "webrtc.candidate"

	EventTalkStart = "talk.start"
	EventTalkStop  = "talk.stop"

	EventAlertSend     = "alert.send"
	EventAlertReceived = "alert.received"
	EventAlertAck      = "alert.ack"
	EventAlertAcked    = "alert.acked"
	EventAlertReply    = "alert.reply"
)

// Frame is the wire envelope of every message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Scoped is implemented by payloads that belong to one production.
type Scoped interface {
	Production() string
}

// Scope carries the production id of a payload.
type Scope struct {
	ProductionID string `json:"productionId"`
}

func (s Scope) Production() string { return s.ProductionID }

type RoomPayload struct {
	Scope
}

// RosterPayload is the full member list of a room. It replaces any previous roster.
type RosterPayload struct {
	Scope
	Members []models.PresenceMember `json:"members"`
}

// ConnectionPayload flips the production's connection flag, or one engine's when Engine is set.
type ConnectionPayload struct {
	Scope
	IsConnected bool              `json:"isConnected"`
	Engine      models.EngineKind `json:"engine,omitempty"`
}

// TelemetryPayload is a partial engine update. Engine may be omitted on engine-specific events.
type TelemetryPayload struct {
	Scope
	Engine    models.EngineKind      `json:"engine,omitempty"`
	Telemetry models.EngineTelemetry `json:"telemetry"`
}

type TallyPayload struct {
	Scope
	models.TallyState
}

type ChatPayload struct {
	models.ChatMessage
	ClientID string `json:"clientId,omitempty"`
}

func (p ChatPayload) Production() string { return p.ProductionID }

type TypingPayload struct {
	Scope
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// CommandPayload is an engine command issued over the channel.
type CommandPayload struct {
	Scope
	CommandID string `json:"commandId"`
	Source    string `json:"source,omitempty"`
	models.EngineCommand
}

type CommandAckPayload struct {
	Scope
	models.CommandAck
}

// SDPPayload relays a session description between two members. Media never crosses the channel.
type SDPPayload struct {
	Scope
	FromUserID   string                    `json:"fromUserId"`
	TargetUserID string                    `json:"targetUserId"`
	SDP          webrtc.SessionDescription `json:"sdp"`
}

type CandidatePayload struct {
	Scope
	FromUserID   string                  `json:"fromUserId"`
	TargetUserID string                  `json:"targetUserId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// TalkPayload opens or closes a talk floor. A nil TargetUserID addresses the whole room.
type TalkPayload struct {
	Scope
	SenderUserID string  `json:"senderUserId"`
	SenderName   string  `json:"senderName,omitempty"`
	TargetUserID *string `json:"targetUserId"`
}

type AlertPayload struct {
	models.Alert
}

func (p AlertPayload) Production() string { return p.ProductionID }

type AckPayload struct {
	Scope
	AlertID   string         `json:"alertId"`
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
	Type      models.AckKind `json:"type"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ReplyPayload is conversational text attached to an alert. It does not acknowledge it.
type ReplyPayload struct {
	Scope
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type decoder func(json.RawMessage) (any, error)

var eventTable = map[string]decoder{
	EventJoin:          decodeAs[RoomPayload],
	EventLeave:         decodeAs[RoomPayload],
	EventPresence:      decodeAs[RosterPayload],
	EventConnection:    decodeAs[ConnectionPayload],
	EventOBSScene:      decodeAs[TelemetryPayload],
	EventOBSStream:     decodeAs[TelemetryPayload],
	EventOBSRecord:     decodeAs[TelemetryPayload],
	EventVMixState:     decodeAs[TelemetryPayload],
	EventTelemetry:     decodeAs[TelemetryPayload],
	EventTally:         decodeAs[TallyPayload],
	EventChatSend:      decodeAs[ChatPayload],
	EventChatMessage:   decodeAs[ChatPayload],
	EventChatTyping:    decodeAs[TypingPayload],
	EventCommandSend:   decodeAs[CommandPayload],
	EventCommandAck:    decodeAs[CommandAckPayload],
	EventOffer:         decodeAs[SDPPayload],
	EventAnswer:        decodeAs[SDPPayload],
	EventCandidate:     decodeAs[CandidatePayload],
	EventTalkStart:     decodeAs[TalkPayload],
	EventTalkStop:      decodeAs[TalkPayload],
	EventAlertSend:     decodeAs[AlertPayload],
	EventAlertReceived: decodeAs[AlertPayload],
	EventAlertAck:      decodeAs[AckPayload],
	EventAlertAcked:    decodeAs[AckPayload],
	EventAlertReply:    decodeAs[ReplyPayload],
}

func decodeAs[T any](data json.RawMessage) (any, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Known reports whether event is in the event table.
func Known(event string) bool {
	_, ok := eventTable[event]
	return ok
}

// Decode converts the data of an event into its payload type.
func Decode(event string, data []byte) (any, error) {
	dec, ok := eventTable[event]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownEvent, event)
	}
	v, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", event, err)
	}
	return v, nil
}

// EncodeFrame builds the wire frame for event with payload as its data.
func EncodeFrame(event string, payload any) ([]byte, error) {
	if !Known(event) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownEvent, event)
	}

	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}
