package models

import (
	"fmt"
	"time"
)

// Presence statuses reported by the backend.
const (
	StatusOnline = "online"
	StatusAway   = "away"
	StatusBusy   = "busy"
)

// PresenceMember is one operator present in a production room.
type PresenceMember struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	RoleID   string    `json:"roleId"`
	RoleName string    `json:"roleName"`
	LastSeen time.Time `json:"lastSeen"`
	Status   string    `json:"status"`
}

// TalkSession is an open push-to-talk floor. A nil TargetUserID addresses every room member.
type TalkSession struct {
	ProductionID string  `json:"productionId"`
	SenderUserID string  `json:"senderUserId"`
	TargetUserID *string `json:"targetUserId"`
}

// IsBroadcast reports whether the session addresses the whole room.
func (t TalkSession) IsBroadcast() bool {
	return t.TargetUserID == nil
}

// Targets reports whether the session is a private channel to userID.
func (t TalkSession) Targets(userID string) bool {
	return t.TargetUserID != nil && *t.TargetUserID == userID
}

// Alert is a dispatched attention request shown on receiving devices until acknowledged.
type Alert struct {
	ID           string    `json:"id"`
	ProductionID string    `json:"productionId"`
	Message      string    `json:"message"`
	Color        string    `json:"color"`
	SenderName   string    `json:"senderName"`
	SenderUserID string    `json:"senderUserId,omitempty"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AckKind is the closed set of alert responses.
type AckKind string

const (
	AckConfirmed AckKind = "confirmed"
	AckProblem   AckKind = "problem"
	AckDoNotCut  AckKind = "do_not_cut"
	AckCheck     AckKind = "check"
	AckReady     AckKind = "ready"
	AckReply     AckKind = "reply"
)

// AckKinds lists every valid acknowledgment kind.
var AckKinds = []AckKind{AckConfirmed, AckProblem, AckDoNotCut, AckCheck, AckReady, AckReply}

// ParseAckKind validates s against [AckKinds].
func ParseAckKind(s string) (AckKind, error) {
	for _, k := range AckKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown acknowledgment kind %q", s)
}

// DefaultMessage is the text shown to the dispatcher when an ack carries no free text.
func (k AckKind) DefaultMessage() string {
	switch k {
	case AckConfirmed:
		return "Confirmed"
	case AckProblem:
		return "Problem"
	case AckDoNotCut:
		return "Do not cut"
	case AckCheck:
		return "Checking"
	case AckReady:
		return "Ready"
	default:
		return ""
	}
}

// AckRecord is the last acknowledgment received for an alert, kept on the dispatcher's side.
type AckRecord struct {
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Type      AckKind   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is one entry of a production chat.
type ChatMessage struct {
	ID           string    `json:"id"`
	ProductionID string    `json:"productionId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}
