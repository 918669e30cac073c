package models

import "time"

// RuleTrigger describes what starts an automation rule.
type RuleTrigger struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// RuleAction is one step executed by an automation rule.
type RuleAction struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Rule is an automation rule evaluated by the backend.
type Rule struct {
	ID           string       `json:"id,omitempty"`
	ProductionID string       `json:"productionId,omitempty"`
	Name         string       `json:"name"`
	Enabled      bool         `json:"enabled"`
	Trigger      RuleTrigger  `json:"trigger"`
	Actions      []RuleAction `json:"actions"`
	UpdatedAt    time.Time    `json:"updatedAt,omitempty"`
}

// ExecutionStatus is the state of one rule execution.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the execution has finished.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// ExecutionLog is one entry of the automation execution log.
type ExecutionLog struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"ruleId"`
	ExecutionID string          `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// HardwareMapping binds a peripheral input (MIDI note, HID key, deck button) to an engine command.
type HardwareMapping struct {
	ID           string        `json:"id,omitempty"`
	ProductionID string        `json:"productionId,omitempty"`
	DeviceType   string        `json:"deviceType"`
	Input        string        `json:"input"`
	Label        string        `json:"label,omitempty"`
	Command      EngineCommand `json:"command"`
}

// HardwareTrigger is an opaque command intent emitted by a peripheral driver.
type HardwareTrigger struct {
	DeviceType string `json:"deviceType"`
	Input      string `json:"input"`
}

// Webhook is an outbound notification target registered on a production.
type Webhook struct {
	ID           string   `json:"id,omitempty"`
	ProductionID string   `json:"productionId,omitempty"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Enabled      bool     `json:"enabled"`
}

// Social message moderation states.
const (
	SocialPending  = "pending"
	SocialApproved = "approved"
	SocialOnAir    = "on_air"
	SocialHidden   = "hidden"
)

// SocialMessage is an audience comment pulled from a streaming platform.
type SocialMessage struct {
	ID           string    `json:"id"`
	ProductionID string    `json:"productionId"`
	Platform     string    `json:"platform"`
	Author       string    `json:"author"`
	Content      string    `json:"content"`
	Status       string    `json:"status"`
	ReceivedAt   time.Time `json:"receivedAt"`
}
