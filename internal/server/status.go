package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/desertthunder/cuedeck/internal/intercom"
	"github.com/desertthunder/cuedeck/internal/models"
)

// StateSource is the aggregator's read side.
type StateSource interface {
	Get(productionID string) (models.ProductionState, bool)
}

// RosterSource is the presence tracker's read side.
type RosterSource interface {
	Members(productionID string) []models.PresenceMember
	Synced(productionID string) bool
}

// IntercomSource is a per-production intercom coordinator's read side.
type IntercomSource interface {
	ProductionID() string
	Talk() intercom.TalkStatus
	ActiveAlert() (models.Alert, bool)
	History() []models.AckRecord
}

// PresenceView is the body of the presence route.
type PresenceView struct {
	ProductionID string                  `json:"productionId"`
	Synced       bool                    `json:"synced"`
	Members      []models.PresenceMember `json:"members"`
}

// IntercomView is the body of the intercom route.
type IntercomView struct {
	ProductionID string               `json:"productionId"`
	State        string               `json:"state"`
	Session      *models.TalkSession  `json:"session,omitempty"`
	Incoming     []models.TalkSession `json:"incoming"`
	Listening    []models.TalkSession `json:"listening"`
	ActiveAlert  *models.Alert        `json:"activeAlert,omitempty"`
	History      []models.AckRecord   `json:"history"`
}

// StatusHandler serves read-only JSON views of the local state.
type StatusHandler struct {
	states StateSource
	roster RosterSource

	mu       sync.RWMutex
	intercom map[string]IntercomSource

	mux *http.ServeMux
}

// NewStatusHandler creates a handler. Either source may be nil, in which case its route answers 404.
func NewStatusHandler(states StateSource, roster RosterSource, coordinators ...IntercomSource) *StatusHandler {
	h := &StatusHandler{
		states:   states,
		roster:   roster,
		intercom: make(map[string]IntercomSource),
		mux:      http.NewServeMux(),
	}
	for _, c := range coordinators {
		h.AddIntercom(c)
	}

	h.mux.HandleFunc("GET /productions/{id}/state", h.state)
	h.mux.HandleFunc("GET /productions/{id}/presence", h.presence)
	h.mux.HandleFunc("GET /productions/{id}/intercom", h.talk)
	return h
}

// AddIntercom exposes a coordinator under its production id.
func (h *StatusHandler) AddIntercom(c IntercomSource) {
	h.mu.Lock()
	h.intercom[c.ProductionID()] = c
	h.mu.Unlock()
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []string {
	return []string{
		"GET /productions/{id}/state",
		"GET /productions/{id}/presence",
		"GET /productions/{id}/intercom",
	}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *StatusHandler) state(w http.ResponseWriter, r *http.Request) {
	if h.states == nil {
		writeError(w, http.StatusNotFound, "state not available")
		return
	}
	state, ok := h.states.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "production not watched")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *StatusHandler) presence(w http.ResponseWriter, r *http.Request) {
	if h.roster == nil {
		writeError(w, http.StatusNotFound, "presence not available")
		return
	}
	id := r.PathValue("id")
	members := h.roster.Members(id)
	if members == nil {
		members = []models.PresenceMember{}
	}
	writeJSON(w, http.StatusOK, PresenceView{ProductionID: id, Synced: h.roster.Synced(id), Members: members})
}

func (h *StatusHandler) talk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.RLock()
	c, ok := h.intercom[id]
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "intercom not joined")
		return
	}

	status := c.Talk()
	view := IntercomView{
		ProductionID: id,
		State:        status.State.String(),
		Session:      status.Session,
		Incoming:     nonNil(status.Incoming),
		Listening:    nonNil(status.Listening),
		History:      nonNil(c.History()),
	}
	if alert, ok := c.ActiveAlert(); ok {
		view.ActiveAlert = &alert
	}
	writeJSON(w, http.StatusOK, view)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": status, "message": message})
}
