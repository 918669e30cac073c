package intercom

import (
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/pion/webrtc/v4"
)

// Signal is call setup metadata addressed to this client. Exactly one of SDP and Candidate is set.
type Signal struct {
	Event      string
	FromUserID string
	SDP        *webrtc.SessionDescription
	Candidate  *webrtc.ICECandidateInit
}

// OnSignal registers fn for inbound offers, answers and candidates addressed to this client.
func (c *Coordinator) OnSignal(fn func(Signal)) func() {
	return c.signalListeners.add(fn)
}

// SendOffer relays a session offer to a present member.
func (c *Coordinator) SendOffer(targetUserID string, offer webrtc.SessionDescription) error {
	return c.sendSDP(realtime.EventOffer, targetUserID, offer)
}

// SendAnswer relays a session answer to a present member.
func (c *Coordinator) SendAnswer(targetUserID string, answer webrtc.SessionDescription) error {
	return c.sendSDP(realtime.EventAnswer, targetUserID, answer)
}

// SendCandidate relays an ICE candidate to a present member.
func (c *Coordinator) SendCandidate(targetUserID string, candidate webrtc.ICECandidateInit) error {
	if _, err := c.resolve(targetUserID); err != nil {
		return err
	}
	return c.ch.Emit(realtime.EventCandidate, realtime.CandidatePayload{
		Scope:        realtime.Scope{ProductionID: c.productionID},
		FromUserID:   c.self.ID,
		TargetUserID: targetUserID,
		Candidate:    candidate,
	})
}

func (c *Coordinator) sendSDP(event, targetUserID string, sdp webrtc.SessionDescription) error {
	if _, err := c.resolve(targetUserID); err != nil {
		return err
	}
	return c.ch.Emit(event, realtime.SDPPayload{
		Scope:        realtime.Scope{ProductionID: c.productionID},
		FromUserID:   c.self.ID,
		TargetUserID: targetUserID,
		SDP:          sdp,
	})
}

func (c *Coordinator) handleSDP(event string) func(realtime.SDPPayload) {
	return func(p realtime.SDPPayload) {
		if !c.inScope(p) || p.TargetUserID != c.self.ID {
			return
		}
		sdp := p.SDP
		c.signalListeners.emit(Signal{Event: event, FromUserID: p.FromUserID, SDP: &sdp})
	}
}

func (c *Coordinator) handleCandidate(p realtime.CandidatePayload) {
	if !c.inScope(p) || p.TargetUserID != c.self.ID {
		return
	}
	candidate := p.Candidate
	c.signalListeners.emit(Signal{Event: realtime.EventCandidate, FromUserID: p.FromUserID, Candidate: &candidate})
}
