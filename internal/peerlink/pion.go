package peerlink

import (
	pion "github.com/pion/webrtc/v4"

	"github.com/wsxxll/webchat/internal/config"
	"github.com/wsxxll/webchat/internal/utils"
)

// PionFactory builds transports on pion peer connections.
type PionFactory struct {
	Config pion.Configuration
}

// NewPionFactory derives the ICE configuration from cfg. When TURN is
// configured and the host looks to be behind CGNAT or a VPN, only relay
// candidates are used.
func NewPionFactory(cfg *config.Config) *PionFactory {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && utils.ShouldForceRelay() {
		policy = pion.ICETransportPolicyRelay
	}

	return &PionFactory{Config: pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}}
}

func (f *PionFactory) NewTransport(h Handlers) (Transport, error) {
	pc, err := pion.NewPeerConnection(f.Config)
	if err != nil {
		return nil, NewError("create peer connection", err)
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		h.OnCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if h.OnState == nil {
			return
		}
		switch state {
		case pion.PeerConnectionStateConnected:
			h.OnState(StateConnected)
		case pion.PeerConnectionStateFailed:
			h.OnState(StateFailed)
		case pion.PeerConnectionStateClosed:
			h.OnState(StateClosed)
		}
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if h.OnChannel != nil {
			h.OnChannel(&pionChannel{dc: dc})
		}
	})

	return &pionTransport{pc: pc}, nil
}

type pionTransport struct {
	pc *pion.PeerConnection
}

func (t *pionTransport) CreateChannel(label string) (Channel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, NewError("create data channel", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (t *pionTransport) CreateOffer() (Description, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, NewError("create offer", err)
	}
	if err = t.pc.SetLocalDescription(offer); err != nil {
		return Description{}, NewError("set local description", err)
	}
	return fromPion(t.pc.LocalDescription()), nil
}

func (t *pionTransport) CreateAnswer() (Description, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, NewError("create answer", err)
	}
	if err = t.pc.SetLocalDescription(answer); err != nil {
		return Description{}, NewError("set local description", err)
	}
	return fromPion(t.pc.LocalDescription()), nil
}

func (t *pionTransport) SetRemoteDescription(d Description) error {
	desc := pion.SessionDescription{Type: pion.NewSDPType(d.Type), SDP: d.SDP}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (t *pionTransport) AddCandidate(c Candidate) error {
	if err := t.pc.AddICECandidate(c); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func fromPion(d *pion.SessionDescription) Description {
	if d == nil {
		return Description{}
	}
	return Description{Type: d.Type.String(), SDP: d.SDP}
}

type pionChannel struct {
	dc *pion.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) Send(data []byte) error { return c.dc.Send(data) }

func (c *pionChannel) SendText(s string) error { return c.dc.SendText(s) }

func (c *pionChannel) BufferedAmount() uint64 { return c.dc.BufferedAmount() }

func (c *pionChannel) Close() error { return c.dc.Close() }

func (c *pionChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(data []byte, text bool)) {
	c.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(msg.Data, msg.IsString)
	})
}
