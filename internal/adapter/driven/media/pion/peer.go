package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const callbackQueueSize = 64

var ErrForeignTrack = errors.New("track was not captured by this media engine")

// PeerFactory creates pion peer connections sharing one API and ICE
// configuration.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPeerFactory(iceServers []string) (*PeerFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PeerFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
	}, nil
}

func (f *PeerFactory) NewPeer(ctx context.Context) (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		pc:    pc,
		queue: make(chan func(), callbackQueueSize),
		done:  make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// Peer wraps a pion PeerConnection. pion invokes handlers on its own
// goroutines and may hold internal locks while doing so; handlers are
// therefore queued and run by a dedicated goroutine so that Close never
// waits on a consumer that is waiting on Close.
type Peer struct {
	pc    *webrtc.PeerConnection
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func (p *Peer) dispatch() {
	for {
		select {
		case fn := <-p.queue:
			fn()
		case <-p.done:
			return
		}
	}
}

func (p *Peer) enqueue(fn func()) {
	select {
	case p.queue <- fn:
	case <-p.done:
	}
}

func (p *Peer) AddTrack(t port.Track) (port.Sender, error) {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return nil, ErrForeignTrack
	}
	rtpSender, err := p.pc.AddTrack(lt.track)
	if err != nil {
		return nil, err
	}

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &Sender{rtp: rtpSender}, nil
}

func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (p *Peer) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (p *Peer) SetRemoteDescription(desc json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return fmt.Errorf("%w: session description: %v", domain.ErrInvalidPayload, err)
	}
	return p.pc.SetRemoteDescription(sd)
}

func (p *Peer) AddICECandidate(candidate json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &c); err != nil {
		return fmt.Errorf("%w: ice candidate: %v", domain.ErrInvalidPayload, err)
	}
	return p.pc.AddICECandidate(c)
}

func (p *Peer) OnICECandidate(fn func(json.RawMessage)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		p.enqueue(func() { fn(b) })
	})
}

func (p *Peer) OnConnectivityChange(fn func(domain.ConnectivityState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state := connectivity(s)
		p.enqueue(func() { fn(state) })
	})
}

func (p *Peer) OnTrack(fn func(port.Track)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Msg("Received remote track")
		t := &RemoteTrack{remote: remote}
		t.enabled.Store(true)
		p.enqueue(func() { fn(t) })
	})
}

// Close tears the connection down. Queued handlers that did not run yet are
// dropped.
func (p *Peer) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.pc.Close()
}

func connectivity(s webrtc.PeerConnectionState) domain.ConnectivityState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectivityFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectivityClosed
	default:
		return domain.ConnectivityNew
	}
}

// Sender is the RTP sender a local track was attached to.
type Sender struct {
	rtp *webrtc.RTPSender
}

// ReplaceTrack swaps the outgoing track without renegotiation.
func (s *Sender) ReplaceTrack(t port.Track) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}
	return s.rtp.ReplaceTrack(lt.track)
}
