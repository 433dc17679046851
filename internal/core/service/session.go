package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	durationTickPeriod = time.Second
	sendTimeout        = 5 * time.Second
)

// SessionConfig describes one call attempt from one participant's side.
type SessionConfig struct {
	Local  domain.UserID
	Remote domain.UserID
	Role   domain.Role
	// MediaKind is chosen by the caller; a callee takes it from the offer.
	MediaKind domain.MediaKind
	// RingTimeout moves an unanswered Dialing/RingingLocal session to
	// Failed. Zero rings forever.
	RingTimeout time.Duration
}

// SessionDeps are the collaborators a session drives.
type SessionDeps struct {
	Signaler  port.Signaler
	Media     *MediaManager
	Peers     port.PeerFactory
	Observer  port.CallObserver
	Indicator port.Indicator
	Clock     port.Clock
}

type nopObserver struct{}

func (nopObserver) OnRinging(domain.Direction) {}
func (nopObserver) OnConnected()               {}
func (nopObserver) OnEnded(domain.EndReason)   {}
func (nopObserver) OnDurationTick(int)         {}

// SessionSnapshot is a consistent copy of the session's state taken at the
// end of the last processed event.
type SessionSnapshot struct {
	ID                domain.SessionID
	State             domain.SessionState
	Role              domain.Role
	MediaKind         domain.MediaKind
	StartedAt         time.Time
	PendingCandidates int
	HasLocalMedia     bool
	HasPeer           bool
	RemoteTracks      int
}

// Session is the per-participant call state machine. Every input (user
// actions, inbound envelopes, media callbacks, async results, timers) is an
// event handled to completion by a single loop goroutine.
type Session struct {
	id          domain.SessionID
	local       domain.UserID
	remote      domain.UserID
	role        domain.Role
	kind        domain.MediaKind
	ringTimeout time.Duration
	deps        SessionDeps
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
	start  sync.Once

	mu   sync.RWMutex
	snap SessionSnapshot

	// Owned by the loop goroutine.
	state              domain.SessionState
	startedAt          time.Time
	localMedia         *MediaHandle
	remoteTracks       []port.Track
	peer               port.PeerConnection
	videoSender        port.Sender
	remoteOffer        json.RawMessage
	remoteApplied      bool
	pendingCandidates  []json.RawMessage
	localSent          bool
	outgoingCandidates []json.RawMessage
	connectedEarly     bool
	indicator          domain.Direction
	ticker             port.Ticker
	ticks              int
	ringTimer          port.Timer
	switchReply        chan actionResult
}

func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	kind := cfg.MediaKind
	if kind == "" {
		kind = domain.MediaAudioVideo
	}
	id := domain.NewSessionID()
	s := &Session{
		id:          id,
		local:       cfg.Local,
		remote:      cfg.Remote,
		role:        cfg.Role,
		kind:        kind,
		ringTimeout: cfg.RingTimeout,
		deps:        deps,
		events:      make(chan event),
		done:        make(chan struct{}),
		state:       domain.StateIdle,
		log: log.With().
			Str("session_id", id.String()).
			Str("remote", cfg.Remote.String()).
			Str("role", string(cfg.Role)).
			Logger(),
	}
	s.publish()
	return s
}

// Start launches the event loop. The session context doubles as the
// cancellation token for in-flight acquisitions and negotiations; cancelling
// parent ends the call locally.
func (s *Session) Start(parent context.Context) {
	s.start.Do(func() {
		s.ctx, s.cancel = context.WithCancel(parent)
		go s.run()
	})
}

func (s *Session) ID() domain.SessionID  { return s.id }
func (s *Session) Remote() domain.UserID { return s.remote }
func (s *Session) Role() domain.Role     { return s.role }

// Done is closed once the session reached a terminal state and released
// its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() domain.SessionState {
	return s.Snapshot().State
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Dial places the outgoing call.
func (s *Session) Dial() error { return s.act(actionDial).err }

// Accept answers a ringing incoming call.
func (s *Session) Accept() error { return s.act(actionAccept).err }

// Decline rejects a ringing incoming call without touching any device.
func (s *Session) Decline() error { return s.act(actionDecline).err }

// End hangs up from any non-terminal state.
func (s *Session) End() error { return s.act(actionEnd).err }

func (s *Session) ToggleAudio() (bool, error) {
	r := s.act(actionToggleAudio)
	return r.enabled, r.err
}

func (s *Session) ToggleVideo() (bool, error) {
	r := s.act(actionToggleVideo)
	return r.enabled, r.err
}

// SwitchCamera returns once the switch attempt finished. A failed
// re-acquisition is logged and leaves the current camera in place.
func (s *Session) SwitchCamera() error { return s.act(actionSwitchCamera).err }

// Supersede drops a callee session that is still ringing, without telling
// the remote, because the remote placed a fresh call. It fails with
// ErrInvalidTransition once the call was answered.
func (s *Session) Supersede() error { return s.act(actionSupersede).err }

// HandleEnvelope feeds an inbound envelope to the loop.
func (s *Session) HandleEnvelope(env domain.Envelope) error {
	return s.post(envelopeEvent{env: env})
}

func (s *Session) act(kind actionKind) actionResult {
	ev := actionEvent{kind: kind, reply: make(chan actionResult, 1)}
	if err := s.post(ev); err != nil {
		return actionResult{err: err}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-s.done:
		select {
		case r := <-ev.reply:
			return r
		default:
			return actionResult{err: domain.ErrSessionClosed}
		}
	}
}

// post hands ev to the loop. Once the loop is gone the event is discarded
// and any resource it carries is released.
func (s *Session) post(ev event) error {
	if s.ctx == nil {
		return fmt.Errorf("%w: session not started", domain.ErrSessionClosed)
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		if d, ok := ev.(discarder); ok {
			d.discard()
		}
		return domain.ErrSessionClosed
	}
}

func (s *Session) spawn(op func(ctx context.Context) event) {
	ctx := s.ctx
	go func() {
		s.post(op(ctx))
	}()
}

func (s *Session) run() {
	defer close(s.done)
	parentDone := s.ctx.Done()
	for !s.state.Terminal() {
		var tickC, ringC <-chan time.Time
		if s.ticker != nil {
			tickC = s.ticker.C()
		}
		if s.ringTimer != nil {
			ringC = s.ringTimer.C()
		}

		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-tickC:
			s.ticks++
			s.deps.Observer.OnDurationTick(s.ticks)
		case <-ringC:
			s.ringTimer = nil
			s.onRingTimeout()
		case <-parentDone:
			s.log.Info().Msg("Session context cancelled, hanging up")
			s.finish(domain.StateEnded, domain.ReasonLocalHangup, s.hangupNotice())
		}
		s.publish()
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case actionEvent:
		s.handleAction(ev)
	case envelopeEvent:
		s.handleEnvelope(ev.env)
	case mediaAcquiredEvent:
		s.onMediaAcquired(ev)
	case descriptionEvent:
		s.onDescription(ev)
	case localCandidateEvent:
		s.onLocalCandidate(ev.candidate)
	case connectivityEvent:
		s.onConnectivity(ev.state)
	case remoteTrackEvent:
		s.remoteTracks = append(s.remoteTracks, ev.track)
	case cameraSwitchedEvent:
		s.onCameraSwitched(ev.err)
	}
}

func (s *Session) handleAction(ev actionEvent) {
	var r actionResult
	switch ev.kind {
	case actionDial:
		r.err = s.dial()
	case actionAccept:
		r.err = s.accept()
	case actionDecline:
		r.err = s.decline()
	case actionEnd:
		s.finish(domain.StateEnded, domain.ReasonLocalHangup, s.hangupNotice())
	case actionSupersede:
		if s.role != domain.RoleCallee || (s.state != domain.StateIdle && s.state != domain.StateRingingLocal) {
			r.err = fmt.Errorf("%w: supersede from %s", domain.ErrInvalidTransition, s.state)
			break
		}
		s.finish(domain.StateEnded, domain.ReasonSuperseded, "")
	case actionToggleAudio, actionToggleVideo:
		if s.localMedia == nil {
			r.err = fmt.Errorf("%w: no local media", domain.ErrInvalidTransition)
			break
		}
		if ev.kind == actionToggleAudio {
			r.enabled, r.err = s.localMedia.ToggleAudio()
		} else {
			r.enabled, r.err = s.localMedia.ToggleVideo()
		}
	case actionSwitchCamera:
		if s.localMedia == nil || s.localMedia.Video() == nil {
			r.err = fmt.Errorf("%w: no camera in use", domain.ErrInvalidTransition)
			break
		}
		if s.switchReply != nil {
			r.err = fmt.Errorf("%w: camera switch already in progress", domain.ErrInvalidTransition)
			break
		}
		s.switchReply = ev.reply
		handle, sender, media := s.localMedia, s.videoSender, s.deps.Media
		s.spawn(func(ctx context.Context) event {
			return cameraSwitchedEvent{err: media.SwitchCamera(ctx, handle, sender)}
		})
		return
	}
	s.publish()
	ev.reply <- r
}

func (s *Session) dial() error {
	if s.role != domain.RoleCaller || s.state != domain.StateIdle {
		return fmt.Errorf("%w: dial from %s", domain.ErrInvalidTransition, s.state)
	}
	s.setState(domain.StateDialing)
	s.armRingTimer()
	s.acquire()
	return nil
}

func (s *Session) accept() error {
	if s.state != domain.StateRingingLocal {
		return fmt.Errorf("%w: accept from %s", domain.ErrInvalidTransition, s.state)
	}
	s.disarmRingTimer()
	s.stopIndicator()
	s.setState(domain.StateNegotiating)
	s.acquire()
	return nil
}

func (s *Session) decline() error {
	if s.state != domain.StateRingingLocal {
		return fmt.Errorf("%w: decline from %s", domain.ErrInvalidTransition, s.state)
	}
	s.finish(domain.StateDeclined, domain.ReasonDeclinedLocal, domain.KindDeclined)
	return nil
}

func (s *Session) acquire() {
	media, kind := s.deps.Media, s.kind
	s.spawn(func(ctx context.Context) event {
		h, err := media.Acquire(ctx, kind)
		return mediaAcquiredEvent{handle: h, err: err}
	})
}

func (s *Session) handleEnvelope(env domain.Envelope) {
	if env.From != s.remote {
		s.log.Debug().Str("from", env.From.String()).Str("kind", env.Kind.String()).Msg("Ignoring envelope from another user")
		return
	}

	switch env.Kind {
	case domain.KindOffer:
		if s.role != domain.RoleCallee || s.state != domain.StateIdle {
			s.log.Warn().Str("state", s.state.String()).Msg("Ignoring unexpected offer")
			return
		}
		s.remoteOffer = env.Payload
		s.kind = domain.MediaKindFor(env.IsVideoCall)
		s.setState(domain.StateRingingLocal)
		s.startIndicator(domain.DirectionIncoming)
		s.deps.Observer.OnRinging(domain.DirectionIncoming)
		s.armRingTimer()

	case domain.KindAnswer:
		if s.role != domain.RoleCaller || s.peer == nil || s.remoteApplied {
			s.log.Warn().Str("state", s.state.String()).Msg("Ignoring unexpected answer")
			return
		}
		if s.state != domain.StateDialing && s.state != domain.StateNegotiating {
			return
		}
		if err := s.applyRemote(env.Payload); err != nil {
			s.failNegotiation(err)
		}

	case domain.KindIceCandidate:
		switch s.state {
		case domain.StateRingingLocal, domain.StateDialing, domain.StateNegotiating, domain.StateConnected:
		default:
			return
		}
		if !s.remoteApplied || s.peer == nil {
			s.pendingCandidates = append(s.pendingCandidates, env.Payload)
			return
		}
		if err := s.peer.AddICECandidate(env.Payload); err != nil {
			s.failNegotiation(fmt.Errorf("add candidate: %w", err))
		}

	case domain.KindAccepted:
		if s.role != domain.RoleCaller || s.state != domain.StateDialing {
			return
		}
		s.disarmRingTimer()
		s.stopIndicator()
		s.setState(domain.StateNegotiating)
		if s.connectedEarly {
			s.enterConnected()
		}

	case domain.KindEnded:
		if s.state == domain.StateIdle {
			return
		}
		s.finish(domain.StateEnded, domain.ReasonRemoteHangup, "")

	case domain.KindDeclined:
		if s.state != domain.StateDialing {
			s.log.Warn().Str("state", s.state.String()).Msg("Ignoring decline outside of dialing")
			return
		}
		s.finish(domain.StateDeclined, domain.ReasonDeclinedRemote, "")
	}
}

// applyRemote applies the peer's description and admits every buffered
// candidate in arrival order.
func (s *Session) applyRemote(desc json.RawMessage) error {
	if err := s.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply remote description: %w", err)
	}
	s.remoteApplied = true

	pending := s.pendingCandidates
	s.pendingCandidates = nil
	for i, c := range pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate %d: %w", i, err)
		}
	}
	return nil
}

func (s *Session) onMediaAcquired(ev mediaAcquiredEvent) {
	if ev.err != nil {
		s.log.Error().Err(ev.err).Msg("Media acquisition failed")
		var notice domain.Kind
		if s.role == domain.RoleCallee {
			notice = domain.KindEnded
		}
		s.finish(domain.StateFailed, domain.ReasonDeviceUnavailable, notice)
		return
	}
	if s.localMedia != nil {
		ev.handle.Release()
		return
	}
	s.localMedia = ev.handle

	peer, err := s.deps.Peers.NewPeer(s.ctx)
	if err != nil {
		s.failNegotiation(fmt.Errorf("create peer: %w", err))
		return
	}
	s.peer = peer
	peer.OnICECandidate(func(c json.RawMessage) {
		s.post(localCandidateEvent{candidate: c})
	})
	peer.OnConnectivityChange(func(state domain.ConnectivityState) {
		s.post(connectivityEvent{state: state})
	})
	peer.OnTrack(func(t port.Track) {
		s.post(remoteTrackEvent{track: t})
	})

	for _, t := range s.localMedia.Tracks() {
		sender, err := peer.AddTrack(t)
		if err != nil {
			s.failNegotiation(fmt.Errorf("add %s track: %w", t.Kind(), err))
			return
		}
		if t.Kind() == domain.TrackVideo {
			s.videoSender = sender
		}
	}

	if s.role == domain.RoleCaller {
		s.spawn(func(ctx context.Context) event {
			desc, err := peer.CreateOffer(ctx)
			return descriptionEvent{kind: domain.KindOffer, desc: desc, err: err}
		})
		return
	}

	if err := s.applyRemote(s.remoteOffer); err != nil {
		s.failNegotiation(err)
		return
	}
	s.spawn(func(ctx context.Context) event {
		desc, err := peer.CreateAnswer(ctx)
		return descriptionEvent{kind: domain.KindAnswer, desc: desc, err: err}
	})
}

func (s *Session) onDescription(ev descriptionEvent) {
	if ev.err != nil {
		s.failNegotiation(fmt.Errorf("create %s: %w", ev.kind, ev.err))
		return
	}
	switch ev.kind {
	case domain.KindOffer:
		s.startIndicator(domain.DirectionOutgoing)
		s.deps.Observer.OnRinging(domain.DirectionOutgoing)
		s.send(domain.NewOffer(s.local, s.remote, ev.desc, s.kind.HasVideo()))
	case domain.KindAnswer:
		s.send(domain.NewAnswer(s.local, s.remote, ev.desc))
		s.send(domain.NewAccepted(s.local, s.remote))
	}
	s.localSent = true

	queued := s.outgoingCandidates
	s.outgoingCandidates = nil
	for _, c := range queued {
		s.send(domain.NewIceCandidate(s.local, s.remote, c))
	}
}

func (s *Session) onLocalCandidate(c json.RawMessage) {
	if !s.localSent {
		s.outgoingCandidates = append(s.outgoingCandidates, c)
		return
	}
	s.send(domain.NewIceCandidate(s.local, s.remote, c))
}

func (s *Session) onConnectivity(state domain.ConnectivityState) {
	s.log.Debug().Str("connectivity", string(state)).Str("state", s.state.String()).Msg("Connectivity changed")
	switch state {
	case domain.ConnectivityConnected:
		switch s.state {
		case domain.StateNegotiating:
			s.enterConnected()
		case domain.StateDialing:
			s.connectedEarly = true
		}
	case domain.ConnectivityDisconnected:
		switch s.state {
		case domain.StateConnected:
			s.finish(domain.StateEnded, domain.ReasonConnectivityLoss, domain.KindEnded)
		case domain.StateDialing:
			// May recover; accepted must wait for the next "connected".
			s.connectedEarly = false
		}
	case domain.ConnectivityFailed, domain.ConnectivityClosed:
		switch s.state {
		case domain.StateConnected:
			s.finish(domain.StateEnded, domain.ReasonConnectivityLoss, domain.KindEnded)
		case domain.StateDialing, domain.StateNegotiating:
			s.failNegotiation(domain.ErrConnectivityLoss)
		}
	}
}

func (s *Session) enterConnected() {
	s.stopIndicator()
	s.setState(domain.StateConnected)
	s.startedAt = s.deps.Clock.Now()
	s.ticks = 0
	s.ticker = s.deps.Clock.NewTicker(durationTickPeriod)
	s.log.Info().Msg("Call connected")
	s.deps.Observer.OnConnected()
}

func (s *Session) onCameraSwitched(err error) {
	reply := s.switchReply
	s.switchReply = nil
	if err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		s.log.Warn().Err(err).Msg("Camera switch failed, keeping current camera")
	}
	if reply != nil {
		s.publish()
		reply <- actionResult{}
	}
}

func (s *Session) onRingTimeout() {
	switch s.state {
	case domain.StateDialing, domain.StateRingingLocal:
		s.log.Info().Dur("timeout", s.ringTimeout).Msg("Call was not answered")
		s.finish(domain.StateFailed, domain.ReasonRingTimeout, s.hangupNotice())
	}
}

func (s *Session) failNegotiation(err error) {
	s.log.Error().Err(err).Msg("Negotiation failed")
	s.finish(domain.StateEnded, domain.ReasonNegotiation, s.hangupNotice())
}

// hangupNotice is the envelope that tells the peer we are gone, if it knows
// about the call at all. A callee always does once it rings; the caller's
// peer only after the offer went out.
func (s *Session) hangupNotice() domain.Kind {
	if s.state == domain.StateIdle {
		return ""
	}
	if s.role == domain.RoleCaller && !s.localSent {
		return ""
	}
	return domain.KindEnded
}

// finish moves the session to a terminal state exactly once, releasing every
// resource on the way.
func (s *Session) finish(final domain.SessionState, reason domain.EndReason, notice domain.Kind) {
	if s.state.Terminal() {
		return
	}
	if final == domain.StateEnded {
		s.setState(domain.StateEnding)
	}
	switch notice {
	case domain.KindEnded:
		s.send(domain.NewEnded(s.local, s.remote))
	case domain.KindDeclined:
		s.send(domain.NewDeclined(s.local, s.remote))
	}
	s.release()
	s.setState(final)
	s.log.Info().Str("state", final.String()).Str("reason", string(reason)).Msg("Session finished")
	s.deps.Observer.OnEnded(reason)
	s.cancel()
}

func (s *Session) release() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.disarmRingTimer()
	s.stopIndicator()
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Error closing peer connection")
		}
	}
	if s.localMedia != nil {
		s.deps.Media.Release(s.localMedia)
	}
	s.remoteTracks = nil
	s.pendingCandidates = nil
	s.outgoingCandidates = nil
	if s.switchReply != nil {
		s.switchReply <- actionResult{err: domain.ErrSessionClosed}
		s.switchReply = nil
	}
}

func (s *Session) send(env domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), sendTimeout)
	defer cancel()
	if err := s.deps.Signaler.Send(ctx, env); err != nil {
		s.log.Warn().Err(err).Str("kind", env.Kind.String()).Msg("Failed to send envelope")
	}
}

func (s *Session) startIndicator(dir domain.Direction) {
	s.stopIndicator()
	s.indicator = dir
	if s.deps.Indicator != nil {
		s.deps.Indicator.Start(dir)
	}
}

func (s *Session) stopIndicator() {
	if s.indicator == "" {
		return
	}
	if s.deps.Indicator != nil {
		s.deps.Indicator.Stop(s.indicator)
	}
	s.indicator = ""
}

func (s *Session) armRingTimer() {
	if s.ringTimeout > 0 && s.ringTimer == nil {
		s.ringTimer = s.deps.Clock.NewTimer(s.ringTimeout)
	}
}

func (s *Session) disarmRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) setState(next domain.SessionState) {
	s.log.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("Session transition")
	s.state = next
}

func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = SessionSnapshot{
		ID:                s.id,
		State:             s.state,
		Role:              s.role,
		MediaKind:         s.kind,
		StartedAt:         s.startedAt,
		PendingCandidates: len(s.pendingCandidates),
		HasLocalMedia:     s.localMedia != nil,
		HasPeer:           s.peer != nil,
		RemoteTracks:      len(s.remoteTracks),
	}
}
