package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const waitTimeout = 2 * time.Second

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// flush returns once every event posted before it was handled.
func flush(s *Session) {
	s.act(actionKind(-1))
}

type fakeTrack struct {
	id     string
	kind   domain.TrackKind
	facing domain.Facing

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeDevices struct {
	mu          sync.Mutex
	err         error
	broken      map[domain.Facing]bool
	gate        chan struct{}
	requests    []domain.CaptureRequest
	tracks      []*fakeTrack
	omitVideo   bool
	nextTrackID int
}

func (d *fakeDevices) Open(ctx context.Context, req domain.CaptureRequest) ([]port.Track, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	if req.Video && d.broken[req.Facing] {
		return nil, fmt.Errorf("no %s camera", req.Facing)
	}

	var out []port.Track
	if req.Audio {
		out = append(out, d.newTrackLocked(domain.TrackAudio, ""))
	}
	if req.Video && !d.omitVideo {
		out = append(out, d.newTrackLocked(domain.TrackVideo, req.Facing))
	}
	return out, nil
}

func (d *fakeDevices) newTrackLocked(kind domain.TrackKind, facing domain.Facing) *fakeTrack {
	d.nextTrackID++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, d.nextTrackID), kind: kind, facing: facing, enabled: true}
	d.tracks = append(d.tracks, t)
	return t
}

func (d *fakeDevices) opened() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.tracks...)
}

func (d *fakeDevices) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDevices) lastRequest() domain.CaptureRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

type fakeSender struct {
	mu       sync.Mutex
	track    port.Track
	err      error
	replaced int
}

func (s *fakeSender) ReplaceTrack(t port.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.track = t
	s.replaced++
	return nil
}

func (s *fakeSender) current() port.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

var (
	fakeOfferSDP  = json.RawMessage(`{"type":"offer","sdp":"fake-offer"}`)
	fakeAnswerSDP = json.RawMessage(`{"type":"answer","sdp":"fake-answer"}`)
)

type fakePeer struct {
	mu          sync.Mutex
	offerGate   chan struct{}
	remoteErr   error
	remote      json.RawMessage
	candidates  []string
	senders     []*fakeSender
	closed      bool
	onCandidate func(json.RawMessage)
	onConn      func(domain.ConnectivityState)
	onTrack     func(port.Track)
}

func (p *fakePeer) AddTrack(t port.Track) (port.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	gate := p.offerGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fakeOfferSDP, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return nil, errors.New("no remote offer")
	}
	return fakeAnswerSDP, nil
}

func (p *fakePeer) SetRemoteDescription(desc json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = desc
	return nil
}

func (p *fakePeer) AddICECandidate(c json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("candidate before remote description")
	}
	p.candidates = append(p.candidates, string(c))
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectivityChange(fn func(domain.ConnectivityState)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(port.Track)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) wired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onCandidate != nil && p.onConn != nil && p.onTrack != nil
}

func (p *fakePeer) emitCandidate(c string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(json.RawMessage(c))
}

func (p *fakePeer) setConnectivity(state domain.ConnectivityState) {
	p.mu.Lock()
	fn := p.onConn
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeer) addedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePeer) remoteDescription() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) videoSender() *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		if s.current().Kind() == domain.TrackVideo {
			return s
		}
	}
	return nil
}

type fakePeerFactory struct {
	mu        sync.Mutex
	offerGate chan struct{}
	remoteErr error
	newErr    error
	peers     []*fakePeer
}

func (f *fakePeerFactory) NewPeer(ctx context.Context) (port.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	p := &fakePeer{offerGate: f.offerGate, remoteErr: f.remoteErr}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
}

func (s *fakeSignaler) Send(ctx context.Context, env domain.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaler) envelopes() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Envelope(nil), s.sent...)
}

func (s *fakeSignaler) kinds() []domain.Kind {
	var out []domain.Kind
	for _, env := range s.envelopes() {
		out = append(out, env.Kind)
	}
	return out
}

func (s *fakeSignaler) has(kind domain.Kind) bool {
	for _, k := range s.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeObserver struct {
	mu        sync.Mutex
	ringing   []domain.Direction
	connected int
	ended     []domain.EndReason
	ticks     []int
}

func (o *fakeObserver) OnRinging(dir domain.Direction) {
	o.mu.Lock()
	o.ringing = append(o.ringing, dir)
	o.mu.Unlock()
}

func (o *fakeObserver) OnConnected() {
	o.mu.Lock()
	o.connected++
	o.mu.Unlock()
}

func (o *fakeObserver) OnEnded(reason domain.EndReason) {
	o.mu.Lock()
	o.ended = append(o.ended, reason)
	o.mu.Unlock()
}

func (o *fakeObserver) OnDurationTick(seconds int) {
	o.mu.Lock()
	o.ticks = append(o.ticks, seconds)
	o.mu.Unlock()
}

func (o *fakeObserver) endReasons() []domain.EndReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.EndReason(nil), o.ended...)
}

func (o *fakeObserver) connectedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func (o *fakeObserver) tickValues() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.ticks...)
}

func (o *fakeObserver) ringingDirs() []domain.Direction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Direction(nil), o.ringing...)
}

type fakeIndicator struct {
	mu     sync.Mutex
	active map[domain.Direction]bool
}

func (i *fakeIndicator) Start(dir domain.Direction) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.active == nil {
		i.active = make(map[domain.Direction]bool)
	}
	i.active[dir] = true
}

func (i *fakeIndicator) Stop(dir domain.Direction) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.active, dir)
}

func (i *fakeIndicator) playing(dir domain.Direction) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active[dir]
}

func (i *fakeIndicator) any() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active) > 0
}

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTimer struct {
	d time.Duration
	fakeTicker
}

func (t *fakeTimer) Stop() bool {
	t.fakeTicker.Stop()
	return true
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) port.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) NewTimer(d time.Duration) port.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fakeTicker: fakeTicker{c: make(chan time.Time)}}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) ticker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

func (c *fakeClock) timer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type fakeChannel struct {
	id string

	mu     sync.Mutex
	got    []domain.Envelope
	closed bool
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) envelopes() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Envelope(nil), c.got...)
}

type fakePresence struct {
	mu      sync.Mutex
	entries map[domain.UserID]domain.NodeID
	err     error
}

func newFakePresence() *fakePresence {
	return &fakePresence{entries: make(map[domain.UserID]domain.NodeID)}
}

func (p *fakePresence) SetOnline(ctx context.Context, userID domain.UserID, node domain.NodeID, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[userID] = node
	return nil
}

func (p *fakePresence) SetOffline(ctx context.Context, userID domain.UserID, node domain.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries[userID] == node {
		delete(p.entries, userID)
	}
	return nil
}

func (p *fakePresence) Lookup(ctx context.Context, userID domain.UserID) (domain.NodeID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", false, p.err
	}
	node, ok := p.entries[userID]
	return node, ok, nil
}

type published struct {
	node domain.NodeID
	env  domain.Envelope
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
	deliver   func(domain.Envelope)
}

func (b *fakeBus) Publish(ctx context.Context, node domain.NodeID, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{node: node, env: env})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, node domain.NodeID, deliver func(domain.Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	return nil
}

func (b *fakeBus) subscriber() func(domain.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deliver
}

func (b *fakeBus) sent() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}
