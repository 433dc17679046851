package pion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const sampleInterval = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of comfort silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Devices is a synthetic capture backend for headless clients: the
// microphone produces silence and each configured camera facing is available
// as an idle video source.
type Devices struct {
	streamID string
	cameras  map[domain.Facing]bool
	noMic    bool
}

type DevicesOption func(*Devices)

// WithCameras restricts which camera facings can be opened.
func WithCameras(facings ...domain.Facing) DevicesOption {
	return func(d *Devices) {
		d.cameras = make(map[domain.Facing]bool, len(facings))
		for _, f := range facings {
			d.cameras[f] = true
		}
	}
}

// WithoutMicrophone makes every acquisition fail, as on a host with no
// audio input.
func WithoutMicrophone() DevicesOption {
	return func(d *Devices) {
		d.noMic = true
	}
}

func NewDevices(opts ...DevicesOption) *Devices {
	d := &Devices{
		streamID: uuid.NewString(),
		cameras: map[domain.Facing]bool{
			domain.FacingUser:        true,
			domain.FacingEnvironment: true,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Devices) Open(ctx context.Context, req domain.CaptureRequest) ([]port.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Audio && d.noMic {
		return nil, fmt.Errorf("%w: no microphone", domain.ErrDeviceUnavailable)
	}
	if req.Video && !d.cameras[req.Facing] {
		return nil, fmt.Errorf("%w: no %s camera", domain.ErrDeviceUnavailable, req.Facing)
	}

	var tracks []port.Track
	if req.Audio {
		t, err := d.newTrack(domain.TrackAudio, webrtc.MimeTypeOpus, opusSilence)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if req.Video {
		t, err := d.newTrack(domain.TrackVideo, webrtc.MimeTypeVP8, nil)
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (d *Devices) newTrack(kind domain.TrackKind, mime string, frame []byte) (*LocalTrack, error) {
	id := string(kind) + "-" + uuid.NewString()
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, d.streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	t := &LocalTrack{
		id:    id,
		kind:  kind,
		track: sample,
		stop:  make(chan struct{}),
	}
	t.enabled.Store(true)
	if frame != nil {
		go t.generate(frame)
	}
	return t, nil
}

func stopAll(tracks []port.Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

// LocalTrack is a captured outgoing track.
type LocalTrack struct {
	id    string
	kind  domain.TrackKind
	track *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	once    sync.Once
	stop    chan struct{}
}

// generate feeds the track until it is stopped. A disabled track sends
// nothing, which the remote side sees as muted.
func (t *LocalTrack) generate(frame []byte) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: frame, Duration: sampleInterval}); err != nil {
				log.Debug().Err(err).Str("track_id", t.id).Msg("Failed to write sample")
			}
		}
	}
}

func (t *LocalTrack) ID() string             { return t.id }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }
func (t *LocalTrack) Enabled() bool          { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *LocalTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *LocalTrack) Stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// RemoteTrack is a track received from the peer. Disabling it only hides it
// locally.
type RemoteTrack struct {
	remote  *webrtc.TrackRemote
	enabled atomic.Bool
	stopped atomic.Bool
}

func (t *RemoteTrack) ID() string { return t.remote.ID() }

func (t *RemoteTrack) Kind() domain.TrackKind {
	if t.remote.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func (t *RemoteTrack) Enabled() bool           { return t.enabled.Load() }
func (t *RemoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *RemoteTrack) Stop()                   { t.stopped.Store(true) }
func (t *RemoteTrack) Stopped() bool           { return t.stopped.Load() }
