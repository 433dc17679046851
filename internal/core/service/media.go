package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// MediaManager acquires and releases capture devices and keeps the
// outgoing tracks in sync with user toggles.
type MediaManager struct {
	devices port.Devices
	facing  domain.Facing
}

func NewMediaManager(devices port.Devices) *MediaManager {
	return &MediaManager{
		devices: devices,
		facing:  domain.FacingUser,
	}
}

// MediaHandle owns the local tracks of one session.
type MediaHandle struct {
	mu       sync.Mutex
	kind     domain.MediaKind
	audio    port.Track
	video    port.Track
	facing   domain.Facing
	released bool
}

// Acquire opens the microphone, plus the camera for audio/video calls. Any
// failure is reported as domain.ErrDeviceUnavailable and leaves nothing
// open.
func (m *MediaManager) Acquire(ctx context.Context, kind domain.MediaKind) (*MediaHandle, error) {
	req := domain.CaptureRequest{
		Audio:  true,
		Video:  kind.HasVideo(),
		Facing: m.facing,
	}
	tracks, err := m.devices.Open(ctx, req)
	if err != nil {
		return nil, deviceError(err)
	}

	h := &MediaHandle{kind: kind, facing: m.facing}
	for _, t := range tracks {
		switch {
		case t.Kind() == domain.TrackAudio && h.audio == nil:
			h.audio = t
		case t.Kind() == domain.TrackVideo && h.video == nil && req.Video:
			h.video = t
		default:
			t.Stop()
		}
	}
	if h.audio == nil || (req.Video && h.video == nil) {
		h.Release()
		return nil, fmt.Errorf("%w: capture returned no %s track", domain.ErrDeviceUnavailable, missingKind(h))
	}
	return h, nil
}

// Release stops every track of h. It is safe to call more than once.
func (m *MediaManager) Release(h *MediaHandle) {
	if h != nil {
		h.Release()
	}
}

// SwitchCamera opens the opposite-facing camera, swaps it into the sender so
// the remote side sees no renegotiation, and only then stops the old camera.
// On failure the current camera stays active and enabled.
func (m *MediaManager) SwitchCamera(ctx context.Context, h *MediaHandle, sender port.Sender) error {
	h.mu.Lock()
	old, facing, released := h.video, h.facing, h.released
	h.mu.Unlock()
	if released {
		return domain.ErrSessionClosed
	}
	if old == nil {
		return fmt.Errorf("%w: no camera to switch", domain.ErrInvalidTransition)
	}

	next := facing.Opposite()
	tracks, err := m.devices.Open(ctx, domain.CaptureRequest{Video: true, Facing: next})
	if err != nil {
		return deviceError(err)
	}
	var fresh port.Track
	for _, t := range tracks {
		if t.Kind() == domain.TrackVideo && fresh == nil {
			fresh = t
			continue
		}
		t.Stop()
	}
	if fresh == nil {
		return fmt.Errorf("%w: no %s camera", domain.ErrDeviceUnavailable, next)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.video != old {
		fresh.Stop()
		return domain.ErrSessionClosed
	}
	fresh.SetEnabled(old.Enabled())
	if sender != nil {
		if err := sender.ReplaceTrack(fresh); err != nil {
			fresh.Stop()
			return fmt.Errorf("%w: replace track: %v", domain.ErrNegotiationFailure, err)
		}
	}
	h.video = fresh
	h.facing = next
	old.Stop()
	log.Debug().Str("facing", string(next)).Msg("Camera switched")
	return nil
}

func (h *MediaHandle) Kind() domain.MediaKind {
	return h.kind
}

func (h *MediaHandle) Tracks() []port.Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []port.Track
	if h.audio != nil {
		out = append(out, h.audio)
	}
	if h.video != nil {
		out = append(out, h.video)
	}
	return out
}

func (h *MediaHandle) Audio() port.Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audio
}

func (h *MediaHandle) Video() port.Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.video
}

func (h *MediaHandle) Facing() domain.Facing {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.facing
}

// ToggleAudio mutes or unmutes the microphone without stopping capture and
// returns the new enabled flag.
func (h *MediaHandle) ToggleAudio() (bool, error) {
	return h.toggle(domain.TrackAudio)
}

// ToggleVideo hides or shows the camera without stopping capture.
func (h *MediaHandle) ToggleVideo() (bool, error) {
	return h.toggle(domain.TrackVideo)
}

func (h *MediaHandle) toggle(kind domain.TrackKind) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false, domain.ErrSessionClosed
	}
	t := h.audio
	if kind == domain.TrackVideo {
		t = h.video
	}
	if t == nil {
		return false, fmt.Errorf("%w: no %s track", domain.ErrInvalidTransition, kind)
	}
	t.SetEnabled(!t.Enabled())
	return t.Enabled(), nil
}

func (h *MediaHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.audio != nil {
		h.audio.Stop()
	}
	if h.video != nil {
		h.video.Stop()
	}
}

func (h *MediaHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func deviceError(err error) error {
	if errors.Is(err, domain.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}

func missingKind(h *MediaHandle) domain.TrackKind {
	if h.audio == nil {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}
