package service

import (
	"encoding/json"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// event is anything the session loop consumes.
type event interface {
	isEvent()
}

// discarder is implemented by events that carry a resource which must be
// released when the loop is no longer there to take ownership of it.
type discarder interface {
	discard()
}

type actionKind int

const (
	actionDial actionKind = iota
	actionAccept
	actionDecline
	actionEnd
	actionToggleAudio
	actionToggleVideo
	actionSwitchCamera
	actionSupersede
)

type actionResult struct {
	enabled bool
	err     error
}

type actionEvent struct {
	kind  actionKind
	reply chan actionResult
}

type envelopeEvent struct {
	env domain.Envelope
}

type mediaAcquiredEvent struct {
	handle *MediaHandle
	err    error
}

type descriptionEvent struct {
	kind domain.Kind
	desc json.RawMessage
	err  error
}

type localCandidateEvent struct {
	candidate json.RawMessage
}

type connectivityEvent struct {
	state domain.ConnectivityState
}

type remoteTrackEvent struct {
	track port.Track
}

type cameraSwitchedEvent struct {
	err error
}

func (actionEvent) isEvent()         {}
func (envelopeEvent) isEvent()       {}
func (mediaAcquiredEvent) isEvent()  {}
func (descriptionEvent) isEvent()    {}
func (localCandidateEvent) isEvent() {}
func (connectivityEvent) isEvent()   {}
func (remoteTrackEvent) isEvent()    {}
func (cameraSwitchedEvent) isEvent() {}

func (e mediaAcquiredEvent) discard() {
	if e.handle != nil {
		e.handle.Release()
	}
}
