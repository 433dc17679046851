package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the closed set of signaling envelope variants.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindIceCandidate Kind = "ice-candidate"
	KindAccepted     Kind = "accepted"
	KindEnded        Kind = "ended"
	KindDeclined     Kind = "declined"
)

const frameTypeRegister = "register"

func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindIceCandidate, KindAccepted, KindEnded, KindDeclined:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Envelope is a single addressed signaling message. Payload holds the
// offer, answer or candidate blob owned by the media layer and is never
// interpreted by the relay.
type Envelope struct {
	Kind        Kind
	From        UserID
	To          UserID
	Payload     json.RawMessage
	IsVideoCall bool
}

func NewOffer(from, to UserID, offer json.RawMessage, isVideoCall bool) Envelope {
	return Envelope{Kind: KindOffer, From: from, To: to, Payload: offer, IsVideoCall: isVideoCall}
}

func NewAnswer(from, to UserID, answer json.RawMessage) Envelope {
	return Envelope{Kind: KindAnswer, From: from, To: to, Payload: answer}
}

func NewIceCandidate(from, to UserID, candidate json.RawMessage) Envelope {
	return Envelope{Kind: KindIceCandidate, From: from, To: to, Payload: candidate}
}

func NewAccepted(from, to UserID) Envelope {
	return Envelope{Kind: KindAccepted, From: from, To: to}
}

func NewEnded(from, to UserID) Envelope {
	return Envelope{Kind: KindEnded, From: from, To: to}
}

func NewDeclined(from, to UserID) Envelope {
	return Envelope{Kind: KindDeclined, From: from, To: to}
}

// wireFrame is the JSON shape exchanged on the message bus. Only the payload
// field matching the envelope kind is ever populated.
type wireFrame struct {
	Type        string          `json:"type"`
	To          string          `json:"to,omitempty"`
	From        string          `json:"from,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Offer       json.RawMessage `json:"offer,omitempty"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	IsVideoCall *bool           `json:"isVideoCall,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireFrame{
		Type: string(e.Kind),
		To:   e.To.String(),
		From: e.From.String(),
	}
	switch e.Kind {
	case KindOffer:
		video := e.IsVideoCall
		w.Offer = e.Payload
		w.IsVideoCall = &video
	case KindAnswer:
		w.Answer = e.Payload
	case KindIceCandidate:
		w.Candidate = e.Payload
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	f, err := ParseFrame(data)
	if err != nil {
		return err
	}
	if f.Envelope == nil {
		return fmt.Errorf("%w: %q is not an envelope", ErrUnknownKind, frameTypeRegister)
	}
	*e = *f.Envelope
	return nil
}

// Validate checks the fields a relay needs: a known kind, a recipient and a
// payload for the kinds that carry one. Sender presence is checked by the
// receiving side because the relay stamps it.
func (e Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.To.IsZero() {
		return fmt.Errorf("%w: %s envelope has no recipient", ErrMissingAddress, e.Kind)
	}
	switch e.Kind {
	case KindOffer, KindAnswer, KindIceCandidate:
		if !hasPayload(e.Payload) {
			return fmt.Errorf("%w: %s envelope has no payload", ErrInvalidPayload, e.Kind)
		}
	default:
		if len(e.Payload) != 0 {
			return fmt.Errorf("%w: %s envelope carries a payload", ErrInvalidPayload, e.Kind)
		}
	}
	return nil
}

// RegisterFrame encodes the registration request a client sends once per
// connection.
func RegisterFrame(userID UserID) ([]byte, error) {
	return json.Marshal(wireFrame{Type: frameTypeRegister, UserID: userID.String()})
}

// Frame is one decoded inbound message: either a registration or an
// envelope, never both.
type Frame struct {
	Register UserID
	Envelope *Envelope
}

func (f Frame) IsRegister() bool {
	return f.Envelope == nil
}

// ParseFrame decodes a bus frame at the boundary into the closed union.
func ParseFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if w.Type == frameTypeRegister {
		id := UserID(w.UserID)
		if id.IsZero() {
			return Frame{}, fmt.Errorf("%w: register frame has no userId", ErrMissingAddress)
		}
		return Frame{Register: id}, nil
	}

	kind := Kind(w.Type)
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}

	env := Envelope{
		Kind: kind,
		To:   UserID(w.To),
		From: UserID(w.From),
	}

	var extra bool
	switch kind {
	case KindOffer:
		env.Payload = w.Offer
		if w.IsVideoCall != nil {
			env.IsVideoCall = *w.IsVideoCall
		}
		extra = w.Answer != nil || w.Candidate != nil
	case KindAnswer:
		env.Payload = w.Answer
		extra = w.Offer != nil || w.Candidate != nil || w.IsVideoCall != nil
	case KindIceCandidate:
		env.Payload = w.Candidate
		extra = w.Offer != nil || w.Answer != nil || w.IsVideoCall != nil
	default:
		extra = w.Offer != nil || w.Answer != nil || w.Candidate != nil || w.IsVideoCall != nil
	}
	if extra {
		return Frame{}, fmt.Errorf("%w: %s envelope has unexpected fields", ErrInvalidPayload, kind)
	}
	if err := env.Validate(); err != nil {
		return Frame{}, err
	}
	return Frame{Envelope: &env}, nil
}

func hasPayload(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) != 0 && !bytes.Equal(trimmed, []byte("null"))
}
