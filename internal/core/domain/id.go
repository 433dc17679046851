package domain

import (
	"strings"

	"github.com/google/uuid"
)

// UserID is the stable, user-chosen identifier a channel registers under.
type UserID string

func (id UserID) String() string {
	return string(id)
}

func (id UserID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// ConnID identifies one live relay channel (one websocket connection).
type ConnID uuid.UUID

func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (id ConnID) String() string {
	return uuid.UUID(id).String()
}

// SessionID tags one call attempt on one participant's side.
type SessionID uuid.UUID

func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// NodeID names one relay process when several share a presence directory.
type NodeID string

func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

func (id NodeID) String() string {
	return string(id)
}
