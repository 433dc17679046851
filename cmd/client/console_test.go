package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driving/terminal"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
)

type recordingSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
}

func (r *recordingSignaler) Send(ctx context.Context, env domain.Envelope) error {
	r.mu.Lock()
	r.sent = append(r.sent, env)
	r.mu.Unlock()
	return nil
}

func (r *recordingSignaler) has(kind domain.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, env := range r.sent {
		if env.Kind == kind {
			return true
		}
	}
	return false
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func newConsole(t *testing.T) (*console, *recordingSignaler, *lockedBuffer) {
	t.Helper()
	peers, err := pion.NewPeerFactory(nil)
	if err != nil {
		t.Fatalf("NewPeerFactory: %v", err)
	}
	var out lockedBuffer
	sig := &recordingSignaler{}
	status := terminal.NewStatus(&out)
	phone := service.NewPhone("alice", service.SessionDeps{
		Signaler:  sig,
		Media:     service.NewMediaManager(pion.NewDevices()),
		Peers:     peers,
		Observer:  status,
		Indicator: status,
	})
	return &console{user: "alice", phone: phone, status: status}, sig, &out
}

func TestConsole_DialAndHangUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, sig, out := newConsole(t)

	if quit := c.handle(ctx, "dial bob audio"); quit {
		t.Fatalf("dial asked to quit")
	}
	s := c.phone.Current()
	if s == nil {
		t.Fatalf("no session after dial")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !sig.has(domain.KindOffer) {
		if time.Now().After(deadline) {
			t.Fatalf("offer never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.handle(ctx, "status")
	if !strings.Contains(out.String(), "dialing with bob") {
		t.Fatalf("status output=%q", out.String())
	}

	c.handle(ctx, "mute")
	if !strings.Contains(out.String(), "microphone off") {
		t.Fatalf("mute output=%q", out.String())
	}

	c.handle(ctx, "end")
	<-s.Done()
	if !sig.has(domain.KindEnded) {
		t.Fatalf("hangup not sent")
	}
	c.handle(ctx, "end")
	if !strings.Contains(out.String(), "no call in progress") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestConsole_Commands(t *testing.T) {
	ctx := context.Background()
	c, _, out := newConsole(t)

	if c.handle(ctx, "   ") {
		t.Fatalf("blank line asked to quit")
	}
	c.handle(ctx, "dial")
	if !strings.Contains(out.String(), "usage: dial") {
		t.Fatalf("output=%q", out.String())
	}
	if !c.handle(ctx, "quit") {
		t.Fatalf("quit did not quit")
	}
}

func TestReadLines(t *testing.T) {
	var got []string
	for line := range readLines(strings.NewReader("accept\nend\n")) {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "accept" || got[1] != "end" {
		t.Fatalf("lines=%q", got)
	}
}
