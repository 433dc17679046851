package terminal

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{
		0:    "00:00",
		59:   "00:59",
		61:   "01:01",
		3600: "1:00:00",
		3725: "1:02:05",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%d)=%q, want %q", in, got, want)
		}
	}
}

func TestStatus_ObserverLines(t *testing.T) {
	var out syncBuffer
	s := NewStatus(&out)

	s.OnRinging(domain.DirectionIncoming)
	s.OnConnected()
	s.OnDurationTick(65)
	s.OnEnded(domain.ReasonRemoteHangup)

	got := out.String()
	for _, want := range []string{"Incoming call", "Connected", "01:05", "remote hung up"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestStatus_IndicatorStartStop(t *testing.T) {
	var out syncBuffer
	s := NewStatus(&out)
	s.ringInterval = 5 * time.Millisecond

	s.Start(domain.DirectionOutgoing)
	s.Start(domain.DirectionOutgoing)
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "tuut") {
		if time.Now().After(deadline) {
			t.Fatalf("no ringing output")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop(domain.DirectionOutgoing)
	s.Stop(domain.DirectionOutgoing)
	s.mu.Lock()
	n := len(s.ringing)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d indicators still active", n)
	}
}
