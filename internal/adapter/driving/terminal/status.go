package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const defaultRingInterval = 2 * time.Second

// Status renders call progress on a terminal. It implements both
// port.CallObserver and port.Indicator; the ringing "tone" is a repeated
// styled line.
type Status struct {
	mu           sync.Mutex
	out          io.Writer
	ringInterval time.Duration
	ringing      map[domain.Direction]chan struct{}
}

func NewStatus(out io.Writer) *Status {
	return &Status{
		out:          out,
		ringInterval: defaultRingInterval,
		ringing:      make(map[domain.Direction]chan struct{}),
	}
}

// Banner prints a boxed title line.
func (s *Status) Banner(title, detail string) {
	s.println(BoxStyle.Render(TitleStyle.Render(title) + "\n" + MutedStyle.Render(detail)))
}

// Printf prints a muted informational line.
func (s *Status) Printf(format string, args ...any) {
	s.println(MutedStyle.Render(fmt.Sprintf(format, args...)))
}

func (s *Status) OnRinging(dir domain.Direction) {
	switch dir {
	case domain.DirectionIncoming:
		s.println(RingingStyle.Render("Incoming call") + MutedStyle.Render("  (accept / decline)"))
	default:
		s.println(RingingStyle.Render("Calling..."))
	}
}

func (s *Status) OnConnected() {
	s.println(ConnectedStyle.Render("Connected"))
}

func (s *Status) OnEnded(reason domain.EndReason) {
	s.println(EndedStyle.Render("Call ended") + MutedStyle.Render(" ("+describe(reason)+")"))
}

func (s *Status) OnDurationTick(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r%s", MutedStyle.Render(FormatDuration(seconds)))
}

func (s *Status) Start(dir domain.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ringing[dir]; ok {
		return
	}
	stop := make(chan struct{})
	s.ringing[dir] = stop
	go s.ring(dir, stop)
}

func (s *Status) Stop(dir domain.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.ringing[dir]; ok {
		close(stop)
		delete(s.ringing, dir)
	}
}

func (s *Status) ring(dir domain.Direction, stop <-chan struct{}) {
	ticker := time.NewTicker(s.ringInterval)
	defer ticker.Stop()
	tone := "ring"
	if dir == domain.DirectionOutgoing {
		tone = "tuut"
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.println(RingingStyle.Render("  " + tone))
		}
	}
}

func (s *Status) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// FormatDuration renders elapsed call time as mm:ss, or h:mm:ss past an
// hour.
func FormatDuration(seconds int) string {
	h, m, sec := seconds/3600, (seconds/60)%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func describe(reason domain.EndReason) string {
	switch reason {
	case domain.ReasonLocalHangup:
		return "you hung up"
	case domain.ReasonRemoteHangup:
		return "remote hung up"
	case domain.ReasonDeclinedLocal:
		return "you declined"
	case domain.ReasonDeclinedRemote:
		return "declined"
	case domain.ReasonDeviceUnavailable:
		return "camera or microphone unavailable"
	case domain.ReasonNegotiation:
		return "could not negotiate media"
	case domain.ReasonConnectivityLoss:
		return "connection lost"
	case domain.ReasonRingTimeout:
		return "no answer"
	case domain.ReasonSuperseded:
		return "caller dialed again"
	}
	return string(reason)
}
