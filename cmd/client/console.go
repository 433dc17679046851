package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/Wyydra/yacall/internal/adapter/driving/terminal"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
)

var errRelayGone = errors.New("connection to relay lost")

// console maps typed commands onto the phone and its live session.
type console struct {
	user   domain.UserID
	phone  *service.Phone
	status *terminal.Status
	lines  <-chan string
	relay  <-chan struct{}
}

// run serves commands until ctx is done, stdin closes, the relay goes away
// or, when until is non-nil, until is closed.
func (c *console) run(ctx context.Context, until <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-until:
			return nil
		case <-c.relay:
			return errRelayGone
		case s := <-c.phone.Incoming():
			c.status.Banner("Incoming call from "+s.Remote().String(), "type accept or decline")
		case line, ok := <-c.lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *console) handle(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if cmd == "quit" || cmd == "exit" {
		return true
	}
	if cmd == "dial" {
		if len(args) == 0 {
			c.status.Printf("usage: dial <user> [audio]")
			return false
		}
		kind := domain.MediaAudioVideo
		if len(args) > 1 && args[1] == "audio" {
			kind = domain.MediaAudioOnly
		}
		if _, err := c.phone.Dial(ctx, domain.UserID(args[0]), kind); err != nil {
			c.status.Printf("dial: %v", err)
		}
		return false
	}

	s := c.phone.Current()
	if s == nil {
		c.status.Printf("no call in progress")
		return false
	}

	var err error
	switch cmd {
	case "accept", "a":
		err = s.Accept()
	case "decline", "d":
		err = s.Decline()
	case "end", "hangup", "h":
		err = s.End()
	case "mute", "m":
		var enabled bool
		if enabled, err = s.ToggleAudio(); err == nil {
			c.status.Printf("microphone %s", onOff(enabled))
		}
	case "video", "v":
		var enabled bool
		if enabled, err = s.ToggleVideo(); err == nil {
			c.status.Printf("camera %s", onOff(enabled))
		}
	case "flip", "f":
		err = s.SwitchCamera()
	case "status", "s":
		snap := s.Snapshot()
		c.status.Printf("%s with %s (%s, %s)", snap.State, s.Remote(), snap.Role, snap.MediaKind)
	default:
		c.status.Printf("unknown command %q", cmd)
	}
	if err != nil {
		c.status.Printf("%s: %v", cmd, err)
	}
	return false
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// readLines feeds stdin lines to a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
