package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/wsclient"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driving/terminal"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, terminal.EndedStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts config.ClientOptions
	root := &cobra.Command{
		Use:           "yacall",
		Short:         "Terminal phone for the yacall relay",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.UserID, "user", "u", "", "user id to register as")
	pf.StringVar(&opts.ServerURL, "server", "", "relay websocket URL (default "+config.DefaultServerURL+")")
	pf.StringVar(&opts.STUNServer, "stun", "", "STUN server")
	pf.StringVar(&opts.RingTimeout, "ring-timeout", "", "give up ringing after this long (0 rings forever)")
	pf.StringVar(&opts.Cameras, "cameras", "", "available camera facings (default "+config.DefaultCameras+")")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level")
	pf.StringVar(&opts.LogFormat, "log-format", "", "console or json")

	var audioOnly bool
	dial := &cobra.Command{
		Use:   "dial <user>",
		Short: "Call another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPhone(cmd.Context(), opts, func(ctx context.Context, c *console) error {
				kind := domain.MediaAudioVideo
				if audioOnly {
					kind = domain.MediaAudioOnly
				}
				s, err := c.phone.Dial(ctx, domain.UserID(args[0]), kind)
				if err != nil {
					return err
				}
				c.status.Banner("Calling "+args[0], "commands: end, mute, video, flip, status")
				return c.run(ctx, s.Done())
			})
		},
	}
	dial.Flags().BoolVar(&audioOnly, "audio-only", false, "do not open the camera")

	listen := &cobra.Command{
		Use:   "listen",
		Short: "Wait for incoming calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPhone(cmd.Context(), opts, func(ctx context.Context, c *console) error {
				c.status.Banner("Listening as "+c.user.String(), "commands: accept, decline, end, mute, video, flip, dial <user>, quit")
				return c.run(ctx, nil)
			})
		},
	}

	root.AddCommand(dial, listen)
	return root
}

func withPhone(parent context.Context, opts config.ClientOptions, fn func(ctx context.Context, c *console) error) error {
	cfg, err := config.LoadClient(opts, nil)
	if err != nil {
		return err
	}
	if err := config.SetupLogging(cfg.Logging, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	peers, err := pion.NewPeerFactory([]string{cfg.STUNServer})
	if err != nil {
		return err
	}
	client, err := wsclient.Dial(ctx, cfg.ServerURL, cfg.UserID)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().Str("user_id", cfg.UserID.String()).Str("server", cfg.ServerURL).Msg("Connected to relay")

	status := terminal.NewStatus(os.Stdout)
	phone := service.NewPhone(cfg.UserID, service.SessionDeps{
		Signaler:  client,
		Media:     service.NewMediaManager(pion.NewDevices(pion.WithCameras(cfg.Cameras...))),
		Peers:     peers,
		Observer:  status,
		Indicator: status,
		Clock:     service.SystemClock(),
	}, service.WithRingTimeout(cfg.RingTimeout))

	phoneDone := make(chan struct{})
	go func() {
		defer close(phoneDone)
		if err := phone.Run(ctx, client.Inbound()); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Phone stopped")
		}
	}()

	c := &console{
		user:   cfg.UserID,
		phone:  phone,
		status: status,
		lines:  readLines(os.Stdin),
		relay:  client.Done(),
	}
	err = fn(ctx, c)
	if s := phone.Current(); s != nil {
		s.End()
		<-s.Done()
	}
	stop()
	client.Close()
	<-phoneDone
	return err
}
