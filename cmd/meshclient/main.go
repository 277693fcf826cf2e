// Command meshclient joins a room headlessly and keeps a full mesh of peer
// links to everyone else in it until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/MeshCall/internal/adapters/media"
	"github.com/dkeye/MeshCall/internal/adapters/rtc"
	sig "github.com/dkeye/MeshCall/internal/adapters/signal"
	"github.com/dkeye/MeshCall/internal/adapters/sink"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/app/events"
	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/domain"
)

const previewSink = "preview"

func main() {
	user := pflag.StringP("user", "u", "", "user id to join as (random when empty)")
	room := pflag.StringP("room", "r", "", "room to join")
	server := pflag.StringP("server", "s", "", "signaling server url (overrides config)")
	configFile := pflag.StringP("config", "c", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	noMedia := pflag.Bool("receive-only", false, "do not capture camera or microphone")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFrom(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if *user == "" {
		*user = uuid.NewString()
	}

	policy, err := domain.ParseInitiatorPolicy(cfg.Client.InitiatorPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("bad initiator policy")
	}

	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers:          cfg.Client.ICEServers,
		Trickle:             cfg.Client.Trickle,
		DisconnectedTimeout: cfg.Client.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.Client.ICEFailedTimeout,
		KeepaliveInterval:   cfg.Client.ICEKeepaliveInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup failed")
	}

	sinks := sink.NewRegistry()
	sinks.Register(previewSink, sink.NewLogSink(previewSink))

	client := app.NewClient(app.Deps{
		Dialer:   sig.NewDialer(),
		Links:    factory,
		Capturer: media.NewCapturer(),
		Sinks:    sinks,
	}, policy)
	client.SetServerURL(cfg.Client.ServerURL)
	if *server != "" {
		client.SetServerURL(*server)
	}

	watch(client.Events(), cancel)

	if !*noMedia {
		if _, err := client.CreateMediaStream(ctx); err != nil {
			log.Warn().Err(err).Msg("no local media, joining receive-only")
		} else {
			client.PlayVideoTrack(previewSink)
		}
	}

	joinCtx, joinCancel := context.WithTimeout(ctx, cfg.Client.DialTimeout)
	err = client.JoinChannel(joinCtx, *user, *room)
	joinCancel()
	if err != nil {
		client.LeaveChannel()
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("user", *user).Str("room", *room).Str("server", client.ServerURL()).Msg("joined")

	<-ctx.Done()
	log.Info().Interface("diagnostics", client.Diagnostics()).Msg("leaving")
	client.LeaveChannel()
}

func watch(bus *events.Bus, stop context.CancelFunc) {
	events.Handle(bus, func(e events.UserPublished) {
		log.Info().Str("peer", e.User.UUID.String()).Str("stream", e.User.Stream.ID()).Msg("peer published")
	})
	events.Handle(bus, func(e events.UserUnpublished) {
		log.Info().Str("peer", e.User.UUID.String()).Msg("peer left")
	})
	events.Handle(bus, func(e events.UserMediaToggled) {
		log.Info().Str("peer", e.UserID.String()).Str("media", string(e.MediaType)).Bool("enabled", e.Enabled).Msg("peer toggled media")
	})
	events.Handle(bus, func(e events.ChannelDisconnected) {
		log.Error().Err(e.Err).Str("room", e.Room.String()).Msg("relay connection lost")
		stop()
	})
}
