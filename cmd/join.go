package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/huddle/internal/auth"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/ice"
	"github.com/BioHazard786/huddle/internal/journal"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/session"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/supervisor"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer      string
	flagAPI         string
	flagToken       string
	flagTokenFile   string
	flagName        string
	flagRelay       bool
	joinICE         iceFlags
	flagIVF         string
	flagJournal     string
	flagNoReconnect bool
)

// tokenEnv is re-read on every connect attempt.
const tokenEnv = "HUDDLE_TOKEN"

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room and open the interactive room view.

Examples:
  huddle join standup
  huddle join standup --name ana --token-file ~/.config/huddle/token
  huddle join standup --ivf demo.ivf --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(roomID string) error {
	opts := config.Options{
		ConfigFile: flagConfigFile,
		Server:     flagServer,
		API:        flagAPI,
		Token:      flagToken,
		TokenFile:  flagTokenFile,
		ForceRelay: flagRelay,
	}
	joinICE.apply(&opts)
	cfg, err := config.Load(opts)
	if err != nil {
		return signaling.NewError("load config", err)
	}

	forceRelay := cfg.ForceRelay
	if !forceRelay && ice.ShouldForceRelay() {
		log.Info().Str("module", "cmd").Msg("restrictive network detected, forcing relay")
		forceRelay = true
	}
	if forceRelay && cfg.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	creds := auth.Chain{auth.Static(cfg.Token), auth.Env(tokenEnv), auth.File(cfg.TokenFile)}

	var rec *journal.Writer
	if flagJournal != "" {
		rec, err = journal.Create(flagJournal)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := ui.NewRoomUI(ctx)
	sess := session.New(session.Options{
		Username:      flagName,
		MaxPresenters: cfg.MaxPresenters,
		ForceRelay:    forceRelay,
		Connection: supervisor.Options{
			RoomURL:       roomURL(cfg, roomID, flagName),
			BaseDelay:     cfg.Reconnect.BaseDelay,
			MaxDelay:      cfg.Reconnect.MaxDelay,
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			Heartbeat:     cfg.Heartbeat,
			AutoReconnect: cfg.Reconnect.Enabled && !flagNoReconnect,
		},
	}, session.Deps{
		Dialer:      signaling.NewWebSocketDialer(),
		Credentials: creds,
		ICE:         ice.NewHTTPSource(cfg.ICEConfigURL(), creds, ice.StaticSource{Config: cfg}),
		Media:       media.StaticProvider{IVFPath: flagIVF},
		Microphone:  media.StaticProvider{},
		Observer:    view.Observer(),
		Journal:     rec,
	})
	defer sess.Close()

	spinner := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to room %s...", roomID))
	spinner.Start()
	if err := sess.Connect(ctx); err != nil {
		spinner.Error("Could not connect")
		return signaling.NewError("connect to room", err)
	}
	spinner.Success("Connected")

	view.Attach(sess)
	reason, err := view.Run(ctx)
	if err != nil {
		return err
	}
	sess.Close()

	if reason != nil {
		ui.PrintWarning("Session ended: " + reason.String())
	} else {
		ui.PrintInfo("Left the room")
	}
	if rec != nil {
		ui.PrintInfof("Recorded %d frames to %s", rec.Count(), flagJournal)
	}
	return nil
}

// roomURL is the socket URL without credentials; the supervisor appends the
// token on every attempt.
func roomURL(cfg *config.Config, roomID, name string) string {
	u := cfg.RoomURL(url.PathEscape(roomID))
	if name != "" {
		u += "?name=" + url.QueryEscape(name)
	}
	return u
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server base URL (ws:// or wss://)")
	joinCmd.Flags().StringVar(&flagAPI, "api", "", "HTTP base URL for relay configuration")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "Bearer token")
	joinCmd.Flags().StringVar(&flagTokenFile, "token-file", "", "File holding the bearer token, re-read on every reconnect")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinICE.register(joinCmd.Flags())
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagIVF, "ivf", "", "IVF file looped into shared video")
	joinCmd.Flags().StringVar(&flagJournal, "journal", "", "Record every signaling frame to this file")
	joinCmd.Flags().BoolVar(&flagNoReconnect, "no-reconnect", false, "Do not reconnect after the connection drops")
}
