package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/ice"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/spf13/cobra"
)

var (
	flagListen        string
	flagServeToken    string
	flagMaxPresenters int
	serveICE          iceFlags
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a development room signaling server",
	Long: `Run a room signaling server for local development.

It relays offers, answers and candidates between participants, enforces
the presenter limit and serves relay configuration from the configured
STUN/TURN servers.

Examples:
  huddle serve
  huddle serve --listen :9000 --token secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	opts := config.Options{ConfigFile: flagConfigFile, ListenAddr: flagListen}
	serveICE.apply(&opts)
	cfg, err := config.Load(opts)
	if err != nil {
		return signaling.NewError("load config", err)
	}
	maxPresenters := cfg.MaxPresenters
	if flagMaxPresenters > 0 {
		maxPresenters = flagMaxPresenters
	}

	logger := logging.Module("relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers, err := ice.StaticSource{Config: cfg}.Servers(ctx)
	if err != nil {
		return err
	}

	hub := relay.NewHub(maxPresenters)
	go hub.Run()
	defer hub.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.NewRouter(hub, relay.Config{Token: flagServeToken, ICEServers: servers}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Int("max_presenters", maxPresenters).Msg("starting signaling server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return signaling.NewError("serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVar(&flagServeToken, "token", "", "Only accept this token (default: any non-empty token)")
	serveICE.register(serveCmd.Flags())
	serveCmd.Flags().IntVar(&flagMaxPresenters, "max-presenters", 0, "Concurrent presenters per room")
}
