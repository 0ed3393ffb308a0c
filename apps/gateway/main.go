package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/google/uuid"
	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/bootstrap"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/mahaj/convoflow/pkg/config"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/logging"
)

func NewMux(hub *Hub, verifier *auth.Verifier) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, verifier, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func main() {
	cfg, err := config.Load()
	log := logging.New("gateway", cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open dependencies")
	}

	// Writes made here reach local subscribers at once and other gateways
	// through kafka. The echo from the fan-out reader coalesces.
	events := live.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	broker := live.NewBroker()
	svc := chat.NewService(deps.Store, deps.Tracker, deps.IDs,
		chat.WithPublisher(live.Multi{broker, events}),
		chat.WithLogger(log),
	)

	instance := uuid.NewString()
	reader := live.NewFanoutReader(cfg.KafkaBrokers, cfg.KafkaTopic, instance)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := live.Consume(ctx, reader, broker, log.With().Str("component", "fanout").Logger()); err != nil {
			log.Error().Err(err).Msg("fan-out consumer stopped")
		}
	}()

	hub := NewHub(ctx, svc, broker, log)
	go hub.Run()

	server := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           NewMux(hub, auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.GatewayAddr).Str("instance", instance).Msg("Gateway Service Starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"gateway": func(shutdownCtx context.Context) error {
				err := server.Shutdown(shutdownCtx)
				cancel()
				<-hub.done
				<-consumed
				return errors.Join(err, reader.Close(), events.Close(), deps.Close())
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("Gateway Service stopped")
	os.Exit(exitCode)
}
