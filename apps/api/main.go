package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/bootstrap"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/mahaj/convoflow/pkg/config"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("api", cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	deps, err := bootstrap.Open(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open dependencies")
	}

	events := live.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	svc := chat.NewService(deps.Store, deps.Tracker, deps.IDs,
		chat.WithPublisher(events),
		chat.WithLogger(log),
	)

	var issuer *auth.Issuer
	if cfg.DevLogin {
		issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour)
		log.Warn().Msg("dev login enabled: POST /login issues tokens for any subject")
	}

	api := NewAPI(svc, issuer, log)
	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           NewRouter(api, auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer), cfg.DevLogin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("API Service Starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// One operation so the store outlives in-flight requests.
			"api": func(ctx context.Context) error {
				return errors.Join(
					server.Shutdown(ctx),
					events.Close(),
					deps.Close(),
				)
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("API Service stopped")
	os.Exit(exitCode)
}
