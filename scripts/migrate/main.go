package main

import (
	"flag"
	"os"

	"github.com/mahaj/convoflow/pkg/bootstrap"
	"github.com/mahaj/convoflow/pkg/config"
	"github.com/mahaj/convoflow/pkg/db"
	"github.com/mahaj/convoflow/pkg/logging"
)

func main() {
	drop := flag.Bool("drop", false, "drop every chat table before migrating")
	flag.Parse()

	cfg, err := config.Load()
	log := logging.New("migrate", cfg.LogLevel, true)
	if err != nil {
		// The schema tool does not need the token settings.
		log.Warn().Err(err).Msg("config incomplete, continuing with store settings")
	}

	if cfg.StoreDriver != config.DriverScylla {
		st, err := bootstrap.OpenStore(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open store")
		}
		defer st.Close()
		log.Info().Str("driver", cfg.StoreDriver).Str("path", cfg.SQLitePath).Msg("schema up to date")
		return
	}

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to create keyspace")
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ScyllaDB")
	}
	defer session.Close()

	if *drop {
		log.Info().Msg("dropping tables...")
		if err := db.Drop(session); err != nil {
			log.Error().Err(err).Msg("drop failed")
			os.Exit(1)
		}
	}

	if err := db.Migrate(session); err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
	log.Info().Str("keyspace", cfg.ScyllaKeyspace).Msg("schema up to date")
}
