// Package bootstrap builds the storage and presence dependencies shared by the
// api and gateway binaries from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/convoflow/pkg/config"
	"github.com/mahaj/convoflow/pkg/db"
	"github.com/mahaj/convoflow/pkg/presence"
	"github.com/mahaj/convoflow/pkg/snowflake"
	"github.com/mahaj/convoflow/pkg/store"
	"github.com/mahaj/convoflow/pkg/store/scylla"
	"github.com/mahaj/convoflow/pkg/store/sqlstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Deps struct {
	Store   store.Store
	Tracker presence.Tracker
	IDs     *snowflake.Node
	Redis   *redis.Client
}

func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Deps, error) {
	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	d := &Deps{Store: st, IDs: ids}

	switch cfg.PresenceStrategy {
	case config.PresenceTable:
		d.Tracker = presence.NewTableTracker(st, ids.Next)
	case config.PresenceUser:
		d.Tracker = presence.NewUserRowTracker(st)
	case config.PresenceRedis:
		d.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		d.Tracker = presence.NewRedisTracker(d.Redis, ids.Next)
	default:
		d.Close()
		return nil, fmt.Errorf("unknown presence strategy %q", cfg.PresenceStrategy)
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("presence", cfg.PresenceStrategy).
		Int64("node_id", cfg.NodeID).
		Msg("dependencies ready")
	return d, nil
}

func OpenStore(cfg config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		st, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverScylla:
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to scylla: %w", err)
		}
		return scylla.New(session), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func (d *Deps) Close() error {
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	return errors.Join(errs...)
}
