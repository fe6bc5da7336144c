package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/claim"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/internal/repository/boltstore"
	"github.com/onurcolak/sequence-dialer/internal/repository/sqlstore"
	"github.com/onurcolak/sequence-dialer/internal/scheduler"
	"github.com/onurcolak/sequence-dialer/pkg/database"
	"github.com/onurcolak/sequence-dialer/pkg/dialer"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/redis"
)

// openStore connects the configured store. SQL schemas are created when migrate is set;
// the embedded store creates its buckets on open.
func openStore(cfg *environments.Config, migrate bool) (repository.Store, error) {
	switch cfg.Store.Driver {
	case environments.StoreMySQL, environments.StorePostgres:
		var (
			db  *sqlx.DB
			err error
		)
		if cfg.Store.Driver == environments.StorePostgres {
			db, err = database.NewPostgresDB(cfg.Postgres)
		} else {
			db, err = database.NewMySQLDB(cfg.Database)
		}
		if err != nil {
			return nil, err
		}

		if migrate {
			if err := database.RunMigrations(db, cfg.Store.Driver); err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		return sqlstore.New(db), nil

	case environments.StoreBolt:
		store, err := boltstore.Open(cfg.Bolt.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("Opened embedded store at %s", cfg.Bolt.Path)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openCache returns nil when valkey is unreachable; caching is optional.
func openCache(cfg *environments.Config) *redis.Client {
	client, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, caching disabled: %v", err)
		return nil
	}
	return client
}

// buildLoop wires the tick body of mode to a scheduler loop.
func buildLoop(mode string, cfg *environments.Config, store repository.Store, cache *redis.Client) (*scheduler.Loop, error) {
	dialerClient := dialer.NewClient(cfg.Dialer)

	switch mode {
	case scheduler.ModeCaller:
		caller := scheduler.NewCaller(store, claim.NewCoordinator(store, cfg.Caller.ClaimLease), dialerClient, cfg.Caller.BatchSize)
		if cache != nil {
			caller.WithCache(cache)
		}

		return scheduler.NewLoop(mode, caller.Tick, scheduler.Options{
			Interval:        cfg.Caller.TickInterval,
			StopGrace:       cfg.Caller.StopGrace,
			AlertWebhookURL: cfg.Alert.WebhookURL,
			AlertThreshold:  cfg.Alert.IterationCount,
		}), nil

	case scheduler.ModeBatch:
		batch := scheduler.NewBatchCaller(store, claim.NewCoordinator(store, cfg.BatchCaller.ClaimLease), dialerClient, scheduler.BatchOptions{
			MaxRecipients: cfg.BatchCaller.MaxRecipients,
			ChunkSize:     cfg.BatchCaller.ChunkSize,
			MaxRounds:     cfg.BatchCaller.MaxRounds,
		})
		if cache != nil {
			batch.WithCache(cache)
		}

		return scheduler.NewLoop(mode, batch.Tick, scheduler.Options{
			Interval:        cfg.BatchCaller.TickInterval,
			StopGrace:       cfg.BatchCaller.StopGrace,
			AlertWebhookURL: cfg.Alert.WebhookURL,
			AlertThreshold:  cfg.Alert.IterationCount,
		}), nil

	default:
		return nil, fmt.Errorf("unknown scheduler mode %q (want %s or %s)", mode, scheduler.ModeCaller, scheduler.ModeBatch)
	}
}

// enabledLoops builds a loop for every mode switched on in the config.
func enabledLoops(cfg *environments.Config, store repository.Store, cache *redis.Client) ([]*scheduler.Loop, error) {
	var loops []*scheduler.Loop

	for mode, enabled := range map[string]bool{
		scheduler.ModeCaller: cfg.Caller.Enabled,
		scheduler.ModeBatch:  cfg.BatchCaller.Enabled,
	} {
		if !enabled {
			continue
		}

		loop, err := buildLoop(mode, cfg, store, cache)
		if err != nil {
			return nil, err
		}
		loops = append(loops, loop)
	}

	return loops, nil
}
