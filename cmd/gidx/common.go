package main

import (
	"github.com/sirupsen/logrus"

	"github.com/graphidx/graphidx/internal/apperrors"
	"github.com/graphidx/graphidx/internal/config"
	"github.com/graphidx/graphidx/internal/logging"
	"github.com/graphidx/graphidx/internal/resolver"
	"github.com/graphidx/graphidx/internal/store"
)

// openStore builds the configured backend (sqlite or postgres), sharing
// the pool-sizing knobs between both.
func openStore(c *config.Config, lg *logrus.Logger) (store.Store, error) {
	switch c.Store.Type {
	case "postgres":
		opts := store.PostgresOptions{
			MaxReaders:     c.Pool.MaxReaders,
			MinIdleReaders: c.Pool.MinIdleReaders,
			AcquireTimeout: c.Pool.AcquireTimeout,
		}
		return store.NewPostgresStore(c.Store.PostgresDSN, opts, lg)
	case "sqlite", "":
		opts := store.SQLiteOptions{
			MaxReaders:     c.Pool.MaxReaders,
			MinIdleReaders: c.Pool.MinIdleReaders,
			AcquireTimeout: c.Pool.AcquireTimeout,
			BusyTimeout:    c.Pool.BusyTimeout,
		}
		return store.NewSQLiteStore(c.Store.SQLitePath, opts, lg)
	default:
		return nil, apperrors.ConfigErrorf("unknown store type %q", c.Store.Type)
	}
}

// openSuggester wires the bbolt-backed fuzzy suggestion cache described
// in front of the store's name-search primitives.
func openSuggester(c *config.Config, st store.Store) (*resolver.Suggester, error) {
	return resolver.Open(c.Resolver.CachePath, st, c.Resolver.MaxSuggestions)
}

// structuredLogger builds the internal/logging.Logger the RPC dispatcher
// uses for slow-query reporting, from the config's logging level, output
// file and JSON format. The logrus logger's level is set separately, by
// the --verbose flag.
func structuredLogger(c *config.Config) (*logging.Logger, error) {
	level := logging.INFO
	switch c.Logging.Level {
	case "debug":
		level = logging.DEBUG
	case "warn":
		level = logging.WARN
	case "error":
		level = logging.ERROR
	}
	return logging.NewLogger(logging.Config{
		Level:      level,
		OutputFile: c.Logging.OutputFile,
		JSONFormat: c.Logging.JSONFormat,
	})
}
