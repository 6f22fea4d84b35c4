package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/stewardlabs/steward/internal/config"
	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
	"github.com/stewardlabs/steward/internal/runtime"
	"github.com/stewardlabs/steward/internal/store"
)

func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

func openStore(cfg *config.Config) (core.StateStore, error) {
	b, err := store.ParseBackend(cfg.State.Backend)
	if err != nil {
		return nil, err
	}
	return store.New(b, cfg.State.Dir, store.Options{})
}

// newDispatcher returns the configured command dispatcher, or the
// simulated one when no command is set.
func newDispatcher(cfg *config.Config) core.Dispatcher {
	if cfg.Dispatch.Command == "" {
		return &runtime.SimulatedDispatcher{}
	}
	return &runtime.CommandDispatcher{
		Command: cfg.Dispatch.Command,
		Args:    cfg.Dispatch.Args,
	}
}

// requireRunID maps an explicit run id through, or picks the most
// recently updated run when none was given.
func requireRunID(ctx context.Context, explicit string, st core.StateStore) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	summaries, err := st.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "", fmt.Errorf("no runs found; pass --run")
	}
	return summaries[0].RunID, nil
}
