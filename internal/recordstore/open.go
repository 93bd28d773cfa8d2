// Package recordstore opens the record store selected by configuration.
package recordstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/config"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/gateway/eai"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/sqlstore"
	"github.com/deductiv/export-everything-sub000/pkg/retry"
)

// Roles and users every SQL store starts with, matching a fresh splunkd.
var (
	DefaultRoles = []string{"admin", "power", "user"}
	DefaultUsers = []string{"admin"}
)

// Store is an opened record store.
type Store struct {
	gateway.RecordStore
	gateway.ACLWriter

	// Remote is set when directory listings go through the store's REST
	// handler instead of an in-process router.
	Remote gateway.DirectoryLister

	close func() error
}

// Close releases the store's connections.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open connects to the store named by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store {
	case config.StoreEAI:
		rc := retry.DefaultConfig()
		if cfg.RetryMaxAttempts > 0 {
			rc.MaxAttempts = cfg.RetryMaxAttempts
		}
		client := eai.New(eai.Config{
			BaseURL:     cfg.EAIURL,
			App:         cfg.App,
			Token:       cfg.EAIToken,
			Username:    cfg.EAIUsername,
			Password:    cfg.EAIPassword,
			InsecureTLS: cfg.EAIInsecureTLS,
			Timeout:     cfg.EAITimeout,
			RetryConfig: rc,
		})
		logging.Info("using REST record store", zap.String("url", cfg.EAIURL), zap.String("app", cfg.App))
		return &Store{RecordStore: client, ACLWriter: client, Remote: client}, nil

	case config.StoreSQL:
		db, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.App)
		if err != nil {
			return nil, err
		}
		if err := db.Seed(ctx, gateway.CollectionRoles, DefaultRoles...); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed roles: %w", err)
		}
		if err := db.Seed(ctx, gateway.CollectionUsers, DefaultUsers...); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed users: %w", err)
		}
		logging.Info("using SQL record store", zap.String("driver", cfg.DatabaseDriver), zap.String("app", cfg.App))
		return &Store{RecordStore: db, ACLWriter: db, close: db.Close}, nil
	}
	return nil, fmt.Errorf("unknown record store %q", cfg.Store)
}
