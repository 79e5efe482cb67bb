// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/handlers"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"codeberg.org/oliverandrich/student-portal/internal/store/filestore"
	"codeberg.org/oliverandrich/student-portal/internal/store/mongostore"
	"codeberg.org/oliverandrich/student-portal/internal/store/sqlstore"
)

// ErrUnknownEngine is returned for a storage engine name that is not
// config.EngineFile or config.EngineSQLite.
var ErrUnknownEngine = errors.New("unknown storage engine")

// OpenStore builds the record store described by cfg. The local engine is
// always opened; with MongoDB enabled it becomes the fallback behind the
// document store. The returned status is nil when MongoDB is not in use.
func OpenStore(ctx context.Context, cfg *config.Config, sealer *store.Sealer) (store.Store, handlers.StorageStatus, error) {
	admin := store.BootstrapAdmin{
		Email:        cfg.Auth.Admin.Email,
		Username:     cfg.Auth.Admin.Username,
		FullName:     cfg.Auth.Admin.FullName,
		PasswordHash: cfg.Auth.Admin.PasswordHash,
	}

	local, err := openLocal(ctx, cfg, sealer, admin)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Storage.MongoEnabled() {
		slog.Info("storage_ready", "engine", cfg.Storage.Engine)
		return local, nil, nil
	}

	ms, err := mongostore.New(ctx, mongostore.Options{
		URI:            cfg.Storage.MongoURI,
		Database:       cfg.Storage.MongoDatabase,
		ConnectTimeout: cfg.Storage.ConnectTimeout,
		Sealer:         sealer,
		Admin:          admin,
		Fallback:       local,
	})
	if err != nil {
		_ = local.Close(ctx)
		return nil, nil, fmt.Errorf("failed to open mongodb store: %w", err)
	}

	slog.Info("storage_ready", "engine", "mongodb", "connected", ms.Connected(), "fallback", cfg.Storage.Engine)
	return ms, ms, nil
}

func openLocal(ctx context.Context, cfg *config.Config, sealer *store.Sealer, admin store.BootstrapAdmin) (store.Store, error) {
	switch cfg.Storage.Engine {
	case config.EngineFile, "":
		s, err := filestore.New(ctx, filestore.Options{
			Dir:    cfg.Storage.DataDir,
			Sealer: sealer,
			Admin:  admin,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, nil
	case config.EngineSQLite:
		s, err := sqlstore.New(ctx, sqlstore.Options{
			DSN:    cfg.Storage.SQLiteDSN,
			Sealer: sealer,
			Admin:  admin,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Storage.Engine)
	}
}
