package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/config"
	"github.com/hamed0406/proxychecker/internal/repo"
	"github.com/hamed0406/proxychecker/internal/repo/memory"
	pg "github.com/hamed0406/proxychecker/internal/repo/postgres"
	"github.com/hamed0406/proxychecker/internal/repo/sqlite"
)

type store struct {
	repo.TargetStore
	repo.HistoryStore
	kind  string
	close func()
}

// openStore picks postgres, then sqlite, then memory.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := pg.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return &store{TargetStore: s, HistoryStore: s, kind: "postgres", close: s.Close}, nil
	case cfg.SQLitePath != "":
		s, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return &store{TargetStore: s, HistoryStore: s, kind: "sqlite", close: func() { _ = s.Close() }}, nil
	default:
		s := memory.New()
		return &store{TargetStore: s, HistoryStore: s, kind: "memory", close: func() {}}, nil
	}
}

// applySeed registers the seed targets when the registry is empty.
func applySeed(ctx context.Context, path string, ts repo.TargetStore, logger *zap.Logger) error {
	existing, err := ts.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("seed_skipped", zap.Int("targets", len(existing)))
		return nil
	}
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	for _, in := range seed.Targets {
		t, err := ts.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("seed %s: %w", in.Host, err)
		}
		logger.Info("seed_target", zap.Int64("target_id", int64(t.ID)), zap.String("type", string(t.Kind)), zap.String("host", t.Host))
	}
	return nil
}
