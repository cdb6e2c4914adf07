package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/config"
	"github.com/hamed0406/proxychecker/internal/domain"
)

func TestApplySeed_OnlyWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - type: nginx\n    host: a\n  - type: squid\n    host: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.close()
	if st.kind != "memory" {
		t.Fatalf("want memory store, got %s", st.kind)
	}

	if err := applySeed(ctx, path, st, zap.NewNop()); err != nil {
		t.Fatalf("applySeed: %v", err)
	}
	if err := applySeed(ctx, path, st, zap.NewNop()); err != nil {
		t.Fatalf("second applySeed: %v", err)
	}
	ts, _ := st.List(ctx)
	if len(ts) != 2 || ts[1].Kind != domain.KindProxy || ts[1].Port != 3128 {
		t.Fatalf("unexpected targets: %+v", ts)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := openStore(ctx, config.Config{SQLitePath: filepath.Join(t.TempDir(), "pc.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.close()
	if st.kind != "sqlite" {
		t.Fatalf("want sqlite store, got %s", st.kind)
	}
}
