package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{"", "memory", "badger"} {
		cfg := config{StorageDriver: driver, BadgerPath: filepath.Join(t.TempDir(), "db")}
		st, closeFn, err := openStore(ctx, cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("openStore(%q): %v", driver, err)
		}
		if st == nil {
			t.Fatalf("openStore(%q): nil store", driver)
		}
		closeFn()
	}

	if _, _, err := openStore(ctx, config{StorageDriver: "sqlite"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown driver")
	}
}
