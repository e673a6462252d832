package app

import (
	"context"
	"testing"

	"github.com/andresuchdata/shopledger/internal/config"
	"github.com/andresuchdata/shopledger/internal/store"
)

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			Enabled:  true,
			Driver:   StorageLocal,
			LocalDir: t.TempDir(),
			Prefix:   "reports",
		},
		Migration: config.MigrationConfig{
			StoreBackend:   BackendMemory,
			TotalTolerance: 0.01,
			GuardBackend:   GuardLocal,
		},
	}
}

func TestNewMemoryApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if _, err := a.Store.Create(ctx, store.Products, store.Record{"billNumber": "B1", "totalAmount": 12.0}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	result, err := a.Migration.RunMigration(ctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if result.BillsCreated() != 1 {
		t.Fatalf("expected one bill, got %+v", result)
	}

	archives, err := a.Migration.ListArchives(ctx, "")
	if err != nil || len(archives) != 1 {
		t.Fatalf("expected one archive, got %v (%v)", archives, err)
	}
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"store", func(c *config.Config) { c.Migration.StoreBackend = "sqlite" }},
		{"storage", func(c *config.Config) { c.Storage.Driver = "ftp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg, Options{}); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
