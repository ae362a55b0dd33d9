package main

import (
	"context"
	"fmt"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/database"
	"github.com/irfndi/tradepilot/internal/storage"
)

// runSeeder loads the AI profile and strategy catalog into the configured
// database without starting the server.
func runSeeder() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AI.ProfilesPath == "" {
		return fmt.Errorf("ai.profiles_path is not set; nothing to seed")
	}

	ctx := context.Background()
	db, err := database.NewDatabaseConnection(ctx, &cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to db: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	store := storage.NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	n, err := seedCatalog(ctx, storage.NewRepository(store), cfg.AI.ProfilesPath)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d catalog records from %s\n", n, cfg.AI.ProfilesPath)
	return nil
}

// seedCatalog upserts every profile and strategy in the catalog at path and
// returns how many records it wrote. Re-seeding a strategy bumps its version.
func seedCatalog(ctx context.Context, repo *storage.Repository, path string) (int, error) {
	catalog, err := config.LoadCatalog(path)
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range catalog.Profiles {
		if err := repo.SaveAIProfile(ctx, &catalog.Profiles[i]); err != nil {
			return n, fmt.Errorf("failed to seed profile %s: %w", catalog.Profiles[i].ID, err)
		}
		n++
	}
	for i := range catalog.Strategies {
		s := &catalog.Strategies[i]
		existing, err := repo.GetStrategy(ctx, s.ID)
		switch {
		case err == nil:
			s.Version = existing.Version + 1
		case storage.IsNotFound(err):
			if s.Version == 0 {
				s.Version = 1
			}
		default:
			return n, err
		}
		if err := repo.SaveStrategy(ctx, s); err != nil {
			return n, fmt.Errorf("failed to seed strategy %s: %w", s.ID, err)
		}
		n++
	}
	return n, nil
}
