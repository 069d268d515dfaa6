package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"area/internal/catalog"
	"area/internal/config"
	"area/internal/db"
	"area/internal/engine"
	"area/internal/migrate"
	"area/internal/registry"
	"area/internal/services/github"
	"area/internal/services/google"
	"area/internal/services/spotify"
	"area/internal/services/trello"
)

// BuildRegistry wires every built-in integration against the loaded config.
// Webhook callbacks register under base_url, so a reachable base_url is what
// makes github/trello setup calls succeed.
func BuildRegistry(cfg *config.Config) *registry.Registry {
	reg := registry.New()
	github.Register(reg, github.Options{
		CallbackURL: cfg.HTTP.BaseURL + "/webhooks/github",
	})
	trello.Register(reg, trello.Options{
		CallbackURL: cfg.HTTP.BaseURL + "/webhooks/trello",
		APIKey:      cfg.Integrations.Trello.APIKey,
	})
	spotify.Register(reg, spotify.Options{})
	google.Register(reg, google.Options{})
	return reg
}

// Bootstrap opens the workspace database, migrates it, loads config, seeds
// the service catalog and returns a ready engine. The caller owns closing
// Engine.DB.
func Bootstrap(ctx context.Context, workspace string, log *slog.Logger) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("load config: %w", err)
	}
	e := engine.New(conn, cfg, BuildRegistry(cfg), log)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := catalog.Sync(ctx, e.Repo, now); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("sync catalog: %w", err)
	}
	return e, nil
}
