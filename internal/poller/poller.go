// Package poller runs the fixed-interval worker that drives polling actions:
// services without webhooks (Spotify, Gmail) are asked "anything new?" on a
// timer and any hit is dispatched like a webhook event would be.
package poller

import (
	"context"
	"log/slog"
	"time"

	"area/internal/domain"
	"area/internal/engine"
	"area/internal/registry"
	"area/internal/repo"
)

type Poller struct {
	Engine   engine.Engine
	Repo     repo.Repo
	Log      *slog.Logger
	Interval time.Duration
}

func New(eng engine.Engine, interval time.Duration, log *slog.Logger) Poller {
	return Poller{
		Engine:   eng,
		Repo:     eng.Repo,
		Log:      log,
		Interval: interval,
	}
}

// Run polls on a fixed tick until ctx is cancelled. The first scan happens
// after one full interval, not at startup, so a booting server does not
// hammer every integration at once.
func (p Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce scans every polling action with at least one active area. Errors
// are contained per area: one broken credential or flaky API never stops the
// sweep.
func (p Poller) PollOnce(ctx context.Context) {
	actions, err := p.Repo.ListPollingActions(ctx)
	if err != nil {
		p.Log.Error("polling scan failed", "err", err)
		return
	}
	for _, action := range actions {
		svc, err := p.Repo.GetService(ctx, action.ServiceID)
		if err != nil {
			p.Log.Error("polling action orphaned", "action_id", action.ID, "err", err)
			continue
		}
		handler, ok := p.Engine.Registry.PollingHandler(svc.Name, domain.TechnicalKey(action.Name))
		if !ok {
			continue
		}
		areas, err := p.Repo.ListActiveAreasByAction(ctx, action.ID)
		if err != nil {
			p.Log.Error("polling area list failed", "action_id", action.ID, "err", err)
			continue
		}
		for _, area := range areas {
			p.pollArea(ctx, handler, svc.Name, area)
		}
	}
}

func (p Poller) pollArea(ctx context.Context, handler registry.PollingHandler, serviceName string, area domain.Area) {
	result, err := handler.Poll(ctx, p.Repo, area.UserID, area.ParamsAction)
	if err != nil {
		p.Log.Warn("poll failed", "service", serviceName, "area_id", area.ID, "err", err)
		return
	}
	if result == nil || !result.Triggered {
		return
	}
	fr := p.Engine.ExecuteArea(ctx, area, result.Payload)
	if fr.Err != nil {
		p.Log.Warn("polled rule failed", "area_id", area.ID, "outcome", fr.Outcome, "err", fr.Err)
	} else {
		p.Log.Info("polled rule ran", "area_id", area.ID, "outcome", fr.Outcome)
	}
}
