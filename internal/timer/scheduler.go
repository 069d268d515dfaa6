package timer

import (
	"context"
	"log/slog"
	"time"

	"area/internal/domain"
	"area/internal/engine"
	"area/internal/repo"
)

// Scheduler drives fixed-time and interval timer areas. It keeps the
// bookkeeping (next_run_at, last_run_at) inside each area's params_action
// under the "timer" key, so the schema stays free of timer-specific columns
// and run state never collides with condition keys.
type Scheduler struct {
	Engine   engine.Engine
	Repo     repo.Repo
	Log      *slog.Logger
	Interval time.Duration
	Now      func() time.Time
}

func NewScheduler(eng engine.Engine, interval time.Duration, log *slog.Logger) Scheduler {
	return Scheduler{
		Engine:   eng,
		Repo:     eng.Repo,
		Log:      log,
		Interval: interval,
		Now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (s Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDueTimers(ctx)
		}
	}
}

// RunDueTimers scans active timer areas once. Areas without a stored
// next_run_at get one computed and persisted without firing, so a freshly
// created rule waits a full period before its first run. Due areas fire and
// then have their next run recomputed from now, never from the stored
// timestamp, so missed ticks are dropped rather than replayed.
func (s Scheduler) RunDueTimers(ctx context.Context) {
	svc, err := s.Repo.GetServiceByName(ctx, "timer")
	if err != nil {
		return
	}
	areas, err := s.Repo.ListActiveAreasByActionService(ctx, svc.ID)
	if err != nil {
		s.Log.Error("timer scan failed", "err", err)
		return
	}
	now := s.Now().UTC()
	for _, area := range areas {
		if err := s.runArea(ctx, area, now); err != nil {
			s.Log.Error("timer area failed", "area_id", area.ID, "err", err)
		}
	}
}

func (s Scheduler) runArea(ctx context.Context, area domain.Area, now time.Time) error {
	action, err := s.Repo.GetAction(ctx, area.ActionID)
	if err != nil {
		return err
	}
	sched, err := BuildSchedule(domain.TechnicalKey(action.Name), area.ParamsAction)
	if err != nil {
		return err
	}

	state, _ := area.ParamsAction["timer"].(map[string]any)
	nextRaw, _ := state["next_run_at"].(string)
	next, parseErr := time.Parse(time.RFC3339, nextRaw)
	if nextRaw == "" || parseErr != nil {
		// First sighting: persist a schedule, do not fire.
		return s.persistNext(ctx, area, sched, now, false)
	}
	if now.Before(next) {
		return nil
	}

	result := s.Engine.FireReaction(ctx, area)
	if result.Err != nil {
		s.Log.Warn("timer reaction failed", "area_id", area.ID, "err", result.Err)
	} else {
		s.Log.Info("timer fired", "area_id", area.ID, "outcome", result.Outcome)
	}
	return s.persistNext(ctx, area, sched, now, true)
}

func (s Scheduler) persistNext(ctx context.Context, area domain.Area, sched Schedule, now time.Time, fired bool) error {
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		return err
	}
	nowRFC := now.Format(time.RFC3339)
	if next.IsZero() {
		// end_date passed: the schedule is spent, retire the rule.
		s.Log.Info("timer schedule exhausted", "area_id", area.ID)
		return s.Repo.SetAreaActive(ctx, area.ID, false, nowRFC)
	}
	params := make(map[string]any, len(area.ParamsAction)+1)
	for k, v := range area.ParamsAction {
		params[k] = v
	}
	state := make(map[string]any)
	if prev, ok := area.ParamsAction["timer"].(map[string]any); ok {
		for k, v := range prev {
			state[k] = v
		}
	}
	state["next_run_at"] = next.Format(time.RFC3339)
	if fired {
		state["last_run_at"] = nowRFC
	}
	params["timer"] = state
	return s.Repo.UpdateAreaParamsAction(ctx, area.ID, params, nowRFC)
}
