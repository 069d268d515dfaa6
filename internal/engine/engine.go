// Package engine implements rule dispatch: given a normalized trigger event,
// find the matching areas, gate them on their conditions, interpolate reaction
// parameters and invoke the executor, isolating every rule's outcome from its
// siblings.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"area/internal/config"
	"area/internal/domain"
	"area/internal/events"
	"area/internal/params"
	"area/internal/registry"
	"area/internal/repo"
)

// Outcome classifies one rule firing. Skipped is a normal, frequent result,
// not a failure.
type Outcome string

const (
	OutcomeExecuted    Outcome = "executed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeConfigError Outcome = "config_error"
	OutcomeNoExecutor  Outcome = "no_executor"
	OutcomeFailed      Outcome = "failed"
)

// FiringResult reports how one area fared. Err is set only for the error
// outcomes.
type FiringResult struct {
	AreaID  int64
	Outcome Outcome
	Err     error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *registry.Registry
	Events   events.Writer
	Config   *config.Config
	Log      *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, reg *registry.Registry, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Registry: reg,
		Events:   events.Writer{DB: conn},
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

// TriggerAreas runs every active rule whose action matches (service, event
// key) against the payload. Rules fire sequentially in id-ascending order and
// independently; no result aborts the batch.
func (e Engine) TriggerAreas(ctx context.Context, serviceName, eventKey string, payload map[string]any) []FiringResult {
	areas, err := e.Repo.FindActiveAreasForAction(ctx, serviceName, eventKey)
	if err != nil {
		e.Log.Warn("rule lookup failed", "service", serviceName, "event", eventKey, "err", err)
		return nil
	}
	results := make([]FiringResult, 0, len(areas))
	for _, area := range areas {
		results = append(results, e.ExecuteArea(ctx, area, payload))
	}
	return results
}

// ExecuteArea performs one full firing: load linked reaction, gate on the
// condition map, interpolate parameters, invoke the executor, report. Every
// failure mode is caught at this boundary and converted to a FiringResult.
func (e Engine) ExecuteArea(ctx context.Context, area domain.Area, triggerData map[string]any) (result FiringResult) {
	result = FiringResult{AreaID: area.ID}
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("executor panic: %v", r)
			e.Log.Error("area execution panicked", "area_id", area.ID, "panic", r)
		}
	}()

	reaction, err := e.Repo.GetReaction(ctx, area.ReactionID)
	if err != nil {
		return e.configError(ctx, area, fmt.Errorf("reaction %d: %w", area.ReactionID, err))
	}
	reactionService, err := e.Repo.GetService(ctx, area.ReactionServiceID)
	if err != nil {
		return e.configError(ctx, area, fmt.Errorf("reaction service %d: %w", area.ReactionServiceID, err))
	}

	if !params.Match(area.ParamsAction, triggerData) {
		e.Log.Debug("conditions not met", "area_id", area.ID)
		return FiringResult{AreaID: area.ID, Outcome: OutcomeSkipped}
	}

	reactionParams := params.Interpolate(area.ParamsReaction, triggerData)
	return e.invoke(ctx, area, reactionService, reaction, reactionParams)
}

// FireReaction invokes an area's reaction directly, bypassing the condition
// gate and interpolation. Used by the timer scheduler, whose triggers carry
// no payload to gate on.
func (e Engine) FireReaction(ctx context.Context, area domain.Area) FiringResult {
	reaction, err := e.Repo.GetReaction(ctx, area.ReactionID)
	if err != nil {
		return e.configError(ctx, area, fmt.Errorf("reaction %d: %w", area.ReactionID, err))
	}
	reactionService, err := e.Repo.GetService(ctx, area.ReactionServiceID)
	if err != nil {
		return e.configError(ctx, area, fmt.Errorf("reaction service %d: %w", area.ReactionServiceID, err))
	}
	return e.invoke(ctx, area, reactionService, reaction, area.ParamsReaction)
}

func (e Engine) invoke(ctx context.Context, area domain.Area, svc domain.Service, reaction domain.Reaction, parameters map[string]any) FiringResult {
	key := domain.TechnicalKey(reaction.Name)
	executor, ok := e.Registry.Executor(svc.Name, key)
	if !ok {
		err := fmt.Errorf("no executor for %s.%s", svc.Name, key)
		e.Log.Error("executor missing", "area_id", area.ID, "service", svc.Name, "reaction", key)
		e.audit(ctx, "area.no_executor", area, svc.Name, events.EventPayload{"reaction": key})
		return FiringResult{AreaID: area.ID, Outcome: OutcomeNoExecutor, Err: err}
	}

	if err := executor.Execute(ctx, e.Repo, area.UserID, parameters); err != nil {
		e.Log.Error("area execution failed", "area_id", area.ID, "service", svc.Name, "reaction", key, "err", err)
		e.noteAccountError(ctx, area.UserID, svc.Name, err)
		e.audit(ctx, "area.failed", area, svc.Name, events.EventPayload{"reaction": key, "error": err.Error()})
		return FiringResult{AreaID: area.ID, Outcome: OutcomeFailed, Err: err}
	}

	e.Log.Info("area executed", "area_id", area.ID, "service", svc.Name, "reaction", key)
	e.audit(ctx, "area.executed", area, svc.Name, events.EventPayload{"reaction": key})
	return FiringResult{AreaID: area.ID, Outcome: OutcomeExecuted}
}

// noteAccountError bumps the health counters on the credential backing a
// failed reaction call. Services without a stored grant (timer, dev stubs)
// have nothing to bump.
func (e Engine) noteAccountError(ctx context.Context, userID int64, serviceName string, cause error) {
	acct, err := e.Repo.ServiceAccount(ctx, userID, serviceName)
	if err != nil {
		return
	}
	if err := e.Repo.RecordAccountError(ctx, acct.ID, cause.Error()); err != nil {
		e.Log.Warn("account health update failed", "account_id", acct.ID, "err", err)
	}
}

func (e Engine) configError(ctx context.Context, area domain.Area, err error) FiringResult {
	e.Log.Error("area misconfigured", "area_id", area.ID, "err", err)
	e.audit(ctx, "area.config_error", area, "", events.EventPayload{"error": err.Error()})
	return FiringResult{AreaID: area.ID, Outcome: OutcomeConfigError, Err: err}
}

func (e Engine) audit(ctx context.Context, evtType string, area domain.Area, service string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, area.ID, area.UserID, service, "", payload); err != nil {
		e.Log.Warn("audit append failed", "type", evtType, "area_id", area.ID, "err", err)
	}
}
