package poller_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"area/internal/config"
	"area/internal/db"
	"area/internal/domain"
	"area/internal/engine"
	"area/internal/migrate"
	"area/internal/poller"
	"area/internal/registry"
)

// stubPoll returns a canned result and records how it was called.
type stubPoll struct {
	result *registry.ActionResult
	polls  *int
	params *map[string]any
}

func (s stubPoll) ServiceName() string { return "sensor" }
func (s stubPoll) ActionKey() string   { return "new_sample" }

func (s stubPoll) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return registry.ActionResult{}
}

func (s stubPoll) Poll(ctx context.Context, store registry.Store, userID int64, params map[string]any) (*registry.ActionResult, error) {
	*s.polls++
	*s.params = params
	return s.result, nil
}

type recordingExecutor struct {
	calls *[]map[string]any
}

func (r recordingExecutor) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	*r.calls = append(*r.calls, params)
	return nil
}

type pollEnv struct {
	Poller poller.Poller
	Ctx    context.Context
	Calls  *[]map[string]any
	Polls  *int
	Params *map[string]any
}

func newPollEnv(t *testing.T, result *registry.ActionResult) pollEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	calls := &[]map[string]any{}
	polls := new(int)
	seenParams := &map[string]any{}
	reg := registry.New()
	reg.RegisterHandler(stubPoll{result: result, polls: polls, params: seenParams})
	reg.RegisterExecutor("sensor", "do_thing", recordingExecutor{calls})

	eng := engine.New(conn, config.Default(), reg, nil)
	ctx := context.Background()
	now := "2024-01-01T00:00:00Z"
	svcID, err := eng.Repo.InsertService(ctx, domain.Service{Name: "sensor", DisplayName: "Sensor", IsActive: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}
	actID, err := eng.Repo.InsertAction(ctx, domain.Action{ServiceID: svcID, Name: "New Sample", IsPolling: true, IsActive: true})
	if err != nil {
		t.Fatalf("insert action: %v", err)
	}
	reactID, err := eng.Repo.InsertReaction(ctx, domain.Reaction{ServiceID: svcID, Name: "Do Thing", IsActive: true})
	if err != nil {
		t.Fatalf("insert reaction: %v", err)
	}
	if _, err := eng.Repo.InsertArea(ctx, domain.Area{
		UserID:            7,
		Name:              "sample rule",
		ActionServiceID:   svcID,
		ActionID:          actID,
		ReactionServiceID: svcID,
		ReactionID:        reactID,
		ParamsAction:      map[string]any{"scope": "x"},
		ParamsReaction:    map[string]any{"msg": "{{sample.title}}"},
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		t.Fatalf("insert area: %v", err)
	}

	return pollEnv{
		Poller: poller.New(eng, time.Minute, slog.Default()),
		Ctx:    ctx,
		Calls:  calls,
		Polls:  polls,
		Params: seenParams,
	}
}

func TestPollOnceQuietWhenNothingNew(t *testing.T) {
	env := newPollEnv(t, nil)
	env.Poller.PollOnce(env.Ctx)
	if *env.Polls != 1 {
		t.Fatalf("polls = %d, want 1", *env.Polls)
	}
	if len(*env.Calls) != 0 {
		t.Fatalf("executor fired with no poll result")
	}
	if (*env.Params)["scope"] != "x" {
		t.Fatalf("poll params = %v, want the area's params_action", *env.Params)
	}
}

func TestPollOnceDispatchesTriggeredResult(t *testing.T) {
	env := newPollEnv(t, &registry.ActionResult{
		Triggered: true,
		EventType: "new_sample",
		Payload: map[string]any{
			"scope":  "x",
			"sample": map[string]any{"title": "hi"},
		},
	})
	env.Poller.PollOnce(env.Ctx)
	if len(*env.Calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(*env.Calls))
	}
	if (*env.Calls)[0]["msg"] != "hi" {
		t.Fatalf("interpolated msg = %v", (*env.Calls)[0]["msg"])
	}
}

func TestPollOnceGatesOnConditions(t *testing.T) {
	// Payload missing the scope key the area filters on: poll triggers but
	// the dispatch gate skips.
	env := newPollEnv(t, &registry.ActionResult{
		Triggered: true,
		EventType: "new_sample",
		Payload:   map[string]any{"sample": map[string]any{"title": "hi"}},
	})
	env.Poller.PollOnce(env.Ctx)
	if len(*env.Calls) != 0 {
		t.Fatalf("executor fired despite unmet conditions")
	}
}
