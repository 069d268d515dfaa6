package engine_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"area/internal/config"
	"area/internal/domain"
	"area/internal/engine"
	"area/internal/registry"
)

// stubHook is a canned webhook handler: fixed parse result, fixed signature
// verdict.
type stubHook struct {
	key    string
	events []string
	result registry.ActionResult
	sigOK  bool
}

func (h stubHook) ServiceName() string     { return "hub" }
func (h stubHook) ActionKey() string       { return h.key }
func (h stubHook) WebhookEvents() []string { return h.events }

func (h stubHook) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return h.result
}

func (h stubHook) VerifySignature(body []byte, headers http.Header, secret string) bool {
	return h.sigOK
}

func (h stubHook) SetupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	return nil
}

func (h stubHook) CleanupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	return nil
}

func TestProcessWebhookFanOutIsolatesParseFailures(t *testing.T) {
	var calls []map[string]any
	reg := registry.New()
	reg.RegisterExecutor("hub", "do_thing", stubExecutor{&calls})
	reg.RegisterHandler(stubHook{
		key:    "broken",
		events: []string{"thing"},
		result: registry.ActionResult{Err: errors.New("malformed")},
		sigOK:  true,
	})
	reg.RegisterHandler(stubHook{
		key:    "new_thing",
		events: []string{"thing"},
		result: registry.ActionResult{
			Triggered: true,
			EventType: "new_thing",
			Payload:   map[string]any{"thing": map[string]any{"title": "hello"}},
		},
		sigOK: true,
	})
	env := newTestEnv(t, reg)
	env.addArea(t, nil, map[string]any{"msg": "{{thing.title}}"})

	receipt, err := env.Engine.ProcessWebhook(env.Ctx, "hub", "thing", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if receipt.Delivery == "" || receipt.Event != "thing" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if receipt.HandlersTriggered != 1 {
		t.Fatalf("handlers triggered = %d, want 1", receipt.HandlersTriggered)
	}
	if len(receipt.Results) != 1 || receipt.Results[0].Outcome != engine.OutcomeExecuted {
		t.Fatalf("results = %+v", receipt.Results)
	}
	if len(calls) != 1 || calls[0]["msg"] != "hello" {
		t.Fatalf("executor calls = %+v", calls)
	}
}

func TestProcessWebhookRejectsBadSignature(t *testing.T) {
	reg := registry.New()
	reg.RegisterHandler(stubHook{
		key:    "new_thing",
		events: []string{"thing"},
		result: registry.ActionResult{Triggered: true, EventType: "new_thing"},
		sigOK:  false,
	})
	env := newTestEnv(t, reg)
	env.Engine.Config.Webhooks["hub"] = config.WebhookConfig{Secret: "s3cret"}

	_, err := env.Engine.ProcessWebhook(env.Ctx, "hub", "thing", []byte(`{}`), http.Header{})
	if !errors.Is(err, engine.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestProcessWebhookSkipsVerificationWithoutSecret(t *testing.T) {
	reg := registry.New()
	reg.RegisterHandler(stubHook{
		key:    "new_thing",
		events: []string{"thing"},
		result: registry.ActionResult{Triggered: true, EventType: "new_thing"},
		sigOK:  false,
	})
	env := newTestEnv(t, reg)

	receipt, err := env.Engine.ProcessWebhook(env.Ctx, "hub", "thing", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if receipt.HandlersTriggered != 1 {
		t.Fatalf("handlers triggered = %d, want 1", receipt.HandlersTriggered)
	}
}

func TestProcessWebhookToleratesNonJSONBody(t *testing.T) {
	reg := registry.New()
	reg.RegisterHandler(stubHook{
		key:    "new_thing",
		events: []string{"thing"},
		result: registry.ActionResult{Triggered: true, EventType: "new_thing"},
		sigOK:  true,
	})
	env := newTestEnv(t, reg)

	receipt, err := env.Engine.ProcessWebhook(env.Ctx, "hub", "thing", []byte("not json"), http.Header{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if receipt.HandlersTriggered != 1 {
		t.Fatalf("handlers triggered = %d, want 1", receipt.HandlersTriggered)
	}
}

func TestProcessWebhookUnknownEventEmptyReceipt(t *testing.T) {
	env := newTestEnv(t, registry.New())

	receipt, err := env.Engine.ProcessWebhook(env.Ctx, "hub", "nobody-listens", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if receipt.HandlersTriggered != 0 || len(receipt.Results) != 0 {
		t.Fatalf("receipt = %+v, want empty", receipt)
	}
}
