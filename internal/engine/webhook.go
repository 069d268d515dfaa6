package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"area/internal/registry"
)

// ErrBadSignature is returned when a configured secret fails verification.
// The HTTP layer maps it to 401; every other webhook outcome is 200.
var ErrBadSignature = errors.New("webhook signature verification failed")

// WebhookReceipt summarizes one inbound delivery for the always-success
// response body.
type WebhookReceipt struct {
	Delivery          string
	Event             string
	HandlersTriggered int
	Results           []FiringResult
}

// ProcessWebhook handles one inbound delivery: verify the signature when a
// secret is configured (no secret means verification is skipped, the
// documented insecure-by-default fallback), fan the raw payload out to every
// handler subscribed to the wire event, and dispatch matching rules for each
// triggered result. A parse failure in one handler never stops its siblings.
func (e Engine) ProcessWebhook(ctx context.Context, serviceName, wireEvent string, body []byte, headers http.Header) (WebhookReceipt, error) {
	receipt := WebhookReceipt{
		Delivery: uuid.New().String(),
		Event:    wireEvent,
	}

	handlers := e.Registry.HandlersForEvent(serviceName, wireEvent)

	if secret := e.Config.WebhookSecret(serviceName); secret != "" {
		verifier := e.serviceVerifier(serviceName, handlers)
		if verifier != nil && !verifier.VerifySignature(body, headers, secret) {
			e.Log.Warn("webhook signature rejected", "service", serviceName, "event", wireEvent, "delivery", receipt.Delivery)
			return receipt, ErrBadSignature
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		// Tolerate non-JSON bodies the way upstream ping deliveries require.
		payload = map[string]any{}
	}

	for _, h := range handlers {
		result := h.ParsePayload(payload, headers)
		if result.Err != nil {
			e.Log.Warn("webhook handler parse failed", "service", serviceName, "handler", h.ActionKey(), "delivery", receipt.Delivery, "err", result.Err)
			continue
		}
		if !result.Triggered {
			continue
		}
		receipt.HandlersTriggered++
		results := e.TriggerAreas(ctx, serviceName, result.EventType, result.Payload)
		receipt.Results = append(receipt.Results, results...)
	}

	e.Log.Info("webhook processed", "service", serviceName, "event", wireEvent,
		"delivery", receipt.Delivery, "handlers_triggered", receipt.HandlersTriggered, "firings", len(receipt.Results))
	return receipt, nil
}

// serviceVerifier picks the signature verifier for a delivery. Signature
// schemes are per-service, so any webhook handler subscribed to the wire
// event will do. Deliveries for events nobody subscribes to skip
// verification and produce an empty receipt.
func (e Engine) serviceVerifier(serviceName string, subscribed []registry.EventHandler) registry.WebhookHandler {
	for _, h := range subscribed {
		if wh, ok := h.(registry.WebhookHandler); ok {
			return wh
		}
	}
	return nil
}
