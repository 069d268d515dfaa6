package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"area/internal/engine"
)

const maxWebhookBody = 1 << 20

// registerWebhooks mounts the ingestion endpoints as raw chi routes. Webhook
// deliveries always answer 200 so upstreams do not retry or disable the
// hook; the single exception is a failed signature check, which must be 401.
func registerWebhooks(router chi.Router, e engine.Engine) {
	router.Post("/webhooks/{service}", func(w http.ResponseWriter, r *http.Request) {
		serviceName := chi.URLParam(r, "service")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Event: "unknown"})
			return
		}
		wireEvent := extractWireEvent(serviceName, r.Header, body)
		receipt, err := e.ProcessWebhook(r.Context(), serviceName, wireEvent, body, r.Header)
		if errors.Is(err, engine.ErrBadSignature) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
		writeJSON(w, http.StatusOK, WebhookResponse{
			Status:            "ok",
			Event:             receipt.Event,
			Delivery:          receipt.Delivery,
			HandlersTriggered: receipt.HandlersTriggered,
		})
	})

	// Endpoint verification: some providers verify with GET (challenge echo)
	// or HEAD before the first delivery.
	router.Get("/webhooks/{service}", func(w http.ResponseWriter, r *http.Request) {
		if challenge := r.URL.Query().Get("challenge"); challenge != "" {
			writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Head("/webhooks/{service}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// extractWireEvent finds the provider's event name. GitHub names the event
// in a header; Trello embeds it in the delivery body as action.type.
func extractWireEvent(serviceName string, headers http.Header, body []byte) string {
	switch serviceName {
	case "github":
		if evt := headers.Get("X-GitHub-Event"); evt != "" {
			return evt
		}
	case "trello":
		var delivery struct {
			Action struct {
				Type string `json:"type"`
			} `json:"action"`
		}
		if err := json.Unmarshal(body, &delivery); err == nil && delivery.Action.Type != "" {
			return delivery.Action.Type
		}
	}
	if evt := headers.Get("X-Event-Type"); evt != "" {
		return evt
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
