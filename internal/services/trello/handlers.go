package trello

import (
	"context"
	"net/http"
	"net/url"

	"area/internal/domain"
	"area/internal/registry"
)

// newCardHandler triggers on card creation. Trello sends one webhook per
// board model; the wire event is the action type embedded in the delivery
// body, extracted by the ingestion layer.
type newCardHandler struct {
	svc *service
}

func (h *newCardHandler) ServiceName() string     { return ServiceName }
func (h *newCardHandler) ActionKey() string       { return "new_card" }
func (h *newCardHandler) WebhookEvents() []string { return []string{"createCard"} }

func (h *newCardHandler) VerifySignature(body []byte, headers http.Header, secret string) bool {
	return verifySignature(body, headers, secret, h.svc.callback)
}

// ParsePayload normalizes a createCard delivery. The flat board_id and
// list_id duplicates exist so trigger conditions can reuse the same keys the
// rule's setup parameters use.
func (h *newCardHandler) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	action := mapAt(payload, "action")
	if t, _ := action["type"].(string); t != "createCard" {
		return registry.ActionResult{EventType: "new_card"}
	}
	data := mapAt(action, "data")
	card := mapAt(data, "card")
	board := mapAt(data, "board")
	list := mapAt(data, "list")
	member := mapAt(action, "memberCreator")
	shortLink, _ := card["shortLink"].(string)
	return registry.ActionResult{
		Triggered: true,
		EventType: "new_card",
		Payload: map[string]any{
			"board": map[string]any{
				"id":   board["id"],
				"name": board["name"],
			},
			"board_id": board["id"],
			"list": map[string]any{
				"id":   list["id"],
				"name": list["name"],
			},
			"list_id": list["id"],
			"card": map[string]any{
				"id":        card["id"],
				"name":      card["name"],
				"shortLink": shortLink,
				"url":       "https://trello.com/c/" + shortLink,
			},
			"member": map[string]any{
				"username": member["username"],
				"fullName": member["fullName"],
			},
		},
	}
}

// SetupWebhook registers a board-model webhook against the callback URL.
// Existing hooks for the same (callback, board) pair are reused.
func (h *newCardHandler) SetupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	boardID, err := requireString(params, "board_id")
	if err != nil {
		return err
	}
	var hooks []struct {
		ID          string `json:"id"`
		CallbackURL string `json:"callbackURL"`
		IDModel     string `json:"idModel"`
	}
	if err := h.svc.do(ctx, http.MethodGet, "/1/tokens/"+acct.AccessToken+"/webhooks", acct.AccessToken, nil, &hooks); err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.CallbackURL == h.svc.callback && hook.IDModel == boardID {
			return nil
		}
	}
	q := url.Values{
		"callbackURL": {h.svc.callback},
		"idModel":     {boardID},
		"description": {"area webhook"},
	}
	return h.svc.do(ctx, http.MethodPost, "/1/webhooks", acct.AccessToken, q, nil)
}

func (h *newCardHandler) CleanupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	boardID, err := requireString(params, "board_id")
	if err != nil {
		return err
	}
	var hooks []struct {
		ID          string `json:"id"`
		CallbackURL string `json:"callbackURL"`
		IDModel     string `json:"idModel"`
	}
	if err := h.svc.do(ctx, http.MethodGet, "/1/tokens/"+acct.AccessToken+"/webhooks", acct.AccessToken, nil, &hooks); err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.CallbackURL == h.svc.callback && hook.IDModel == boardID {
			return h.svc.do(ctx, http.MethodDelete, "/1/webhooks/"+hook.ID, acct.AccessToken, nil, nil)
		}
	}
	return nil
}

func mapAt(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}
