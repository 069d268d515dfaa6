package google

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"area/internal/registry"
	"area/internal/repo"
)

// newEmailHandler polls the Gmail inbox for unread mail. Matching narrows by
// from_address, subject_contains and label parameters; seen message ids are
// cached so one email fires at most once per process lifetime, with the
// usual cold-start baseline suppression.
type newEmailHandler struct {
	svc *service
}

func (h *newEmailHandler) ServiceName() string { return ServiceName }
func (h *newEmailHandler) ActionKey() string   { return "new_email" }

func (h *newEmailHandler) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return registry.ActionResult{Triggered: true, EventType: "new_email", Payload: payload}
}

func (h *newEmailHandler) Poll(ctx context.Context, store registry.Store, userID int64, params map[string]any) (*registry.ActionResult, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		// Not connected is a quiet skip for a poller, not a failure.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	queryParts := []string{"is:unread"}
	if from, _ := params["from_address"].(string); from != "" {
		queryParts = append(queryParts, "from:"+from)
	}
	if subject, _ := params["subject_contains"].(string); subject != "" {
		queryParts = append(queryParts, "subject:"+subject)
	}
	label, _ := params["label"].(string)
	if label == "" {
		label = "INBOX"
	}

	q := url.Values{
		"q":          {strings.Join(queryParts, " ")},
		"maxResults": {"5"},
		"labelIds":   {label},
	}
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := h.svc.do(ctx, http.MethodGet, h.svc.gmailBase+"/gmail/v1/users/me/messages",
		acct.AccessToken, q, nil, &list); err != nil {
		return nil, err
	}

	current := map[string]struct{}{}
	for _, m := range list.Messages {
		current[m.ID] = struct{}{}
	}
	key := ServiceName + ":inbox:" + label + ":" + strings.Join(queryParts, " ") + ":" + itoa(userID)
	previous, warm := h.svc.cache.Previous(key)
	h.svc.cache.Store(key, current)
	if !warm {
		return nil, nil
	}

	for _, m := range list.Messages {
		if _, seen := previous[m.ID]; seen {
			continue
		}
		result, err := h.fetchMessage(ctx, acct.AccessToken, m.ID)
		if err != nil || result == nil {
			return result, err
		}
		// Filter params already narrowed the query; echo them back flat so
		// the condition gate, which matches params_action against the
		// payload, sees them satisfied.
		for _, k := range []string{"from_address", "subject_contains", "label"} {
			if v, ok := params[k]; ok {
				result.Payload[k] = v
			}
		}
		return result, nil
	}
	return nil, nil
}

func (h *newEmailHandler) fetchMessage(ctx context.Context, token, id string) (*registry.ActionResult, error) {
	q := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"From", "To", "Subject", "Date"},
	}
	var msg struct {
		ThreadID string   `json:"threadId"`
		Snippet  string   `json:"snippet"`
		LabelIDs []string `json:"labelIds"`
		Payload  struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	if err := h.svc.do(ctx, http.MethodGet, h.svc.gmailBase+"/gmail/v1/users/me/messages/"+id,
		token, q, nil, &msg); err != nil {
		return nil, err
	}
	hdr := map[string]string{}
	for _, entry := range msg.Payload.Headers {
		hdr[entry.Name] = entry.Value
	}
	labels := make([]any, len(msg.LabelIDs))
	for i, l := range msg.LabelIDs {
		labels[i] = l
	}
	return &registry.ActionResult{
		Triggered: true,
		EventType: "new_email",
		Payload: map[string]any{
			"email": map[string]any{
				"id":       id,
				"threadId": msg.ThreadID,
				"from":     hdr["From"],
				"to":       hdr["To"],
				"subject":  hdr["Subject"],
				"date":     hdr["Date"],
				"snippet":  msg.Snippet,
				"labelIds": labels,
			},
		},
	}, nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
