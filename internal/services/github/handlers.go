package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"area/internal/domain"
	"area/internal/registry"
)

// webhookHandler is one GitHub trigger: a wire event subscription plus a
// normalizer that turns the raw delivery into the nested payload conditions
// and templates resolve against.
type webhookHandler struct {
	svc    *service
	key    string
	events []string
	parse  func(raw map[string]any) registry.ActionResult
}

func (h *webhookHandler) ServiceName() string     { return ServiceName }
func (h *webhookHandler) ActionKey() string       { return h.key }
func (h *webhookHandler) WebhookEvents() []string { return h.events }

func (h *webhookHandler) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return h.parse(payload)
}

func (h *webhookHandler) VerifySignature(body []byte, headers http.Header, secret string) bool {
	return VerifySignature(body, headers, secret)
}

// SetupWebhook creates a repository hook pointing at the callback URL.
// Idempotent: an existing hook with the same URL is left alone. Requires
// admin permission on the repository.
func (h *webhookHandler) SetupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	repoName, err := requireString(params, "repository")
	if err != nil {
		return err
	}
	var repoInfo struct {
		Permissions map[string]bool `json:"permissions"`
	}
	if err := h.svc.doJSON(ctx, http.MethodGet, "/repos/"+repoName, acct.AccessToken, nil, &repoInfo); err != nil {
		return err
	}
	if !repoInfo.Permissions["admin"] {
		return registry.NewStatusError(http.StatusForbidden, "no admin access to %s", repoName)
	}
	var hooks []struct {
		ID     int64             `json:"id"`
		Config map[string]string `json:"config"`
	}
	if err := h.svc.doJSON(ctx, http.MethodGet, "/repos/"+repoName+"/hooks", acct.AccessToken, nil, &hooks); err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.Config["url"] == h.svc.callback {
			return nil
		}
	}
	body := map[string]any{
		"config": map[string]string{
			"url":          h.svc.callback,
			"content_type": "json",
			"insecure_ssl": "0",
		},
		"events": h.events,
		"active": true,
	}
	return h.svc.doJSON(ctx, http.MethodPost, "/repos/"+repoName+"/hooks", acct.AccessToken, body, nil)
}

// CleanupWebhook removes the hook bound to the callback URL, if any.
func (h *webhookHandler) CleanupWebhook(ctx context.Context, store registry.Store, acct domain.ServiceAccount, params map[string]any) error {
	repoName, err := requireString(params, "repository")
	if err != nil {
		return err
	}
	var hooks []struct {
		ID     int64             `json:"id"`
		Config map[string]string `json:"config"`
	}
	if err := h.svc.doJSON(ctx, http.MethodGet, "/repos/"+repoName+"/hooks", acct.AccessToken, nil, &hooks); err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.Config["url"] == h.svc.callback {
			return h.svc.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/hooks/%d", repoName, hook.ID), acct.AccessToken, nil, nil)
		}
	}
	return nil
}

func handlers(svc *service) []registry.EventHandler {
	return []registry.EventHandler{
		&webhookHandler{svc: svc, key: "push", events: []string{"push"}, parse: parsePush},
		&webhookHandler{svc: svc, key: "new_issue", events: []string{"issues"}, parse: actionGate("opened", "new_issue", parseIssue)},
		&webhookHandler{svc: svc, key: "new_pull_request", events: []string{"pull_request"}, parse: actionGate("opened", "new_pull_request", parsePullRequest)},
		&webhookHandler{svc: svc, key: "new_star", events: []string{"star"}, parse: actionGate("created", "new_star", parseStar)},
		&webhookHandler{svc: svc, key: "issue_comment", events: []string{"issue_comment"}, parse: actionGate("created", "issue_comment", parseIssueComment)},
		&webhookHandler{svc: svc, key: "pull_request_review", events: []string{"pull_request_review"}, parse: actionGate("submitted", "pull_request_review", parseReview)},
	}
}

// actionGate wraps a parser so it only triggers when the delivery's "action"
// field matches; GitHub multiplexes many sub-events per wire event.
func actionGate(want, eventType string, parse func(raw map[string]any) registry.ActionResult) func(map[string]any) registry.ActionResult {
	return func(raw map[string]any) registry.ActionResult {
		if action, _ := raw["action"].(string); action != want {
			return registry.ActionResult{EventType: eventType}
		}
		return parse(raw)
	}
}

func mapAt(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func strAt(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// repoName returns the repository full name. It is emitted flat under the
// "repository" key because the webhook setup param of the same name doubles
// as a rule condition and must compare equal against the payload.
func repoName(raw map[string]any) string {
	return strAt(mapAt(raw, "repository"), "full_name")
}

func shortRepoName(raw map[string]any) string {
	return strAt(mapAt(raw, "repository"), "name")
}

func senderFields(raw map[string]any) map[string]any {
	return map[string]any{"login": strAt(mapAt(raw, "sender"), "login")}
}

func parsePush(raw map[string]any) registry.ActionResult {
	commits, _ := raw["commits"].([]any)
	head := mapAt(raw, "head_commit")
	ref := strAt(raw, "ref")
	return registry.ActionResult{
		Triggered: true,
		EventType: "push",
		Payload: map[string]any{
			"repository":      repoName(raw),
			"repository_name": shortRepoName(raw),
			"pusher": map[string]any{
				"name":  strAt(mapAt(raw, "pusher"), "name"),
				"email": strAt(mapAt(raw, "pusher"), "email"),
			},
			"ref":           ref,
			"branch":        strings.TrimPrefix(ref, "refs/heads/"),
			"commits":       commits,
			"commits_count": float64(len(commits)),
			"head_commit": map[string]any{
				"id":      strAt(head, "id"),
				"message": strAt(head, "message"),
				"url":     strAt(head, "url"),
			},
			"compare": strAt(raw, "compare"),
			"sender":  senderFields(raw),
		},
	}
}

func parseIssue(raw map[string]any) registry.ActionResult {
	issue := mapAt(raw, "issue")
	var labels []any
	if ls, ok := issue["labels"].([]any); ok {
		for _, l := range ls {
			if lm, ok := l.(map[string]any); ok {
				labels = append(labels, strAt(lm, "name"))
			}
		}
	}
	return registry.ActionResult{
		Triggered: true,
		EventType: "new_issue",
		Payload: map[string]any{
			"repository":      repoName(raw),
			"repository_name": shortRepoName(raw),
			"issue": map[string]any{
				"number": issue["number"],
				"title":  strAt(issue, "title"),
				"body":   strAt(issue, "body"),
				"url":    strAt(issue, "html_url"),
				"state":  strAt(issue, "state"),
				"labels": labels,
				"user":   map[string]any{"login": strAt(mapAt(issue, "user"), "login")},
			},
			"sender": senderFields(raw),
		},
	}
}

func parsePullRequest(raw map[string]any) registry.ActionResult {
	pr := mapAt(raw, "pull_request")
	draft, _ := pr["draft"].(bool)
	return registry.ActionResult{
		Triggered: true,
		EventType: "new_pull_request",
		Payload: map[string]any{
			"repository":      repoName(raw),
			"repository_name": shortRepoName(raw),
			"pull_request": map[string]any{
				"number": pr["number"],
				"title":  strAt(pr, "title"),
				"body":   strAt(pr, "body"),
				"url":    strAt(pr, "html_url"),
				"state":  strAt(pr, "state"),
				"head":   map[string]any{"ref": strAt(mapAt(pr, "head"), "ref")},
				"base":   map[string]any{"ref": strAt(mapAt(pr, "base"), "ref")},
				"user":   map[string]any{"login": strAt(mapAt(pr, "user"), "login")},
				"draft":  draft,
			},
			"sender": senderFields(raw),
		},
	}
}

func parseStar(raw map[string]any) registry.ActionResult {
	r := mapAt(raw, "repository")
	payload := map[string]any{
		"repository":       repoName(raw),
		"repository_name":  shortRepoName(raw),
		"stargazers_count": r["stargazers_count"],
		"starred_at":       strAt(raw, "starred_at"),
		"sender":           senderFields(raw),
	}
	return registry.ActionResult{Triggered: true, EventType: "new_star", Payload: payload}
}

func parseIssueComment(raw map[string]any) registry.ActionResult {
	issue := mapAt(raw, "issue")
	comment := mapAt(raw, "comment")
	return registry.ActionResult{
		Triggered: true,
		EventType: "issue_comment",
		Payload: map[string]any{
			"repository":      repoName(raw),
			"repository_name": shortRepoName(raw),
			"issue": map[string]any{
				"number": issue["number"],
				"title":  strAt(issue, "title"),
				"url":    strAt(issue, "html_url"),
			},
			"comment": map[string]any{
				"body": strAt(comment, "body"),
				"url":  strAt(comment, "html_url"),
				"user": map[string]any{"login": strAt(mapAt(comment, "user"), "login")},
			},
			"sender": senderFields(raw),
		},
	}
}

func parseReview(raw map[string]any) registry.ActionResult {
	pr := mapAt(raw, "pull_request")
	review := mapAt(raw, "review")
	return registry.ActionResult{
		Triggered: true,
		EventType: "pull_request_review",
		Payload: map[string]any{
			"repository":      repoName(raw),
			"repository_name": shortRepoName(raw),
			"pull_request": map[string]any{
				"number": pr["number"],
				"title":  strAt(pr, "title"),
				"url":    strAt(pr, "html_url"),
			},
			"review": map[string]any{
				"body":  strAt(review, "body"),
				"state": strAt(review, "state"),
				"url":   strAt(review, "html_url"),
				"user":  map[string]any{"login": strAt(mapAt(review, "user"), "login")},
			},
			"sender": senderFields(raw),
		},
	}
}
