package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"area/internal/domain"
	"area/internal/registry"
	"area/internal/repo"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	h := http.Header{}
	h.Set("X-Hub-Signature-256", sign(body, "s3cret"))

	if !VerifySignature(body, h, "s3cret") {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(body, h, "wrong") {
		t.Fatal("invalid signature accepted")
	}
	if VerifySignature(body, http.Header{}, "s3cret") {
		t.Fatal("unsigned delivery accepted despite configured secret")
	}
	if !VerifySignature(body, http.Header{}, "") {
		t.Fatal("delivery rejected with no secret configured")
	}
}

func TestNewIssueParseGating(t *testing.T) {
	var handler registry.EventHandler
	for _, h := range handlers(newService(Options{})) {
		if h.ActionKey() == "new_issue" {
			handler = h
		}
	}
	if handler == nil {
		t.Fatal("new_issue handler not registered")
	}

	opened := map[string]any{
		"action": "opened",
		"issue": map[string]any{
			"number":   float64(7),
			"title":    "Bug",
			"html_url": "https://github.com/o/r/issues/7",
			"user":     map[string]any{"login": "alice"},
		},
		"repository": map[string]any{"full_name": "o/r", "name": "r"},
		"sender":     map[string]any{"login": "alice"},
	}
	res := handler.ParsePayload(opened, http.Header{})
	if !res.Triggered {
		t.Fatal("opened issue did not trigger")
	}
	issue := res.Payload["issue"].(map[string]any)
	if issue["title"] != "Bug" || issue["number"] != float64(7) {
		t.Fatalf("unexpected issue payload %v", issue)
	}
	if res.Payload["repository"] != "o/r" {
		t.Fatalf("unexpected repository payload %v", res.Payload["repository"])
	}

	opened["action"] = "closed"
	if res := handler.ParsePayload(opened, http.Header{}); res.Triggered {
		t.Fatal("closed issue should not trigger")
	}
}

func TestPushParseBranch(t *testing.T) {
	var handler registry.EventHandler
	for _, h := range handlers(newService(Options{})) {
		if h.ActionKey() == "push" {
			handler = h
		}
	}
	raw := map[string]any{
		"ref":        "refs/heads/feature/x",
		"repository": map[string]any{"full_name": "o/r", "name": "r"},
		"commits":    []any{map[string]any{}, map[string]any{}},
	}
	res := handler.ParsePayload(raw, http.Header{})
	if !res.Triggered {
		t.Fatal("push did not trigger")
	}
	if res.Payload["branch"] != "feature/x" {
		t.Fatalf("branch = %v", res.Payload["branch"])
	}
	if res.Payload["commits_count"] != float64(2) {
		t.Fatalf("commits_count = %v", res.Payload["commits_count"])
	}
}

type stubStore struct {
	accounts map[int64]domain.ServiceAccount
}

func (s stubStore) ServiceAccount(ctx context.Context, userID int64, serviceName string) (domain.ServiceAccount, error) {
	acct, ok := s.accounts[userID]
	if !ok {
		return domain.ServiceAccount{}, repo.ErrNotFound
	}
	return acct, nil
}

func TestCreateIssueExecutor(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/o/r/issues" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":1}`))
	}))
	defer srv.Close()

	svc := newService(Options{APIBase: srv.URL})
	store := stubStore{accounts: map[int64]domain.ServiceAccount{42: {AccessToken: "tok"}}}
	err := createIssue{svc}.Execute(context.Background(), store, 42, map[string]any{
		"repository": "o/r",
		"title":      "New: Bug",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got["title"] != "New: Bug" {
		t.Fatalf("issue title = %v", got["title"])
	}
	if auth != "Bearer tok" {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestCreateIssueMissingParams(t *testing.T) {
	svc := newService(Options{APIBase: "http://unreachable.invalid"})
	store := stubStore{accounts: map[int64]domain.ServiceAccount{42: {AccessToken: "tok"}}}
	err := createIssue{svc}.Execute(context.Background(), store, 42, map[string]any{"title": "x"})
	var se *registry.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("want 400 StatusError, got %v", err)
	}
}

func TestExecutorUnconnectedUser(t *testing.T) {
	svc := newService(Options{APIBase: "http://unreachable.invalid"})
	err := createIssue{svc}.Execute(context.Background(), stubStore{}, 1, map[string]any{
		"repository": "o/r", "title": "x",
	})
	var se *registry.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 StatusError, got %v", err)
	}
}

func TestUpstreamFailureCodePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	svc := newService(Options{APIBase: srv.URL})
	store := stubStore{accounts: map[int64]domain.ServiceAccount{42: {AccessToken: "tok"}}}
	err := createIssue{svc}.Execute(context.Background(), store, 42, map[string]any{
		"repository": "o/r", "title": "x",
	})
	var se *registry.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("want 403 StatusError, got %v", err)
	}
}
