package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"area/internal/catalog"
	"area/internal/config"
	"area/internal/db"
	"area/internal/domain"
	"area/internal/engine"
	"area/internal/migrate"
	"area/internal/registry"
	"area/internal/server"
	"area/internal/services/github"
)

type testEnv struct {
	TS     *httptest.Server
	Engine engine.Engine
}

// newTestEnv stands up the full API over a temp sqlite database with the
// GitHub integration pointed at githubAPI (usually another httptest server).
func newTestEnv(t *testing.T, githubAPI string) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default()
	reg := registry.New()
	github.Register(reg, github.Options{
		APIBase:     githubAPI,
		CallbackURL: cfg.HTTP.BaseURL + "/webhooks/github",
	})
	eng := engine.New(conn, cfg, reg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := catalog.Sync(ctx, eng.Repo, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}

	handler, err := server.New(server.Config{Engine: eng, Auth: server.AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return testEnv{TS: ts, Engine: eng}
}

func (env testEnv) request(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, env.TS.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func (env testEnv) login(t *testing.T, userID int64) string {
	t.Helper()
	status, body := env.request(t, http.MethodPost, "/v1/auth/dev/login", "", map[string]any{"user_id": userID})
	if status != http.StatusOK {
		t.Fatalf("dev login status = %d, body %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("dev login returned no token: %v", body)
	}
	return token
}

func (env testEnv) githubIDs(t *testing.T, actionName, reactionName string) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	svc, err := env.Engine.Repo.GetServiceByName(ctx, "github")
	if err != nil {
		t.Fatalf("github service: %v", err)
	}
	actions, err := env.Engine.Repo.ListActionsByService(ctx, svc.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	reactions, err := env.Engine.Repo.ListReactionsByService(ctx, svc.ID)
	if err != nil {
		t.Fatalf("list reactions: %v", err)
	}
	var actionID, reactionID int64
	for _, a := range actions {
		if a.Name == actionName {
			actionID = a.ID
		}
	}
	for _, re := range reactions {
		if re.Name == reactionName {
			reactionID = re.ID
		}
	}
	if actionID == 0 || reactionID == 0 {
		t.Fatalf("catalog missing %q or %q", actionName, reactionName)
	}
	return actionID, reactionID
}

func (env testEnv) connectGithub(t *testing.T, userID int64, token string) {
	t.Helper()
	ctx := context.Background()
	svc, err := env.Engine.Repo.GetServiceByName(ctx, "github")
	if err != nil {
		t.Fatalf("github service: %v", err)
	}
	if _, err := env.Engine.Repo.InsertServiceAccount(ctx, domain.ServiceAccount{
		UserID:      userID,
		ServiceID:   svc.ID,
		AccessToken: token,
		TokenType:   "bearer",
		IsActive:    true,
	}); err != nil {
		t.Fatalf("connect account: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	status, body := env.request(t, http.MethodGet, "/v1/areas", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (%v)", status, body)
	}
	status, _ = env.request(t, http.MethodGet, "/v1/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d, want 200 without auth", status)
	}
}

func TestAreaLifecycle(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	token := env.login(t, 42)
	actionID, reactionID := env.githubIDs(t, "GitHub - New Issue", "GitHub - Create Issue")

	status, created := env.request(t, http.MethodPost, "/v1/areas", token, map[string]any{
		"name":            "bug mirror",
		"action_id":       actionID,
		"reaction_id":     reactionID,
		"params_reaction": map[string]any{"repository": "o/r", "title": "New: {{issue.title}}"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", status, created)
	}
	areaID := int64(created["id"].(float64))
	if created["is_active"] != true {
		t.Fatalf("new area not active: %v", created)
	}

	status, got := env.request(t, http.MethodGet, "/v1/areas/"+itoa(areaID), token, nil)
	if status != http.StatusOK || got["name"] != "bug mirror" {
		t.Fatalf("get = %d %v", status, got)
	}

	status, patched := env.request(t, http.MethodPatch, "/v1/areas/"+itoa(areaID), token, map[string]any{"is_active": false})
	if status != http.StatusOK || patched["is_active"] != false {
		t.Fatalf("disable = %d %v", status, patched)
	}
	// Disabling again is a no-op.
	status, patched = env.request(t, http.MethodPatch, "/v1/areas/"+itoa(areaID), token, map[string]any{"is_active": false})
	if status != http.StatusOK || patched["is_active"] != false {
		t.Fatalf("repeat disable = %d %v", status, patched)
	}

	status, _ = env.request(t, http.MethodDelete, "/v1/areas/"+itoa(areaID), token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	status, _ = env.request(t, http.MethodGet, "/v1/areas/"+itoa(areaID), token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", status)
	}
}

func TestAreaOwnershipHiddenAsNotFound(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	owner := env.login(t, 1)
	stranger := env.login(t, 2)
	actionID, reactionID := env.githubIDs(t, "GitHub - New Issue", "GitHub - Create Issue")

	status, created := env.request(t, http.MethodPost, "/v1/areas", owner, map[string]any{
		"action_id":   actionID,
		"reaction_id": reactionID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	areaID := int64(created["id"].(float64))

	status, _ = env.request(t, http.MethodGet, "/v1/areas/"+itoa(areaID), stranger, nil)
	if status != http.StatusNotFound {
		t.Fatalf("stranger get = %d, want 404", status)
	}
}

func TestCreateAreaValidation(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	token := env.login(t, 42)

	status, _ := env.request(t, http.MethodPost, "/v1/areas", token, map[string]any{"reaction_id": 1})
	if status != http.StatusBadRequest {
		t.Fatalf("missing action_id = %d, want 400", status)
	}
	status, _ = env.request(t, http.MethodPost, "/v1/areas", token, map[string]any{"action_id": 99999, "reaction_id": 99999})
	if status != http.StatusNotFound {
		t.Fatalf("dangling ids = %d, want 404", status)
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	var issued map[string]any
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/repos/o/r/issues" {
			json.NewDecoder(r.Body).Decode(&issued)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"number":2}`))
			return
		}
		// Remote webhook setup calls during area creation are irrelevant here.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer gh.Close()

	env := newTestEnv(t, gh.URL)
	token := env.login(t, 42)
	env.connectGithub(t, 42, "gh-token")
	actionID, reactionID := env.githubIDs(t, "GitHub - New Issue", "GitHub - Create Issue")

	status, _ := env.request(t, http.MethodPost, "/v1/areas", token, map[string]any{
		"action_id":       actionID,
		"reaction_id":     reactionID,
		"params_reaction": map[string]any{"repository": "o/r", "title": "New: {{issue.title}}"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create area status = %d", status)
	}

	delivery, _ := json.Marshal(map[string]any{
		"action": "opened",
		"issue": map[string]any{
			"number":   1,
			"title":    "Bug",
			"html_url": "https://github.com/o/r/issues/1",
			"user":     map[string]any{"login": "alice"},
		},
		"repository": map[string]any{"full_name": "o/r", "name": "r"},
		"sender":     map[string]any{"login": "alice"},
	})
	req, _ := http.NewRequest(http.MethodPost, env.TS.URL+"/webhooks/github", bytes.NewReader(delivery))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "issues")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("deliver webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", resp.StatusCode)
	}
	var receipt map[string]any
	json.NewDecoder(resp.Body).Decode(&receipt)
	if receipt["handlers_triggered"] != float64(1) {
		t.Fatalf("receipt = %v", receipt)
	}
	if issued == nil || issued["title"] != "New: Bug" {
		t.Fatalf("executor call = %v, want title New: Bug", issued)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	env.Engine.Config.Webhooks["github"] = config.WebhookConfig{Secret: "s3cret"}

	req, _ := http.NewRequest(http.MethodPost, env.TS.URL+"/webhooks/github", bytes.NewReader([]byte(`{"action":"opened"}`)))
	req.Header.Set("X-GitHub-Event", "issues")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("deliver webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebhookChallengeEcho(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	status, body := env.request(t, http.MethodGet, "/webhooks/github?challenge=abc", "", nil)
	if status != http.StatusOK || body["challenge"] != "abc" {
		t.Fatalf("challenge echo = %d %v", status, body)
	}
}

func TestListServicesCatalog(t *testing.T) {
	env := newTestEnv(t, "http://unreachable.invalid")
	token := env.login(t, 42)
	req, _ := http.NewRequest(http.MethodGet, env.TS.URL+"/v1/services", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	defer resp.Body.Close()
	var services []map[string]any
	json.NewDecoder(resp.Body).Decode(&services)
	if len(services) != 5 {
		t.Fatalf("services = %d, want 5", len(services))
	}
	byName := map[string]map[string]any{}
	for _, s := range services {
		byName[s["name"].(string)] = s
	}
	ghActions := byName["github"]["actions"].([]any)
	if len(ghActions) != 6 {
		t.Fatalf("github actions = %d, want 6", len(ghActions))
	}
	first := ghActions[0].(map[string]any)
	if first["technical_key"] == "" {
		t.Fatalf("action missing technical key: %v", first)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
