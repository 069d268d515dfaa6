// Package github provides the GitHub integration: webhook-driven trigger
// handlers and REST executors for issue and branch automation.
package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"area/internal/domain"
	"area/internal/registry"
	"area/internal/repo"
)

const ServiceName = "github"

// Options configures the integration. APIBase is overridable so tests can
// point executors at a local server.
type Options struct {
	APIBase     string
	CallbackURL string
	HTTPClient  *http.Client
}

type service struct {
	apiBase  string
	callback string
	http     *http.Client
}

func newService(opts Options) *service {
	s := &service{
		apiBase:  opts.APIBase,
		callback: opts.CallbackURL,
		http:     opts.HTTPClient,
	}
	if s.apiBase == "" {
		s.apiBase = "https://api.github.com"
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 30 * time.Second}
	}
	return s
}

// Register wires all GitHub handlers and executors into the registry.
func Register(reg *registry.Registry, opts Options) {
	svc := newService(opts)
	for _, h := range handlers(svc) {
		reg.RegisterHandler(h)
	}
	reg.RegisterExecutor(ServiceName, "create_issue", createIssue{svc})
	reg.RegisterExecutor(ServiceName, "add_comment", addComment{svc})
	reg.RegisterExecutor(ServiceName, "create_branch", createBranch{svc})
}

// VerifySignature checks the X-Hub-Signature-256 header: hex HMAC-SHA256 of
// the raw body, prefixed "sha256=". With no configured secret every delivery
// passes; with a secret an unsigned delivery fails.
func VerifySignature(body []byte, headers http.Header, secret string) bool {
	sig := headers.Get("X-Hub-Signature-256")
	if secret == "" {
		return true
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *service) headers(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "area-app")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// doJSON performs one API call and decodes the response into out when
// non-nil. Timeouts map to 504, transport failures to 500, API rejections to
// their upstream status code.
func (s *service) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, rd)
	if err != nil {
		return err
	}
	s.headers(req, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return registry.NewStatusError(http.StatusGatewayTimeout, "github api timeout")
		}
		return registry.NewStatusError(http.StatusInternalServerError, "github network error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return registry.NewStatusError(resp.StatusCode, "github api error: %s", msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// account resolves the caller's GitHub credential. A missing grant is an
// authorization failure, not an internal error.
func account(ctx context.Context, store registry.Store, userID int64) (domain.ServiceAccount, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		return acct, registry.NewStatusError(http.StatusUnauthorized, "user %d not connected to github", userID)
	}
	if err != nil {
		return acct, err
	}
	return acct, nil
}

func requireString(params map[string]any, key string) (string, error) {
	v, _ := params[key].(string)
	if v == "" {
		return "", registry.NewStatusError(http.StatusBadRequest, "missing required parameter %q", key)
	}
	return v, nil
}

func optionalString(params map[string]any, key, fallback string) string {
	if v, _ := params[key].(string); v != "" {
		return v
	}
	return fallback
}
