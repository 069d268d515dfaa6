// Package trello provides the Trello integration: board webhooks and card
// automation executors. Trello authenticates calls with an application key
// plus a per-user token passed as query parameters.
package trello

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"area/internal/domain"
	"area/internal/registry"
	"area/internal/repo"
)

const ServiceName = "trello"

type Options struct {
	APIBase     string
	CallbackURL string
	APIKey      string
	HTTPClient  *http.Client
}

type service struct {
	apiBase  string
	callback string
	apiKey   string
	http     *http.Client
}

func newService(opts Options) *service {
	s := &service{
		apiBase:  opts.APIBase,
		callback: opts.CallbackURL,
		apiKey:   opts.APIKey,
		http:     opts.HTTPClient,
	}
	if s.apiBase == "" {
		s.apiBase = "https://api.trello.com"
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 30 * time.Second}
	}
	return s
}

func Register(reg *registry.Registry, opts Options) {
	svc := newService(opts)
	reg.RegisterHandler(&newCardHandler{svc})
	reg.RegisterExecutor(ServiceName, "create_card", createCard{svc})
	reg.RegisterExecutor(ServiceName, "add_comment", addComment{svc})
	reg.RegisterExecutor(ServiceName, "update_board_title", updateBoardTitle{svc})
	reg.RegisterExecutor(ServiceName, "move_card", moveCard{svc})
}

// verifySignature checks the X-Trello-Webhook header: base64 HMAC-SHA1 over
// the raw body concatenated with the callback URL the hook was registered
// with.
func verifySignature(body []byte, headers http.Header, secret, callbackURL string) bool {
	sig := headers.Get("X-Trello-Webhook")
	if secret == "" {
		return true
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// do performs one API call. Credentials travel in the query string; Trello
// has no request-body auth.
func (s *service) do(ctx context.Context, method, path, token string, q url.Values, out any) error {
	if s.apiKey == "" {
		return registry.NewStatusError(http.StatusForbidden, "trello api key not configured")
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", s.apiKey)
	q.Set("token", token)
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return registry.NewStatusError(http.StatusGatewayTimeout, "trello api timeout")
		}
		return registry.NewStatusError(http.StatusInternalServerError, "trello network error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return registry.NewStatusError(resp.StatusCode, "trello api error: %s", msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func account(ctx context.Context, store registry.Store, userID int64) (domain.ServiceAccount, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		return acct, registry.NewStatusError(http.StatusForbidden, "user %d not connected to trello", userID)
	}
	return acct, err
}

func requireString(params map[string]any, key string) (string, error) {
	v, _ := params[key].(string)
	if v == "" {
		return "", registry.NewStatusError(http.StatusBadRequest, "missing required parameter %q", key)
	}
	return v, nil
}
