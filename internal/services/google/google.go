// Package google provides the Google integration: Gmail, Drive and Calendar
// executors plus a Gmail inbox polling trigger. Google splits its API across
// per-product hosts, so the service carries one base URL per product.
package google

import (
	"bytes"
	"context"
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

const ServiceName = "google"

type Options struct {
	GmailBase    string
	DriveBase    string
	CalendarBase string
	HTTPClient   *http.Client
	Cache        registry.StateCache
}

type service struct {
	gmailBase    string
	driveBase    string
	calendarBase string
	http         *http.Client
	cache        registry.StateCache
}

func newService(opts Options) *service {
	s := &service{
		gmailBase:    opts.GmailBase,
		driveBase:    opts.DriveBase,
		calendarBase: opts.CalendarBase,
		http:         opts.HTTPClient,
		cache:        opts.Cache,
	}
	if s.gmailBase == "" {
		s.gmailBase = "https://gmail.googleapis.com"
	}
	if s.driveBase == "" {
		s.driveBase = "https://www.googleapis.com"
	}
	if s.calendarBase == "" {
		s.calendarBase = "https://www.googleapis.com"
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 30 * time.Second}
	}
	if s.cache == nil {
		s.cache = registry.NewMemoryStateCache()
	}
	return s
}

func Register(reg *registry.Registry, opts Options) {
	svc := newService(opts)
	reg.RegisterHandler(&newEmailHandler{svc})
	reg.RegisterExecutor(ServiceName, "send_email", sendEmail{svc})
	reg.RegisterExecutor(ServiceName, "create_folder", createFolder{svc})
	reg.RegisterExecutor(ServiceName, "create_event", createEvent{svc})
}

func (s *service) do(ctx context.Context, method, rawURL, token string, q url.Values, body, out any) error {
	if len(q) > 0 {
		rawURL += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return registry.NewStatusError(http.StatusGatewayTimeout, "google api timeout")
		}
		return registry.NewStatusError(http.StatusInternalServerError, "google network error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return registry.NewStatusError(http.StatusUnauthorized, "google token expired or revoked")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return registry.NewStatusError(resp.StatusCode, "google api error: %s", msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func account(ctx context.Context, store registry.Store, userID int64) (domain.ServiceAccount, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		return acct, registry.NewStatusError(http.StatusForbidden, "user %d not connected to google", userID)
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
