// Package spotify provides the Spotify integration. Spotify has no webhook
// API, so both triggers are polling handlers that diff the user's library
// against the previous observation.
//
// The diff state lives in an injected StateCache. The default cache is
// process-local, so the first poll after a restart only records a baseline
// and never fires; stale additions are deliberately swallowed instead of
// replayed.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"area/internal/registry"
)

const ServiceName = "spotify"

type Options struct {
	APIBase    string
	HTTPClient *http.Client
	Cache      registry.StateCache
}

type service struct {
	apiBase string
	http    *http.Client
	cache   registry.StateCache
}

func newService(opts Options) *service {
	s := &service{
		apiBase: opts.APIBase,
		http:    opts.HTTPClient,
		cache:   opts.Cache,
	}
	if s.apiBase == "" {
		s.apiBase = "https://api.spotify.com"
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
	reg.RegisterHandler(&newPlaylistHandler{svc})
	reg.RegisterHandler(&trackAddedHandler{svc})
}

func (s *service) get(ctx context.Context, path, token string, q url.Values, out any) error {
	u := s.apiBase + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.http.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return registry.NewStatusError(http.StatusGatewayTimeout, "spotify api timeout")
		}
		return registry.NewStatusError(http.StatusInternalServerError, "spotify network error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return registry.NewStatusError(resp.StatusCode, "spotify api error: %s", msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// diff updates the cache under key with current and reports which members
// are new. A cold cache records the baseline and reports nothing.
func (s *service) diff(key string, current map[string]struct{}) (added map[string]struct{}, warm bool) {
	previous, ok := s.cache.Previous(key)
	s.cache.Store(key, current)
	if !ok || len(previous) == 0 {
		return nil, false
	}
	added = map[string]struct{}{}
	for id := range current {
		if _, seen := previous[id]; !seen {
			added[id] = struct{}{}
		}
	}
	return added, true
}

func cacheKey(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	return ServiceName + ":" + strings.Join(strs, ":")
}
