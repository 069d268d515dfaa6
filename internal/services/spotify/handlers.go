package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"area/internal/registry"
	"area/internal/repo"
)

type playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Tracks      struct {
		Total int `json:"total"`
	} `json:"tracks"`
	ExternalURLs map[string]string `json:"external_urls"`
	Owner        struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
}

// newPlaylistHandler fires when a playlist appears in the user's library
// between two polls.
type newPlaylistHandler struct {
	svc *service
}

func (h *newPlaylistHandler) ServiceName() string { return ServiceName }
func (h *newPlaylistHandler) ActionKey() string   { return "new_playlist_created" }

func (h *newPlaylistHandler) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return registry.ActionResult{Triggered: true, EventType: "new_playlist_created", Payload: payload}
}

func (h *newPlaylistHandler) Poll(ctx context.Context, store registry.Store, userID int64, params map[string]any) (*registry.ActionResult, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []playlist `json:"items"`
	}
	if err := h.svc.get(ctx, "/v1/me/playlists", acct.AccessToken, url.Values{"limit": {"50"}}, &page); err != nil {
		return nil, err
	}
	current := map[string]struct{}{}
	for _, p := range page.Items {
		current[p.ID] = struct{}{}
	}
	added, warm := h.svc.diff(cacheKey("playlists", userID), current)
	if !warm || len(added) == 0 {
		return nil, nil
	}
	for _, p := range page.Items {
		if _, ok := added[p.ID]; !ok {
			continue
		}
		return &registry.ActionResult{
			Triggered: true,
			EventType: "new_playlist_created",
			Payload: map[string]any{
				"playlist": map[string]any{
					"id":           p.ID,
					"name":         p.Name,
					"description":  p.Description,
					"public":       p.Public,
					"tracks_total": float64(p.Tracks.Total),
					"url":          p.ExternalURLs["spotify"],
					"owner":        p.Owner.DisplayName,
				},
				"playlist_id": p.ID,
			},
		}, nil
	}
	return nil, nil
}

type playlistTrack struct {
	AddedAt string `json:"added_at"`
	Track   *struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		URI     string `json:"uri"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
		ExternalURLs map[string]string `json:"external_urls"`
	} `json:"track"`
}

// trackAddedHandler fires when a track is added to a playlist. With a
// playlist_id parameter only that playlist is watched; otherwise the user's
// first page of playlists is scanned.
type trackAddedHandler struct {
	svc *service
}

func (h *trackAddedHandler) ServiceName() string { return ServiceName }
func (h *trackAddedHandler) ActionKey() string   { return "track_added_to_playlist" }

func (h *trackAddedHandler) ParsePayload(payload map[string]any, headers http.Header) registry.ActionResult {
	return registry.ActionResult{Triggered: true, EventType: "track_added_to_playlist", Payload: payload}
}

func (h *trackAddedHandler) Poll(ctx context.Context, store registry.Store, userID int64, params map[string]any) (*registry.ActionResult, error) {
	acct, err := store.ServiceAccount(ctx, userID, ServiceName)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var playlistIDs []string
	if target, _ := params["playlist_id"].(string); strings.TrimSpace(target) != "" {
		playlistIDs = []string{strings.TrimSpace(target)}
	} else {
		var page struct {
			Items []playlist `json:"items"`
		}
		if err := h.svc.get(ctx, "/v1/me/playlists", acct.AccessToken, url.Values{"limit": {"20"}}, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Items {
			playlistIDs = append(playlistIDs, p.ID)
		}
	}

	for _, id := range playlistIDs {
		result, err := h.checkPlaylist(ctx, acct.AccessToken, userID, id)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

func (h *trackAddedHandler) checkPlaylist(ctx context.Context, token string, userID int64, playlistID string) (*registry.ActionResult, error) {
	q := url.Values{
		"limit":  {"20"},
		"fields": {"items(added_at,track(id,name,artists,album,uri,external_urls))"},
	}
	var page struct {
		Items []playlistTrack `json:"items"`
	}
	if err := h.svc.get(ctx, "/v1/playlists/"+playlistID+"/tracks", token, q, &page); err != nil {
		return nil, err
	}
	current := map[string]struct{}{}
	for _, item := range page.Items {
		if item.Track != nil {
			current[item.Track.ID] = struct{}{}
		}
	}
	added, warm := h.svc.diff(cacheKey("tracks", userID, playlistID), current)
	if !warm || len(added) == 0 {
		return nil, nil
	}
	for _, item := range page.Items {
		track := item.Track
		if track == nil {
			continue
		}
		if _, ok := added[track.ID]; !ok {
			continue
		}
		names := make([]string, len(track.Artists))
		for i, a := range track.Artists {
			names[i] = a.Name
		}
		return &registry.ActionResult{
			Triggered: true,
			EventType: "track_added_to_playlist",
			Payload: map[string]any{
				"track": map[string]any{
					"id":      track.ID,
					"name":    track.Name,
					"artists": strings.Join(names, ", "),
					"album":   track.Album.Name,
					"uri":     track.URI,
					"url":     track.ExternalURLs["spotify"],
				},
				"playlist":    map[string]any{"id": playlistID},
				"playlist_id": playlistID,
				"added_at":    item.AddedAt,
			},
		}, nil
	}
	return nil, nil
}
