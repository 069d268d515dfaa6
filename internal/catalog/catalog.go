// Package catalog seeds the built-in services with their actions and
// reactions. Sync is idempotent so it can run on every server start.
package catalog

import (
	"context"
	"errors"

	"area/internal/domain"
	"area/internal/repo"
)

type actionDef struct {
	name        string
	description string
	polling     bool
}

type reactionDef struct {
	name        string
	description string
}

type serviceDef struct {
	name        string
	displayName string
	description string
	actions     []actionDef
	reactions   []reactionDef
}

// Display names carry the "<Service> - <Action>" prefix convention; the
// technical key used for registry lookups is derived from the part after
// the dash.
var builtin = []serviceDef{
	{
		name:        "github",
		displayName: "GitHub",
		description: "GitHub repositories: webhook triggers and issue automation",
		actions: []actionDef{
			{name: "GitHub - New Issue", description: "An issue is opened on a watched repository"},
			{name: "GitHub - New Pull Request", description: "A pull request is opened"},
			{name: "GitHub - New Star", description: "Someone stars the repository"},
			{name: "GitHub - Push", description: "Commits are pushed to any branch"},
			{name: "GitHub - Issue Comment", description: "A comment is added to an issue"},
			{name: "GitHub - Pull Request Review", description: "A review is submitted on a pull request"},
		},
		reactions: []reactionDef{
			{name: "GitHub - Create Issue", description: "Open an issue on a repository"},
			{name: "GitHub - Add Comment", description: "Comment on an existing issue"},
			{name: "GitHub - Create Branch", description: "Create a branch from an existing ref"},
		},
	},
	{
		name:        "trello",
		displayName: "Trello",
		description: "Trello boards: card webhooks and board automation",
		actions: []actionDef{
			{name: "Trello - New Card", description: "A card is created on a watched board"},
		},
		reactions: []reactionDef{
			{name: "Trello - Create Card", description: "Create a card in a list"},
			{name: "Trello - Add Comment", description: "Comment on a card"},
			{name: "Trello - Update Board Title", description: "Rename a board"},
			{name: "Trello - Move Card", description: "Move a card to another list"},
		},
	},
	{
		name:        "spotify",
		displayName: "Spotify",
		description: "Spotify library changes, observed by polling",
		actions: []actionDef{
			{name: "Spotify - New Playlist Created", description: "A playlist appears in the user's library", polling: true},
			{name: "Spotify - Track Added To Playlist", description: "A track is added to a watched playlist", polling: true},
		},
	},
	{
		name:        "google",
		displayName: "Google",
		description: "Gmail, Drive and Calendar",
		actions: []actionDef{
			{name: "Google - New Email", description: "An unread email arrives in the inbox", polling: true},
		},
		reactions: []reactionDef{
			{name: "Google - Send Email", description: "Send an email through Gmail"},
			{name: "Google - Create Folder", description: "Create a Drive folder"},
			{name: "Google - Create Event", description: "Create a Calendar event"},
		},
	},
	{
		name:        "timer",
		displayName: "Timer",
		description: "Time-based triggers, no external account needed",
		actions: []actionDef{
			{name: "Timer - Every X Minutes", description: "Fires on a fixed interval"},
			{name: "Timer - At Specific Time", description: "Fires daily at a wall-clock time"},
		},
	},
}

// Sync upserts the built-in catalog. Existing rows are matched by service
// name and display name and left untouched, so user-created areas keep their
// foreign keys across restarts.
func Sync(ctx context.Context, r repo.Repo, now string) error {
	for _, def := range builtin {
		svcID, err := ensureService(ctx, r, def, now)
		if err != nil {
			return err
		}
		existing, err := r.ListActionsByService(ctx, svcID)
		if err != nil {
			return err
		}
		haveAction := map[string]bool{}
		for _, a := range existing {
			haveAction[a.Name] = true
		}
		for _, a := range def.actions {
			if haveAction[a.name] {
				continue
			}
			_, err := r.InsertAction(ctx, domain.Action{
				ServiceID:   svcID,
				Name:        a.name,
				Description: a.description,
				IsPolling:   a.polling,
				IsActive:    true,
			})
			if err != nil {
				return err
			}
		}
		reactions, err := r.ListReactionsByService(ctx, svcID)
		if err != nil {
			return err
		}
		haveReaction := map[string]bool{}
		for _, re := range reactions {
			haveReaction[re.Name] = true
		}
		for _, re := range def.reactions {
			if haveReaction[re.name] {
				continue
			}
			_, err := r.InsertReaction(ctx, domain.Reaction{
				ServiceID:   svcID,
				Name:        re.name,
				Description: re.description,
				IsActive:    true,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureService(ctx context.Context, r repo.Repo, def serviceDef, now string) (int64, error) {
	svc, err := r.GetServiceByName(ctx, def.name)
	if err == nil {
		return svc.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}
	return r.InsertService(ctx, domain.Service{
		Name:        def.name,
		DisplayName: def.displayName,
		Description: def.description,
		IsActive:    true,
		CreatedAt:   now,
	})
}
